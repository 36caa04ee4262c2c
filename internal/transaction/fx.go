package transaction

import (
	"github.com/baridihq/baridi/internal/transaction/repository"
	"github.com/baridihq/baridi/internal/transaction/service"
	"go.uber.org/fx"
)

var Module = fx.Module("transaction.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
