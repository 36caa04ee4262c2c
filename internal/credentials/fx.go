package credentials

import (
	"github.com/baridihq/baridi/internal/credentials/repository"
	"github.com/baridihq/baridi/internal/credentials/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credentials.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
