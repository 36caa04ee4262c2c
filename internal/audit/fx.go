package audit

import (
	"github.com/baridihq/baridi/internal/audit/repository"
	"github.com/baridihq/baridi/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
