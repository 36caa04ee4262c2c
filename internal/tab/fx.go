package tab

import (
	"github.com/baridihq/baridi/internal/tab/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("tab",
	fx.Provide(repository.Provide),
)
