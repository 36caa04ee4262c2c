package gateway

import (
	"github.com/baridihq/baridi/internal/config"
	"github.com/baridihq/baridi/internal/gateway/daraja"
	"github.com/baridihq/baridi/internal/gateway/service"
	"github.com/baridihq/baridi/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func provideClient(cfg config.Config, log *zap.Logger, m *metrics.Metrics) *daraja.Client {
	return daraja.NewClient(daraja.Config{
		SandboxBaseURL:    cfg.Daraja.SandboxBaseURL,
		ProductionBaseURL: cfg.Daraja.ProductionBaseURL,
		CallbackURL:       cfg.Daraja.CallbackURL,
		TokenTimeout:      cfg.Daraja.TokenTimeout,
		PushTimeout:       cfg.Daraja.PushTimeout,
	}, log, m)
}

func provideCallbackURL(cfg config.Config) string {
	return cfg.Daraja.CallbackURL
}

var Module = fx.Module("gateway.service",
	fx.Provide(provideClient),
	fx.Provide(fx.Annotate(provideCallbackURL, fx.ResultTags(`name:"daraja_callback_url"`))),
	fx.Provide(service.NewService),
)
