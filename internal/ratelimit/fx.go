package ratelimit

import (
	"github.com/baridihq/baridi/internal/config"
	"github.com/baridihq/baridi/internal/ratelimit/domain"
	"github.com/baridihq/baridi/internal/ratelimit/repository"
	"github.com/baridihq/baridi/internal/ratelimit/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

func provideScorer(cfg config.Config) domain.Scorer {
	return domain.NewWeightedScorer(domain.Weights{
		FailedFree:       cfg.RateLimit.FailedFree,
		FailedWeight:     cfg.RateLimit.FailedWeight,
		PhoneReuseMax:    cfg.RateLimit.PhoneReuseMax,
		PhoneReuseWeight: cfg.RateLimit.PhoneReuseWeight,
		IPReuseMax:       cfg.RateLimit.IPReuseMax,
		IPReuseWeight:    cfg.RateLimit.IPReuseWeight,
		RapidMaxAttempts: cfg.RateLimit.RapidMaxAttempts,
		RapidWeight:      cfg.RateLimit.RapidWeight,
	})
}

func provideBucket(cfg config.Config, client *redis.Client) *service.Bucket {
	return service.NewBucket(client, cfg.RateLimit.RapidMaxAttempts, cfg.RateLimit.RapidWindow)
}

var Module = fx.Module("ratelimit.service",
	fx.Provide(repository.Provide),
	fx.Provide(provideScorer),
	fx.Provide(provideBucket),
	fx.Provide(service.NewService),
)
