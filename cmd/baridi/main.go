package main

import (
	"github.com/baridihq/baridi/internal/clock"
	"github.com/baridihq/baridi/internal/config"
	"github.com/baridihq/baridi/internal/migration"
	"github.com/baridihq/baridi/internal/observability"
	"github.com/baridihq/baridi/internal/scheduler"
	"github.com/baridihq/baridi/internal/server"
	"github.com/baridihq/baridi/pkg/db"
	"github.com/baridihq/baridi/pkg/sealer"
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		clock.Module,
		db.Module,
		migration.Module,

		fx.Provide(newSnowflakeNode),
		fx.Provide(newSealer),
		fx.Provide(newRedisClient),

		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func newSnowflakeNode(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

func newSealer(cfg config.Config) *sealer.Sealer {
	return sealer.New(cfg.CredentialSecret)
}

// newRedisClient is nil when no address is configured; the rate-limit bucket
// and the scheduler lock both degrade gracefully without redis.
func newRedisClient(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}
