package main

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/valinor-ai/gatehouse/internal/platform/config"
	"github.com/valinor-ai/gatehouse/internal/usage"
)

// newUsageStore selects the counter backend named by cfg.Usage.Backend.
// Clients are taken as concrete pointers so a missing one compares nil.
func newUsageStore(cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client) (usage.Store, error) {
	switch cfg.Usage.Backend {
	case config.UsageBackendPostgres, "":
		if pool == nil {
			return nil, fmt.Errorf("usage backend %q requires a database", config.UsageBackendPostgres)
		}
		return usage.NewPostgresStore(pool), nil
	case config.UsageBackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("usage backend %q requires a redis client", config.UsageBackendRedis)
		}
		return usage.NewRedisStore(rdb, cfg.Usage.Grace()), nil
	case config.UsageBackendMemory:
		return usage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown usage backend %q", cfg.Usage.Backend)
	}
}
