// Package dbtest starts a migrated Postgres container for integration tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/valinor-ai/gatehouse/internal/platform/database"
)

// URL starts a Postgres container and returns its connection string. The
// container is terminated when the test finishes.
func URL(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gatehouse_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

// Pool starts a Postgres container, applies migrations and returns a pool.
func Pool(t *testing.T) *database.Pool {
	t.Helper()
	connStr := URL(t)

	require.NoError(t, database.RunMigrations(context.Background(), connStr))

	pool, err := database.Connect(context.Background(), connStr, 10)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}
