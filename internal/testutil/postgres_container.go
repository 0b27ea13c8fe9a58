package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	pgOnce sync.Once
	pgDSN  string
	pgErr  error
)

// GetPostgresDSN starts a shared PostgreSQL container on first use and
// returns a pgx-compatible DSN for it. The test is skipped when running
// with -short or when no container runtime is available.
func GetPostgresDSN(t *testing.T) string {
	t.Helper()
	skipIfShort(t)
	startPostgresOnce()
	if pgErr != nil {
		t.Skipf("postgres container unavailable: %v", pgErr)
	}
	return pgDSN
}

func startPostgresOnce() {
	pgOnce.Do(func() {
		// Give generous timeout in CI environments
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		postgresC, err := testcontainers.Run(
			ctx, "postgres:16",
			testcontainers.WithExposedPorts("5432/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForAll(
					wait.ForListeningPort("5432/tcp"),
					// Postgres logs readiness twice: once for the init
					// server, once for the real one.
					wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				).WithDeadline(2*time.Minute),
			),
			testcontainers.WithEnv(map[string]string{
				"POSTGRES_USER":     "synapse",
				"POSTGRES_PASSWORD": "synapse",
				"POSTGRES_DB":       "synapse_test",
			}),
		)
		if err != nil {
			pgErr = err
			return
		}
		track(postgresC)

		endpoint, err := postgresC.Endpoint(ctx, "")
		if err != nil {
			pgErr = err
			return
		}

		pgDSN = fmt.Sprintf("postgres://synapse:synapse@%s/synapse_test?sslmode=disable", endpoint)
	})
}
