// Package testutil starts shared backing services for integration tests.
//
// Containers are started lazily, once per test binary, and terminated by
// Cleanup, which packages call from TestMain.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
)

var (
	startedMu sync.Mutex
	started   []testcontainers.Container
)

func track(c testcontainers.Container) {
	startedMu.Lock()
	defer startedMu.Unlock()
	started = append(started, c)
}

func skipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in -short mode")
	}
}

// Cleanup terminates every container started by this package.
func Cleanup() {
	startedMu.Lock()
	defer startedMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, c := range started {
		_ = c.Terminate(ctx) // best-effort cleanup
	}
	started = nil
}
