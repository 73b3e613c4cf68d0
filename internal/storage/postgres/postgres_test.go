package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	pgstore "github.com/cory-johannsen/matchrelay/internal/storage/postgres"
	"github.com/cory-johannsen/matchrelay/internal/testutil"
	"github.com/cory-johannsen/matchrelay/migrations"
)

func TestPool_SchemaFollowsMigrations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	pc := testutil.NewPostgresContainer(t)
	ctx := context.Background()

	require.NoError(t, pc.Pool.Health(ctx, 5*time.Second))
	assert.ErrorIs(t, pc.Pool.EnsureSchema(ctx), pgstore.ErrSchemaMissing)

	src, err := iofs.New(migrations.FS, ".")
	require.NoError(t, err)
	m, err := migrate.NewWithSourceInstance("iofs", src, pc.DSN())
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Up())
	require.NoError(t, pc.Pool.EnsureSchema(ctx))

	require.NoError(t, m.Down())
	assert.ErrorIs(t, pc.Pool.EnsureSchema(ctx), pgstore.ErrSchemaMissing)
}

func TestPool_MonitorStopsWithContext(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	pc := testutil.NewPostgresContainer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pc.Pool.Monitor(ctx, 10*time.Millisecond, time.Second, zaptest.NewLogger(t))
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not return after cancel")
	}
}
