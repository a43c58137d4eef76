//go:build integration

package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/tphakala/birdnet-edge/internal/conf"
)

func TestMySQLStore(t *testing.T) {
	ctx := context.Background()

	container, err := mysql.Run(ctx, "mysql:8.0.36",
		mysql.WithDatabase("collector"),
		mysql.WithUsername("birds"),
		mysql.WithPassword("birds"),
	)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	store, err := OpenStore(conf.StoreSettings{Driver: conf.DriverMySQL, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	assert.Equal(t, conf.DriverMySQL, store.Driver())

	at := time.Date(2024, 5, 1, 18, 30, 15, 0, time.UTC)
	ev := testEvent("mysql-1", at)

	n, err := store.Save(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.Save(ctx, ev)
	require.NoError(t, err)
	assert.Zero(t, n)

	sums, err := store.YearlySummaries(ctx, 2024)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, int64(1), sums[0].TotalDetections)
	assert.True(t, at.Equal(sums[0].FirstSeen))
}
