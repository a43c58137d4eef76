package collector

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/birdnet-edge/internal/conf"
	"github.com/tphakala/birdnet-edge/internal/event"
)

func TestStoreSaveAndSummaries(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	first := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	later := first.Add(48 * time.Hour)

	robin := event.Detection{Species: "American Robin", ScientificName: "Turdus migratorius", Label: "Turdus migratorius_American Robin", Confidence: 0.75}

	n, err := store.Save(ctx, testEvent("yard-1-1", later))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cardinal := event.Detection{Species: "Northern Cardinal", ScientificName: "Cardinalis cardinalis", Label: "Cardinalis cardinalis_Northern Cardinal", Confidence: 0.91}
	n, err = store.Save(ctx, testEvent("yard-2-2", first, cardinal, robin))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recs, err := store.Detections(ctx, "yard-2-2")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Northern Cardinal", recs[0].Species)
	assert.Equal(t, "yard", recs[0].NodeID)
	assert.Equal(t, "day", recs[0].SunPhase)
	assert.True(t, first.Equal(recs[0].DetectedAt))

	sums, err := store.YearlySummaries(ctx, 2024)
	require.NoError(t, err)
	require.Len(t, sums, 2)

	assert.Equal(t, "Northern Cardinal", sums[0].Species)
	assert.Equal(t, int64(2), sums[0].TotalDetections)
	assert.InDelta(t, 0.91, sums[0].MaxConfidence, 1e-9)
	assert.True(t, first.Equal(sums[0].FirstSeen))
	assert.True(t, later.Equal(sums[0].LastSeen))

	assert.Equal(t, "American Robin", sums[1].Species)
	assert.Equal(t, int64(1), sums[1].TotalDetections)

	empty, err := store.YearlySummaries(ctx, 2023)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStoreReplayIsNotCounted(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	ev := testEvent("yard-7-7", time.Date(2024, 6, 1, 5, 0, 0, 0, time.UTC))

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
}

func TestStoreRejectsEventWithoutID(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	_, err := store.Save(context.Background(), testEvent("", time.Now()))
	assert.Error(t, err)
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := OpenStore(conf.StoreSettings{Driver: "postgres"})
	assert.Error(t, err)
}

func TestMySQLDSN(t *testing.T) {
	t.Parallel()

	dsn, err := mysqlDSN("birds:secret@tcp(db:3306)/collector")
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
	assert.Contains(t, dsn, "timeout=5s")

	_, err = mysqlDSN("not a dsn")
	assert.Error(t, err)
}

func TestStoreClosesPoolWhenSetupFails(t *testing.T) {
	t.Parallel()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Ping())

	closeDB(db)
	require.Error(t, sqlDB.Ping(), "pool must be closed")
}

func TestOpenStoreRejectsCorruptDatabase(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "corrupt.db")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("not a sqlite database "), 32), 0o600))

	_, err := OpenStore(conf.StoreSettings{Driver: conf.DriverSQLite, Path: path})
	require.Error(t, err)
}
