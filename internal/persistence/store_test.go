package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{Path: "file::memory:?cache=shared", Profile: ProfileCache})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordSensorReadingIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rec := SensorRecord{
		SensorUID: "sensor-1", EcosystemUID: "eco-1", Measure: "temperature",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Value: 21.5,
	}
	require.NoError(t, store.RecordSensorReading(ctx, rec))
	require.NoError(t, store.RecordSensorReading(ctx, rec)) // re-insert is a no-op

	var count int
	require.NoError(t, store.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM sensors_history").Scan(&count))
	require.Equal(t, 1, count)
}

func TestBufferAndAckSuccessPromotesToHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rec := SensorRecord{
		SensorUID: "sensor-1", EcosystemUID: "eco-1", Measure: "humidity",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Value: 55.0,
	}
	require.NoError(t, store.BufferSensorReading(ctx, "uuid-1", rec))

	pending, err := store.PendingBuffered(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, store.AckBuffered(ctx, "uuid-1", true))

	pending, err = store.PendingBuffered(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	var count int
	require.NoError(t, store.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM sensors_history").Scan(&count))
	require.Equal(t, 1, count)
}

func TestAckBufferedFailureFlagsWithoutDeleting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rec := SensorRecord{
		SensorUID: "sensor-1", EcosystemUID: "eco-1", Measure: "light",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Value: 8000,
	}
	require.NoError(t, store.BufferSensorReading(ctx, "uuid-2", rec))
	require.NoError(t, store.AckBuffered(ctx, "uuid-2", false))

	pending, err := store.PendingBuffered(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending, "failed rows must not be replayed")

	var failed int
	require.NoError(t, store.conn.QueryRowContext(ctx, "SELECT failed FROM sensors_buffer WHERE uuid = ?", "uuid-2").Scan(&failed))
	require.Equal(t, 1, failed)
}

func TestRecentHealthOrdersNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordHealth(ctx, HealthRecord{EcosystemUID: "eco-1", CameraUID: "cam-1", Index: "NDVI", Timestamp: base, Value: 0.5}))
	require.NoError(t, store.RecordHealth(ctx, HealthRecord{EcosystemUID: "eco-1", CameraUID: "cam-1", Index: "NDVI", Timestamp: base.Add(24 * time.Hour), Value: 0.6}))

	recs, err := store.RecentHealth(ctx, "eco-1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, 0.6, recs[0].Value)
}
