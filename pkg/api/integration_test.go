package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/wattcache/pkg/aggregate"
	"github.com/vjranagit/wattcache/pkg/cache"
	"github.com/vjranagit/wattcache/pkg/metrics"
	"github.com/vjranagit/wattcache/pkg/storage"
	"github.com/vjranagit/wattcache/pkg/tariff"
	"github.com/vjranagit/wattcache/pkg/types"
)

// newStack wires the sqlite store, the engine, an in-memory cache and the
// HTTP layer. The sensor reports a constant 1800 W every 8 s, ids 1..10.
func newStack(t *testing.T) (http.Handler, *storage.SQLStore) {
	t.Helper()
	ctx := context.Background()

	db, err := storage.NewSQLStore(filepath.Join(t.TempDir(), "wattcache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sensor, err := db.AddSensor(ctx, "compteur")
	require.NoError(t, err)

	samples := make([]types.Sample, 10)
	for k := range samples {
		samples[k] = types.Sample{SensorID: sensor, Value: 1800, Timestamp: int64(8 * (k + 1))}
	}
	require.NoError(t, db.InsertSamples(ctx, samples))

	_, err = db.UpsertProvider(ctx, types.TariffModel{Name: "EDF", DaySlope: 0.5, NightSlope: 0.25, Current: true})
	require.NoError(t, err)

	m := metrics.New()
	engine := aggregate.New(aggregate.DefaultConfig(), db, tariff.NewConverter(db))
	cached := cache.New(storage.NewMemoryCache(100), engine, cache.WithObserver(m))

	h := NewServer(":0", cached, db,
		WithMetrics(m),
		WithClock(func() time.Time { return noon }),
	).Handler()
	return h, db
}

func TestEndToEndEnergy(t *testing.T) {
	h, _ := newStack(t)

	// 9 intervals of 8 s at 1800 W
	status, body := get(t, h, "/api/1/get/kwatthours/by_id/1/11")
	require.Equal(t, http.StatusOK, status)
	var kwh types.EnergyAggregate
	require.NoError(t, json.Unmarshal(body.Data, &kwh))
	assert.InDelta(t, 0.036, kwh.Value, 1e-12)
	assert.InDelta(t, 0.036, kwh.DayRate, 1e-12)
	assert.Zero(t, kwh.NightRate)

	status, body = get(t, h, "/api/1/get/euros/by_id/1/11")
	require.Equal(t, http.StatusOK, status)
	var euros types.EnergyAggregate
	require.NoError(t, json.Unmarshal(body.Data, &euros))
	assert.InDelta(t, 0.018, euros.Value, 1e-12)
}

func TestEndToEndLatestSample(t *testing.T) {
	h, _ := newStack(t)

	status, body := get(t, h, "/api/1/get/watts/by_id/-1")
	require.Equal(t, http.StatusOK, status)
	var s types.Sample
	require.NoError(t, json.Unmarshal(body.Data, &s))
	assert.Equal(t, int64(10), s.ID)
	assert.Equal(t, int64(80), s.Timestamp)
}

func TestEndToEndGroupedWatts(t *testing.T) {
	h, _ := newStack(t)

	// Boundaries 8, 40, 72. The sample at 40 closes the first bucket, so it
	// covers 32 s of load and the second (48..64) only 16 s.
	status, body := get(t, h, "/api/1/get/watts/by_time/8/72/32")
	require.Equal(t, http.StatusOK, status)
	var groups []*types.EnergyAggregate
	require.NoError(t, json.Unmarshal(body.Data, &groups))
	require.Len(t, groups, 2)
	require.NotNil(t, groups[0])
	require.NotNil(t, groups[1])
	assert.InDelta(t, 1800.0, groups[0].Value, 1e-9)
	assert.InDelta(t, 900.0, groups[1].Value, 1e-9)
}

func TestEndToEndCacheHit(t *testing.T) {
	h, _ := newStack(t)

	for i := 0; i < 3; i++ {
		status, _ := get(t, h, "/api/1/get/kwatthours/by_id/1/11")
		require.Equal(t, http.StatusOK, status)
	}
	get(t, h, "/api/1/get/kwatthours/by_id/1/11?force_refresh=1")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	out := rec.Body.String()
	assert.True(t, strings.Contains(out, "wattcache_cache_hits_total 2"), out)
	assert.True(t, strings.Contains(out, "wattcache_cache_misses_total 2"), out)
}

func TestEndToEndTooManyValues(t *testing.T) {
	h, _ := newStack(t)

	status, _ := get(t, h, "/api/1/get/kwatthours/by_id/0/1000")
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = get(t, h, "/api/1/get/kwatthours/by_id/10/2")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = get(t, h, "/api/1/get/kwatthours/by_time/0/68719476736/1")
	assert.Equal(t, http.StatusForbidden, status)
}

func TestEndToEndZeroStep(t *testing.T) {
	h, _ := newStack(t)

	for _, path := range []string{
		"/api/1/get/kwatthours/by_time/0/100/0",
		"/api/1/get/kwatthours/by_id/1/11/0",
	} {
		status, body := get(t, h, path)
		assert.Equal(t, http.StatusBadRequest, status, path)
		assert.Contains(t, body.Error, "step", path)
	}
}

func TestEndToEndWideTimeBuckets(t *testing.T) {
	h, _ := newStack(t)

	status, body := get(t, h, "/api/1/get/kwatthours/by_time/0/9223372036854775807/4611686018427387904")
	require.Equal(t, http.StatusOK, status)
	var groups []*types.EnergyAggregate
	require.NoError(t, json.Unmarshal(body.Data, &groups))
	require.Len(t, groups, 2)
	require.NotNil(t, groups[0])
	assert.InDelta(t, 0.036, groups[0].Value, 1e-12)
}
