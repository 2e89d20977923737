package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vjranagit/wattcache/pkg/types"
)

func TestFingerprintDistinguishesQueryFields(t *testing.T) {
	base := types.Query{
		SensorID: 1,
		Metric:   types.MetricKWattHours,
		Axis:     types.AxisTime,
		Start:    1000,
		End:      2000,
		Step:     100,
	}
	key := Fingerprint(base, 8)

	variants := map[string]types.Query{}
	add := func(name string, mutate func(q *types.Query)) {
		q := base
		mutate(&q)
		variants[name] = q
	}
	add("sensor", func(q *types.Query) { q.SensorID = 2 })
	add("metric", func(q *types.Query) { q.Metric = types.MetricEuros })
	add("axis", func(q *types.Query) { q.Axis = types.AxisID })
	add("start", func(q *types.Query) { q.Start = 1001 })
	add("end", func(q *types.Query) { q.End = 2001 })
	add("step", func(q *types.Query) { q.Step = 200 })
	add("flat", func(q *types.Query) { q.Step = 0 })
	add("point", func(q *types.Query) { q.Point = true })

	for name, q := range variants {
		assert.NotEqual(t, key, Fingerprint(q, 8), "changing %s must change the key", name)
	}
	assert.NotEqual(t, key, Fingerprint(base, 16), "timestep must change the key")
}

func TestFingerprintFieldsDoNotCollide(t *testing.T) {
	a := types.Query{SensorID: 12, Metric: types.MetricWatts, Axis: types.AxisID, Start: 3, End: 45}
	b := types.Query{SensorID: 1, Metric: types.MetricWatts, Axis: types.AxisID, Start: 23, End: 45}
	c := types.Query{SensorID: 1, Metric: types.MetricWatts, Axis: types.AxisID, Start: 2, End: 345}

	assert.NotEqual(t, Fingerprint(a, 8), Fingerprint(b, 8))
	assert.NotEqual(t, Fingerprint(b, 8), Fingerprint(c, 8))
}

func TestFingerprintIgnoresIrrelevantFields(t *testing.T) {
	q := types.Query{SensorID: 1, Metric: types.MetricWatts, Axis: types.AxisTime, Start: 50, Point: true}
	withRange := q
	withRange.End = 900
	withRange.Step = 10
	withRange.ForceRefresh = true

	assert.Equal(t, Fingerprint(q, 8), Fingerprint(withRange, 8))
}

func TestFingerprintIsStableAndPrefixed(t *testing.T) {
	q := types.Query{SensorID: 7, Metric: types.MetricEuros, Axis: types.AxisTime, Start: 0, End: int64(time.Hour / time.Second)}

	key := Fingerprint(q, 8)
	assert.Equal(t, key, Fingerprint(q, 8))
	assert.True(t, strings.HasPrefix(key, "euros:"))
	assert.Len(t, strings.TrimPrefix(key, "euros:"), 40)
}
