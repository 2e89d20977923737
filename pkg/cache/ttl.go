package cache

import (
	"time"

	"github.com/vjranagit/wattcache/pkg/types"
)

// TTL picks the expiry of a freshly computed result. A range that is closed,
// meaning no further sample can land inside it, keeps its answer for the
// span of the range. An open range expires after one sampling interval.
func TTL(q types.Query, res *types.Result, now time.Time, timestep int64) time.Duration {
	if timestep <= 0 {
		timestep = 1
	}
	short := time.Duration(timestep) * time.Second
	if !closed(q, res, now) {
		return short
	}
	return time.Duration(span(q, timestep)) * time.Second
}

// closed reports whether the queried range can no longer change
func closed(q types.Query, res *types.Result, now time.Time) bool {
	if q.Axis == types.AxisTime {
		upper := q.End
		if q.Point {
			upper = q.Start
		}
		return upper < now.Unix()
	}

	// Ids are monotonic per sensor: once the last id of the range exists the
	// range is full. Suffix ranges slide with every new sample.
	if q.Start < 0 || q.End < 0 || res == nil || res.Last == nil {
		return false
	}
	if q.Point {
		return true
	}
	return res.Last.ID >= q.End-1
}

// span is the width of the range, or of one bucket for grouped queries, in
// seconds
func span(q types.Query, timestep int64) int64 {
	var width int64
	switch {
	case q.Point:
		return timestep
	case q.Grouped():
		width = q.Step
	default:
		width = q.End - q.Start
	}
	if q.Axis == types.AxisID {
		width *= timestep
	}
	if width < 1 {
		width = 1
	}
	return width
}
