package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/vjranagit/wattcache/pkg/types"
)

const keyVersion = "v1"

// Fingerprint builds the cache key of a query. Every field that changes the
// answer is captured, joined with a separator that cannot occur inside any
// field, then hashed. The metric stays readable as a prefix.
func Fingerprint(q types.Query, timestep int64) string {
	shape := "range"
	end, step := q.End, q.Step
	switch {
	case q.Point:
		shape, end, step = "point", 0, 0
	case q.Grouped():
		shape = "group"
	}

	metric := strings.ToLower(strings.TrimSpace(string(q.Metric)))
	return metric + ":" + makeKey(
		keyVersion,
		metric,
		strconv.FormatInt(q.SensorID, 10),
		string(q.Axis),
		shape,
		strconv.FormatInt(q.Start, 10),
		strconv.FormatInt(end, 10),
		strconv.FormatInt(step, 10),
		strconv.FormatInt(timestep, 10),
	)
}

func makeKey(parts ...string) string {
	joined := strings.Join(parts, "|")
	h := sha1.Sum([]byte(joined))
	return hex.EncodeToString(h[:])
}
