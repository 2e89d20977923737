package bucket

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitBucketCount(t *testing.T) {
	tests := []struct {
		name            string
		start, end, stp int64
		want            int
	}{
		{"exact multiple", 0, 100, 10, 10},
		{"irregular tail", 0, 105, 10, 11},
		{"single bucket", 5, 6, 10, 1},
		{"negative indices", -10, -1, 3, 3},
		{"unit step", 3, 9, 1, 6},
		{"time range", 1700000000, 1700003600, 900, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := Split(tt.start, tt.end, tt.stp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, l.Len())

			// ceil((end-start)/step)
			span := tt.end - tt.start
			assert.Equal(t, int((span+tt.stp-1)/tt.stp), l.Len())
		})
	}
}

func TestSplitCoversRangeWithoutGaps(t *testing.T) {
	for _, step := range []int64{1, 2, 3, 7, 10, 64} {
		l, err := Split(-37, 211, step)
		require.NoError(t, err)

		assert.Equal(t, int64(-37), l.Boundaries[0])
		assert.Equal(t, int64(211), l.Boundaries[len(l.Boundaries)-1])

		var covered int64
		for i := 0; i < l.Len(); i++ {
			lo, hi := l.Bounds(i)
			require.Greater(t, hi, lo, "bucket %d is empty", i)
			if i < l.Len()-1 {
				assert.Equal(t, step, l.Width(i))
			} else {
				assert.LessOrEqual(t, l.Width(i), step)
			}
			covered += hi - lo
		}
		assert.Equal(t, int64(211+37), covered)
	}
}

func TestSplitRejectsInvalidInput(t *testing.T) {
	_, err := Split(0, 10, 0)
	assert.ErrorIs(t, err, ErrInvalidStep)

	_, err = Split(0, 10, -2)
	assert.ErrorIs(t, err, ErrInvalidStep)

	_, err = Split(10, 10, 1)
	assert.ErrorIs(t, err, ErrInvalidStep)

	_, err = Split(10, 0, 1)
	assert.ErrorIs(t, err, ErrInvalidStep)
}

func TestSplitExtremeRanges(t *testing.T) {
	l, err := Split(0, math.MaxInt64, 1<<62)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1 << 62, math.MaxInt64}, l.Boundaries)

	l, err = Split(math.MaxInt64-10, math.MaxInt64, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, int64(math.MaxInt64), l.Boundaries[3])

	_, err = Split(math.MinInt64, math.MaxInt64, 1<<62)
	assert.ErrorIs(t, err, ErrInvalidStep, "span overflows int64")

	_, err = Split(0, 68719476736, 1)
	assert.ErrorIs(t, err, ErrInvalidStep, "too many buckets")
}

func TestCount(t *testing.T) {
	n, err := Count(0, 105, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	n, err = Count(0, math.MaxInt64, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), n)

	_, err = Count(0, 10, 0)
	assert.ErrorIs(t, err, ErrInvalidStep)
}

func TestIndex(t *testing.T) {
	l, err := Split(0, 25, 10)
	require.NoError(t, err)
	require.Equal(t, []int64{0, 10, 20, 25}, l.Boundaries)

	tests := []struct {
		pos  int64
		want int
	}{
		{-5, 0},
		{0, 0},
		{1, 0},
		{10, 0},
		{11, 1},
		{20, 1},
		{21, 2},
		{25, 2},
		{99, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, l.Index(tt.pos), "position %d", tt.pos)
	}
}

func TestAssignKeepsFixedLength(t *testing.T) {
	l, err := Split(0, 40, 10)
	require.NoError(t, err)

	items := []int64{1, 2, 35, 40}
	groups := Assign(l, items, func(_ int, p int64) int64 { return p })

	require.Len(t, groups, 4)
	assert.Equal(t, []int64{1, 2}, groups[0])
	assert.Nil(t, groups[1])
	assert.Nil(t, groups[2])
	assert.Equal(t, []int64{35, 40}, groups[3])
}

func TestAssignByRank(t *testing.T) {
	l, err := Split(-10, -1, 3)
	require.NoError(t, err)

	items := make([]string, 9)
	groups := Assign(l, items, func(k int, _ string) int64 { return -10 + int64(k) })

	total := 0
	for _, g := range groups {
		total += len(g)
	}
	assert.Equal(t, 9, total)
	assert.Len(t, groups, 3)
}
