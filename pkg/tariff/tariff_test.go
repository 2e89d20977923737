package tariff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/wattcache/pkg/types"
)

type mapRegistry map[ProviderRef]*types.TariffModel

func (r mapRegistry) Provider(_ context.Context, ref ProviderRef) (*types.TariffModel, error) {
	return r[ref], nil
}

type brokenRegistry struct{}

func (brokenRegistry) Provider(context.Context, ProviderRef) (*types.TariffModel, error) {
	return nil, errors.New("connection refused")
}

func TestConverterCost(t *testing.T) {
	model := &types.TariffModel{
		ID:            3,
		DaySlope:      0.15,
		DayConstant:   12,
		NightSlope:    0.1,
		NightConstant: 12,
		Current:       true,
	}
	conv := NewConverter(mapRegistry{Current: model, 3: model})
	ctx := context.Background()

	day, err := conv.Cost(ctx, Current, types.TariffDay, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, day, 1e-12)

	night, err := conv.Cost(ctx, 3, types.TariffNight, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, night, 1e-12)
}

func TestConverterProviderNotFound(t *testing.T) {
	conv := NewConverter(mapRegistry{})

	_, err := conv.Cost(context.Background(), Current, types.TariffDay, 1)
	assert.ErrorIs(t, err, ErrProviderNotFound)

	_, err = conv.Cost(context.Background(), 9, types.TariffDay, 1)
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestConverterRegistryFailure(t *testing.T) {
	conv := NewConverter(brokenRegistry{})

	_, err := conv.Cost(context.Background(), Current, types.TariffDay, 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrProviderNotFound)
}

func TestModelCostIgnoresConstant(t *testing.T) {
	m := types.TariffModel{DaySlope: 0.2, DayConstant: 100}
	got, err := ModelCost(m, types.TariffDay, 0)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestParseProviderRef(t *testing.T) {
	ref, err := ParseProviderRef("current")
	require.NoError(t, err)
	assert.Equal(t, Current, ref)

	ref, err = ParseProviderRef("12")
	require.NoError(t, err)
	assert.Equal(t, ProviderRef(12), ref)

	_, err = ParseProviderRef("-1")
	assert.Error(t, err)

	_, err = ParseProviderRef("edf")
	assert.Error(t, err)
}

func TestIsDayNight(t *testing.T) {
	assert.False(t, IsDayNight(types.TariffModel{DaySlope: 0.1, NightSlope: 0.1}))
	assert.True(t, IsDayNight(types.TariffModel{DaySlope: 0.1, NightSlope: 0.08}))
	assert.True(t, IsDayNight(types.TariffModel{DaySlope: 0.1, NightSlope: 0.1, DayConstant: 1}))
}

func TestParseClock(t *testing.T) {
	secs, err := ParseClock("22:30")
	require.NoError(t, err)
	assert.Equal(t, 22*3600+30*60, secs)

	for _, bad := range []string{"", "22", "24:00", "10:60", "ab:cd"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "22:00", FormatClock(22*3600))
	assert.Equal(t, "06:05", FormatClock(6*3600+5*60))
	assert.Equal(t, "00:00", FormatClock(0))

	secs, err := ParseClock(FormatClock(23*3600 + 30*60))
	require.NoError(t, err)
	assert.Equal(t, 23*3600+30*60, secs)
}

func TestChannelAt(t *testing.T) {
	at := func(h, m int) time.Time {
		return time.Date(2024, 3, 1, h, m, 0, 0, time.UTC)
	}

	wrapping := NightWindow{Start: 22 * 3600, End: 6 * 3600}
	assert.Equal(t, types.TariffNight, ChannelAt(at(23, 0), wrapping))
	assert.Equal(t, types.TariffNight, ChannelAt(at(2, 0), wrapping))
	assert.Equal(t, types.TariffDay, ChannelAt(at(12, 0), wrapping))

	inner := NightWindow{Start: 1 * 3600, End: 5 * 3600}
	assert.Equal(t, types.TariffNight, ChannelAt(at(3, 0), inner))
	assert.Equal(t, types.TariffDay, ChannelAt(at(6, 0), inner))
	assert.Equal(t, types.TariffDay, ChannelAt(at(23, 0), inner))
}
