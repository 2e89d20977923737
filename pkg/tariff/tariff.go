// Package tariff converts tariff-split energy into a monetary cost using a
// provider's day/night rate model.
package tariff

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/vjranagit/wattcache/pkg/types"
)

// ErrProviderNotFound is returned when no provider matches a reference
var ErrProviderNotFound = errors.New("provider not found")

// ProviderRef identifies a provider by id. Current selects the provider
// flagged as active.
type ProviderRef int64

// Current is the sentinel for the active provider
const Current ProviderRef = 0

// ParseProviderRef parses "current" or a positive provider id
func ParseProviderRef(s string) (ProviderRef, error) {
	if s == "current" {
		return Current, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return Current, fmt.Errorf("invalid provider reference %q", s)
	}
	return ProviderRef(id), nil
}

// Registry looks up tariff models. A missing provider is reported as a nil
// model with a nil error.
type Registry interface {
	Provider(ctx context.Context, ref ProviderRef) (*types.TariffModel, error)
}

// Converter turns kWh into currency
type Converter struct {
	registry Registry
}

// NewConverter creates a converter backed by a provider registry
func NewConverter(registry Registry) *Converter {
	return &Converter{registry: registry}
}

// Cost resolves the provider and prices kwh on the given tariff channel
func (c *Converter) Cost(ctx context.Context, ref ProviderRef, t types.Tariff, kwh float64) (float64, error) {
	model, err := c.registry.Provider(ctx, ref)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve provider %d: %w", ref, err)
	}
	if model == nil {
		return 0, fmt.Errorf("%w: %d", ErrProviderNotFound, ref)
	}
	return ModelCost(*model, t, kwh)
}

// ModelCost prices kwh with the slope of the tariff channel. Constant terms
// are not applied.
func ModelCost(m types.TariffModel, t types.Tariff, kwh float64) (float64, error) {
	var slope, amount, cost apd.Decimal
	if _, err := slope.SetFloat64(m.Slope(t)); err != nil {
		return 0, fmt.Errorf("invalid %s slope: %w", t, err)
	}
	if _, err := amount.SetFloat64(kwh); err != nil {
		return 0, fmt.Errorf("invalid consumption: %w", err)
	}

	ctx := apd.BaseContext.WithPrecision(34)
	if _, err := ctx.Mul(&cost, &slope, &amount); err != nil {
		return 0, fmt.Errorf("failed to compute cost: %w", err)
	}
	return cost.Float64()
}

// IsDayNight reports whether the model prices day and night differently
func IsDayNight(m types.TariffModel) bool {
	return m.DaySlope != m.NightSlope || m.DayConstant != m.NightConstant
}

// NightWindow is the part of the day billed on the night tariff, as
// seconds since midnight. Start may be later than End when the window
// wraps past midnight.
type NightWindow struct {
	Start int
	End   int
}

// ParseClock parses an HH:MM wall clock into seconds since midnight
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*3600 + m*60, nil
}

// FormatClock renders seconds since midnight as HH:MM
func FormatClock(secs int) string {
	return fmt.Sprintf("%02d:%02d", secs/3600, (secs%3600)/60)
}

// ChannelAt returns the tariff in force at t
func ChannelAt(t time.Time, w NightWindow) types.Tariff {
	now := t.Hour()*3600 + t.Minute()*60
	if w.End > w.Start {
		if now > w.Start && now < w.End {
			return types.TariffNight
		}
		return types.TariffDay
	}
	if now > w.Start || now < w.End {
		return types.TariffNight
	}
	return types.TariffDay
}
