// Package aggregate answers energy, power and cost queries over ranges of
// sensor samples.
package aggregate

import (
	"context"
	"errors"
	"fmt"

	"github.com/vjranagit/wattcache/pkg/bucket"
	"github.com/vjranagit/wattcache/pkg/energy"
	"github.com/vjranagit/wattcache/pkg/tariff"
	"github.com/vjranagit/wattcache/pkg/types"
)

var (
	// ErrInvalidRange is returned for inverted, mixed-sign or non-positive-step ranges
	ErrInvalidRange = errors.New("invalid range")
	// ErrTooManyValues is returned when an index range exceeds the configured maximum
	ErrTooManyValues = errors.New("too many values requested")
)

// Source yields ordered samples for a sensor
type Source interface {
	// SamplesByID returns samples with id in [id1, id2) in ascending timestamp
	// order. When ascending is false the bounds are non-positive suffix
	// offsets and the samples ranked -id2 up to -id1 (zero based, most recent
	// first) are returned in descending timestamp order.
	SamplesByID(ctx context.Context, sensorID, id1, id2 int64, ascending bool) ([]types.Sample, error)

	// SamplesByTime returns samples with timestamp in [t1, t2), ascending.
	SamplesByTime(ctx context.Context, sensorID, t1, t2 int64) ([]types.Sample, error)

	// SampleByID returns one sample or nil. A negative id counts back from
	// the most recent sample, -1 being the latest.
	SampleByID(ctx context.Context, sensorID, id int64) (*types.Sample, error)

	// SampleByTime returns the sample recorded at ts or nil.
	SampleByTime(ctx context.Context, sensorID, ts int64) (*types.Sample, error)
}

// Pricer converts kWh into currency for one tariff channel
type Pricer interface {
	Cost(ctx context.Context, ref tariff.ProviderRef, t types.Tariff, kwh float64) (float64, error)
}

// Config holds orchestrator settings
type Config struct {
	// DefaultTimestep is used when a query does not carry its own.
	DefaultTimestep int64
	// MaxReturnedValues bounds the width of index ranges. Zero disables the check.
	MaxReturnedValues int64
	// Provider prices euros queries.
	Provider tariff.ProviderRef
}

// DefaultConfig returns default orchestrator settings
func DefaultConfig() Config {
	return Config{
		DefaultTimestep:   energy.DefaultTimestep,
		MaxReturnedValues: 500,
		Provider:          tariff.Current,
	}
}

// Orchestrator runs queries against a sample source
type Orchestrator struct {
	cfg    Config
	source Source
	pricer Pricer
}

// New creates an orchestrator
func New(cfg Config, source Source, pricer Pricer) *Orchestrator {
	if cfg.DefaultTimestep <= 0 {
		cfg.DefaultTimestep = energy.DefaultTimestep
	}
	return &Orchestrator{cfg: cfg, source: source, pricer: pricer}
}

// Timestep returns the sampling interval that applies to q
func (o *Orchestrator) Timestep(q types.Query) int64 {
	if q.Timestep > 0 {
		return q.Timestep
	}
	return o.cfg.DefaultTimestep
}

// Aggregate runs q. A nil result means the query target holds no samples.
func (o *Orchestrator) Aggregate(ctx context.Context, q types.Query) (*types.Result, error) {
	if err := o.Validate(q); err != nil {
		return nil, err
	}

	if q.Point {
		return o.point(ctx, q)
	}

	samples, err := o.fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}

	var res *types.Result
	if q.Grouped() {
		res, err = o.grouped(ctx, q, samples)
	} else {
		res, err = o.flat(ctx, q, samples)
	}
	if err != nil {
		return nil, err
	}

	last := samples[len(samples)-1]
	res.Last = &last
	return res, nil
}

// Validate checks q before any I/O
func (o *Orchestrator) Validate(q types.Query) error {
	switch q.Metric {
	case types.MetricWatts, types.MetricKWattHours, types.MetricEuros:
	default:
		return fmt.Errorf("%w: unknown metric %q", ErrInvalidRange, q.Metric)
	}

	switch q.Axis {
	case types.AxisID:
		if q.Point {
			return nil
		}
		positive := q.Start >= 0 && q.End >= 0
		negative := q.Start <= 0 && q.End <= 0
		if !positive && !negative {
			return fmt.Errorf("%w: ids %d and %d have mixed signs", ErrInvalidRange, q.Start, q.End)
		}
		if q.End < q.Start {
			return fmt.Errorf("%w: id %d is before %d", ErrInvalidRange, q.End, q.Start)
		}
	case types.AxisTime:
		if q.Start < 0 {
			return fmt.Errorf("%w: negative timestamp %d", ErrInvalidRange, q.Start)
		}
		if q.Point {
			return nil
		}
		if q.End < q.Start {
			return fmt.Errorf("%w: time %d is before %d", ErrInvalidRange, q.End, q.Start)
		}
	default:
		return fmt.Errorf("%w: unknown axis %q", ErrInvalidRange, q.Axis)
	}

	if q.Step < 0 || (q.Grouped() && q.Step == 0) {
		return fmt.Errorf("%w: step %d must be positive", ErrInvalidRange, q.Step)
	}
	if q.Grouped() {
		n, err := bucket.Count(q.Start, q.End, q.Step)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRange, err)
		}
		if o.cfg.MaxReturnedValues > 0 && n > o.cfg.MaxReturnedValues {
			return fmt.Errorf("%w: %d buckets requested, maximum is %d",
				ErrTooManyValues, n, o.cfg.MaxReturnedValues)
		}
		if n > bucket.MaxBuckets {
			return fmt.Errorf("%w: %d buckets requested, maximum is %d",
				ErrTooManyValues, n, bucket.MaxBuckets)
		}
	}

	if q.Axis == types.AxisID && o.cfg.MaxReturnedValues > 0 && q.End-q.Start > o.cfg.MaxReturnedValues {
		return fmt.Errorf("%w: %d ids requested, maximum is %d",
			ErrTooManyValues, q.End-q.Start, o.cfg.MaxReturnedValues)
	}

	return nil
}

func (o *Orchestrator) point(ctx context.Context, q types.Query) (*types.Result, error) {
	var (
		s   *types.Sample
		err error
	)
	if q.Axis == types.AxisID {
		s, err = o.source.SampleByID(ctx, q.SensorID, q.Start)
	} else {
		s, err = o.source.SampleByTime(ctx, q.SensorID, q.Start)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sample: %w", err)
	}
	if s == nil {
		return nil, nil
	}
	return &types.Result{Point: s, Last: s}, nil
}

func (o *Orchestrator) fetch(ctx context.Context, q types.Query) ([]types.Sample, error) {
	if q.Axis == types.AxisTime {
		samples, err := o.source.SamplesByTime(ctx, q.SensorID, q.Start, q.End)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch samples by time: %w", err)
		}
		return samples, nil
	}

	if suffixRange(q) {
		samples, err := o.source.SamplesByID(ctx, q.SensorID, q.Start, q.End, false)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch latest samples: %w", err)
		}
		// back to ascending order
		for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
			samples[i], samples[j] = samples[j], samples[i]
		}
		return samples, nil
	}

	samples, err := o.source.SamplesByID(ctx, q.SensorID, q.Start, q.End, true)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch samples by id: %w", err)
	}
	return samples, nil
}

// suffixRange reports whether an index range counts back from the latest sample
func suffixRange(q types.Query) bool {
	return q.Axis == types.AxisID && q.Start <= 0 && q.End <= 0 && !(q.Start == 0 && q.End == 0)
}

func (o *Orchestrator) flat(ctx context.Context, q types.Query, samples []types.Sample) (*types.Result, error) {
	switch q.Metric {
	case types.MetricWatts:
		return &types.Result{Samples: samples}, nil
	case types.MetricKWattHours:
		e := energy.Integrate(samples, o.Timestep(q))
		return &types.Result{Total: &e}, nil
	default:
		e := energy.Integrate(samples, o.Timestep(q))
		c, err := o.cost(ctx, e)
		if err != nil {
			return nil, err
		}
		return &types.Result{Total: &c}, nil
	}
}

func (o *Orchestrator) grouped(ctx context.Context, q types.Query, samples []types.Sample) (*types.Result, error) {
	layout, err := bucket.Split(q.Start, q.End, q.Step)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}

	var pos func(int, types.Sample) int64
	switch {
	case q.Axis == types.AxisTime:
		pos = func(_ int, s types.Sample) int64 { return s.Timestamp }
	case suffixRange(q):
		// suffix ranges have no stable ids, bucket by rank instead. The
		// newest fetched sample sits at End-1 even when the window is short.
		first := q.End - int64(len(samples))
		pos = func(k int, _ types.Sample) int64 { return first + int64(k) }
	default:
		pos = func(_ int, s types.Sample) int64 { return s.ID }
	}

	// mean power is spread over step seconds on the time axis and over
	// step samples of timestep seconds on the id axis
	seconds := float64(q.Step)
	if q.Axis == types.AxisID {
		seconds *= float64(o.Timestep(q))
	}

	groups := bucket.Assign(layout, samples, pos)
	out := make([]*types.EnergyAggregate, len(groups))
	for i, g := range groups {
		if len(g) == 0 {
			continue
		}

		e := energy.Integrate(g, o.Timestep(q))
		switch q.Metric {
		case types.MetricWatts:
			e = energy.MeanPower(e, seconds)
		case types.MetricEuros:
			e, err = o.cost(ctx, e)
			if err != nil {
				return nil, err
			}
		}
		out[i] = &e
	}

	return &types.Result{Groups: out}, nil
}

// cost prices both channels. Zero channels are never sent to the pricer and
// a missing provider contributes nothing.
func (o *Orchestrator) cost(ctx context.Context, e types.EnergyAggregate) (types.EnergyAggregate, error) {
	var out types.EnergyAggregate
	for _, t := range []types.Tariff{types.TariffDay, types.TariffNight} {
		kwh := e.Channel(t)
		if kwh == 0 {
			continue
		}

		c, err := o.pricer.Cost(ctx, o.cfg.Provider, t, kwh)
		if errors.Is(err, tariff.ErrProviderNotFound) {
			continue
		}
		if err != nil {
			return out, fmt.Errorf("failed to price %s consumption: %w", t, err)
		}

		if t == types.TariffNight {
			out.NightRate = c
		} else {
			out.DayRate = c
		}
	}
	out.Value = out.DayRate + out.NightRate
	return out, nil
}
