// Package cache memoizes aggregation results behind a key-value store with
// adaptive expiry.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vjranagit/wattcache/internal/logger"
	"github.com/vjranagit/wattcache/pkg/types"
)

// Store is a key-value store with per-entry expiry. Get reports a miss with
// ok == false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (payload []byte, ok bool, err error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// NopStore never holds anything
type NopStore struct{}

// Get always misses
func (NopStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

// Set discards the payload
func (NopStore) Set(context.Context, string, []byte, time.Duration) error { return nil }

// Engine computes query results
type Engine interface {
	Validate(q types.Query) error
	Timestep(q types.Query) int64
	Aggregate(ctx context.Context, q types.Query) (*types.Result, error)
}

// Observer receives cache activity
type Observer interface {
	CacheHit()
	CacheMiss()
	CacheError(op string)
	ObserveCompute(d time.Duration)
}

type nopObserver struct{}

func (nopObserver) CacheHit()                    {}
func (nopObserver) CacheMiss()                   {}
func (nopObserver) CacheError(string)            {}
func (nopObserver) ObserveCompute(time.Duration) {}

// ComputeFunc produces a payload and the expiry it should be stored with
type ComputeFunc func(ctx context.Context) ([]byte, time.Duration, error)

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock overrides the wall clock used for expiry decisions
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithObserver reports hits, misses and store failures
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.obs = obs
		}
	}
}

// Orchestrator runs read-through/write-through caching in front of an
// Engine. Concurrent misses on the same key share one computation.
type Orchestrator struct {
	store  Store
	engine Engine
	group  singleflight.Group
	now    func() time.Time
	obs    Observer
}

// New creates a cache orchestrator. A nil store disables caching.
func New(store Store, engine Engine, opts ...Option) *Orchestrator {
	if store == nil {
		store = NopStore{}
	}
	o := &Orchestrator{
		store:  store,
		engine: engine,
		now:    time.Now,
		obs:    nopObserver{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Aggregate answers q from the cache, computing and storing it on a miss.
// A nil result means the query target holds no data.
func (o *Orchestrator) Aggregate(ctx context.Context, q types.Query) (*types.Result, error) {
	if err := o.engine.Validate(q); err != nil {
		return nil, err
	}

	timestep := o.engine.Timestep(q)
	key := Fingerprint(q, timestep)

	payload, err := o.GetOrCompute(ctx, key, q.ForceRefresh, func(ctx context.Context) ([]byte, time.Duration, error) {
		start := time.Now()
		res, err := o.engine.Aggregate(ctx, q)
		o.obs.ObserveCompute(time.Since(start))
		if err != nil {
			return nil, 0, err
		}

		payload, err := Encode(res)
		if err != nil {
			return nil, 0, err
		}
		return payload, TTL(q, res, o.now(), timestep), nil
	})
	if err != nil {
		return nil, err
	}

	return Decode(payload)
}

// GetOrCompute returns the payload stored under key, or computes and stores
// it. Store failures are logged and degrade to recomputation. force skips the
// read but still writes the fresh payload.
func (o *Orchestrator) GetOrCompute(ctx context.Context, key string, force bool, compute ComputeFunc) ([]byte, error) {
	if !force {
		payload, ok, err := o.store.Get(ctx, key)
		switch {
		case err != nil:
			o.obs.CacheError("get")
			logger.Warn("cache get failed, recomputing", "key", key, "error", err)
		case ok:
			o.obs.CacheHit()
			return payload, nil
		}
	}
	o.obs.CacheMiss()

	v, err, _ := o.group.Do(key, func() (interface{}, error) {
		// followers share this call, so it must outlive the leader's request
		shared := context.WithoutCancel(ctx)
		payload, ttl, err := compute(shared)
		if err != nil {
			return nil, err
		}

		if err := o.store.Set(shared, key, payload, ttl); err != nil {
			o.obs.CacheError("set")
			logger.Warn("cache set failed", "key", key, "ttl", ttl, "error", err)
		} else {
			logger.Debug("cached result", "key", key, "ttl", ttl, "bytes", len(payload))
		}
		return payload, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

var null = []byte("null")

// Encode serializes a result; a nil result encodes as JSON null
func Encode(res *types.Result) ([]byte, error) {
	if res == nil {
		return null, nil
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return payload, nil
}

// Decode parses a payload written by Encode
func Decode(payload []byte) (*types.Result, error) {
	if bytes.Equal(bytes.TrimSpace(payload), null) {
		return nil, nil
	}
	var res types.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("failed to decode cached result: %w", err)
	}
	return &res, nil
}
