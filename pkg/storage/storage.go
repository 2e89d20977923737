package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrStoreUnavailable wraps failures of an underlying store
var ErrStoreUnavailable = errors.New("store unavailable")

// Config holds cache store configuration
type Config struct {
	Path             string
	CompressionLevel int
	GCInterval       time.Duration
}

// DefaultConfig returns default cache store configuration
func DefaultConfig() *Config {
	return &Config{
		Path:             "./data/cache",
		CompressionLevel: 2,
		GCInterval:       5 * time.Minute,
	}
}

// BadgerCache is a cache store on BadgerDB. Entries expire through badger's
// native per-key TTL.
type BadgerCache struct {
	cfg        *Config
	db         *badger.DB
	compressor *Compressor

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewBadgerCache opens a badger-backed cache store
func NewBadgerCache(cfg *Config) (*BadgerCache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	// Initialize BadgerDB
	opts := badger.DefaultOptions(filepath.Join(cfg.Path, "badger"))
	opts.Logger = nil // Disable BadgerDB logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	// Create compressor
	compressor, err := NewCompressor(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	c := &BadgerCache{
		cfg:        cfg,
		db:         db,
		compressor: compressor,
		stop:       make(chan struct{}),
	}

	if cfg.GCInterval > 0 {
		c.wg.Add(1)
		go c.gcLoop(cfg.GCInterval)
	}

	return c, nil
}

// Get returns the payload stored under key
func (c *BadgerCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var frame []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		frame, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to read cache entry: %w", ErrStoreUnavailable, err)
	}

	payload, err := c.compressor.Decompress(frame)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return payload, true, nil
}

// Set stores payload under key for ttl
func (c *BadgerCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("invalid ttl %s for key %s", ttl, key)
	}

	frame := c.compressor.Compress(payload)
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), frame).WithTTL(ttl))
	})
	if err != nil {
		return fmt.Errorf("%w: failed to write cache entry: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// gcLoop reclaims value log space left behind by expired entries
func (c *BadgerCache) gcLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			for c.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

// Close stops background GC and closes the database
func (c *BadgerCache) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stop)
		c.wg.Wait()
		c.compressor.Close()
		err = c.db.Close()
	})
	return err
}
