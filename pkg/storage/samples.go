package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	// Import modernc.org/sqlite as a blank import to register the driver
	_ "modernc.org/sqlite"

	"github.com/vjranagit/wattcache/pkg/tariff"
	"github.com/vjranagit/wattcache/pkg/types"
)

// SQLStore holds sensors, their samples and the provider registry in SQLite
type SQLStore struct {
	db   *sql.DB
	path string
}

// NewSQLStore opens the database at path and creates the schema
func NewSQLStore(path string) (*SQLStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqlDB.PingContext(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLStore{db: sqlDB, path: path}

	if err := s.configure(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	if err := s.createSchema(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return s, nil
}

// Path returns the database file path
func (s *SQLStore) Path() string {
	return s.path
}

func (s *SQLStore) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(context.Background(), pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

func (s *SQLStore) createSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sensors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);
	CREATE TABLE IF NOT EXISTS measures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sensor_id INTEGER NOT NULL REFERENCES sensors(id) ON DELETE CASCADE,
		value REAL NOT NULL,
		timestamp INTEGER NOT NULL,
		night_rate INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_measures_sensor_time ON measures(sensor_id, timestamp);
	CREATE TABLE IF NOT EXISTS providers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		day_slope REAL NOT NULL DEFAULT 0,
		day_constant REAL NOT NULL DEFAULT 0,
		night_slope REAL NOT NULL DEFAULT 0,
		night_constant REAL NOT NULL DEFAULT 0,
		current INTEGER NOT NULL DEFAULT 0,
		threshold INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Close closes the database connection gracefully
func (s *SQLStore) Close() error {
	// Checkpoint WAL before closing
	_, _ = s.db.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", ErrStoreUnavailable, op, err)
}

// AddSensor registers a sensor and returns its id
func (s *SQLStore) AddSensor(ctx context.Context, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO sensors (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to insert sensor %q: %w", name, err)
	}
	return res.LastInsertId()
}

// Sensors lists the registered sensors
func (s *SQLStore) Sensors(ctx context.Context) ([]types.Sensor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM sensors ORDER BY id`)
	if err != nil {
		return nil, unavailable("query sensors", err)
	}
	defer func() { _ = rows.Close() }()

	var sensors []types.Sensor
	for rows.Next() {
		var sensor types.Sensor
		if err := rows.Scan(&sensor.ID, &sensor.Name); err != nil {
			return nil, fmt.Errorf("failed to scan sensor: %w", err)
		}
		sensors = append(sensors, sensor)
	}
	return sensors, rows.Err()
}

// Sensor returns one sensor, or nil when none has that id
func (s *SQLStore) Sensor(ctx context.Context, id int64) (*types.Sensor, error) {
	var sensor types.Sensor
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM sensors WHERE id = ?`, id).
		Scan(&sensor.ID, &sensor.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("query sensor", err)
	}
	return &sensor, nil
}

// InsertSamples stores samples in one transaction and fills in their ids
func (s *SQLStore) InsertSamples(ctx context.Context, samples []types.Sample) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO measures (sensor_id, value, timestamp, night_rate) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range samples {
		res, err := stmt.ExecContext(ctx,
			samples[i].SensorID, samples[i].Value, samples[i].Timestamp, nightFlag(samples[i].Tariff))
		if err != nil {
			return fmt.Errorf("failed to insert sample: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			samples[i].ID = id
		}
	}

	return tx.Commit()
}

func nightFlag(t types.Tariff) int {
	if t == types.TariffNight {
		return 1
	}
	return 0
}

const sampleColumns = `id, sensor_id, value, timestamp, night_rate`

// SamplesByID returns samples by id range, see aggregate.Source
func (s *SQLStore) SamplesByID(ctx context.Context, sensorID, id1, id2 int64, ascending bool) ([]types.Sample, error) {
	if ascending {
		return s.querySamples(ctx, `
			SELECT `+sampleColumns+` FROM measures
			WHERE sensor_id = ? AND id >= ? AND id < ?
			ORDER BY timestamp ASC, id ASC`,
			sensorID, id1, id2)
	}

	limit := id2 - id1
	if limit <= 0 {
		return nil, nil
	}
	return s.querySamples(ctx, `
		SELECT `+sampleColumns+` FROM measures
		WHERE sensor_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`,
		sensorID, limit, -id2)
}

// SamplesByTime returns samples with timestamp in [t1, t2), ascending
func (s *SQLStore) SamplesByTime(ctx context.Context, sensorID, t1, t2 int64) ([]types.Sample, error) {
	return s.querySamples(ctx, `
		SELECT `+sampleColumns+` FROM measures
		WHERE sensor_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC, id ASC`,
		sensorID, t1, t2)
}

// SampleByID returns one sample; negative ids count back from the latest
func (s *SQLStore) SampleByID(ctx context.Context, sensorID, id int64) (*types.Sample, error) {
	if id < 0 {
		return s.querySample(ctx, `
			SELECT `+sampleColumns+` FROM measures
			WHERE sensor_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT 1 OFFSET ?`,
			sensorID, -id-1)
	}
	return s.querySample(ctx, `
		SELECT `+sampleColumns+` FROM measures
		WHERE sensor_id = ? AND id = ?`,
		sensorID, id)
}

// SampleByTime returns the sample recorded at ts
func (s *SQLStore) SampleByTime(ctx context.Context, sensorID, ts int64) (*types.Sample, error) {
	return s.querySample(ctx, `
		SELECT `+sampleColumns+` FROM measures
		WHERE sensor_id = ? AND timestamp = ?
		ORDER BY id ASC
		LIMIT 1`,
		sensorID, ts)
}

func (s *SQLStore) querySamples(ctx context.Context, query string, args ...any) ([]types.Sample, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query samples", err)
	}
	defer func() { _ = rows.Close() }()

	var samples []types.Sample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("read samples", err)
	}
	return samples, nil
}

func (s *SQLStore) querySample(ctx context.Context, query string, args ...any) (*types.Sample, error) {
	sample, err := scanSample(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sample, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSample(row scanner) (types.Sample, error) {
	var (
		sample types.Sample
		night  int
	)
	err := row.Scan(&sample.ID, &sample.SensorID, &sample.Value, &sample.Timestamp, &night)
	if errors.Is(err, sql.ErrNoRows) {
		return sample, err
	}
	if err != nil {
		return sample, fmt.Errorf("failed to scan sample: %w", err)
	}
	if night != 0 {
		sample.Tariff = types.TariffNight
	}
	return sample, nil
}

const providerColumns = `id, name, day_slope, day_constant, night_slope, night_constant, current, threshold`

// Provider resolves a provider by id, or the current one. A missing
// provider yields nil without error.
func (s *SQLStore) Provider(ctx context.Context, ref tariff.ProviderRef) (*types.TariffModel, error) {
	var row *sql.Row
	if ref == tariff.Current {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+providerColumns+` FROM providers WHERE current = 1 ORDER BY id LIMIT 1`)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+providerColumns+` FROM providers WHERE id = ?`, int64(ref))
	}

	m, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("query provider", err)
	}
	return &m, nil
}

// Providers lists every known provider
func (s *SQLStore) Providers(ctx context.Context) ([]types.TariffModel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+providerColumns+` FROM providers ORDER BY id`)
	if err != nil {
		return nil, unavailable("query providers", err)
	}
	defer func() { _ = rows.Close() }()

	var providers []types.TariffModel
	for rows.Next() {
		m, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		providers = append(providers, m)
	}
	return providers, rows.Err()
}

func scanProvider(row scanner) (types.TariffModel, error) {
	var (
		m       types.TariffModel
		current int
	)
	err := row.Scan(&m.ID, &m.Name, &m.DaySlope, &m.DayConstant,
		&m.NightSlope, &m.NightConstant, &current, &m.Threshold)
	m.Current = current != 0
	return m, err
}

// UpsertProvider inserts or updates a provider by name and returns its id.
// Marking a provider current clears the flag on every other provider.
func (s *SQLStore) UpsertProvider(ctx context.Context, m types.TariffModel) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	current := 0
	if m.Current {
		current = 1
		if _, err := tx.ExecContext(ctx, `UPDATE providers SET current = 0`); err != nil {
			return 0, fmt.Errorf("failed to clear current provider: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO providers (name, day_slope, day_constant, night_slope, night_constant, current, threshold)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			day_slope = excluded.day_slope,
			day_constant = excluded.day_constant,
			night_slope = excluded.night_slope,
			night_constant = excluded.night_constant,
			current = excluded.current,
			threshold = excluded.threshold`,
		m.Name, m.DaySlope, m.DayConstant, m.NightSlope, m.NightConstant, current, m.Threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert provider %q: %w", m.Name, err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM providers WHERE name = ?`, m.Name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read provider id: %w", err)
	}

	return id, tx.Commit()
}
