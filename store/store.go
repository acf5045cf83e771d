// Package store persists invocation records in a SQL database. SQLite and
// PostgreSQL are supported.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/samuelchassot/serverless-benchmarks/harness"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Record is one stored invocation. Failed invocations carry Stage and
// Error and no Measurement.
type Record struct {
	ID          string              `json:"id"`
	Benchmark   string              `json:"benchmark"`
	Operation   string              `json:"operation,omitempty"`
	Result      json.RawMessage     `json:"result,omitempty"`
	Measurement harness.Measurement `json:"measurement,omitempty"`
	Stage       string              `json:"stage,omitempty"`
	Error       string              `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Failed reports whether the invocation ended in an error.
func (r Record) Failed() bool { return r.Error != "" }

// NewRecord builds a record from the outcome of one invocation. Exactly
// one of env and err is expected to be non-nil.
func NewRecord(benchmark, op string, env *harness.Envelope, err error) (Record, error) {
	rec := Record{
		ID:        uuid.NewString(),
		Benchmark: benchmark,
		Operation: op,
		CreatedAt: time.Now().UTC(),
	}

	if err != nil {
		rec.Error = err.Error()
		rec.Stage, _ = harness.StageOf(err)

		return rec, nil
	}

	if env == nil {
		return rec, errors.New("record: no envelope and no error")
	}

	result, merr := json.Marshal(env.Result)
	if merr != nil {
		return rec, fmt.Errorf("encode result: %w", merr)
	}

	rec.Result = result
	rec.Measurement = env.Measurement

	return rec, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS invocations (
	id          TEXT PRIMARY KEY,
	benchmark   TEXT NOT NULL,
	operation   TEXT NOT NULL,
	result      TEXT NOT NULL,
	measurement TEXT NOT NULL,
	stage       TEXT NOT NULL,
	error       TEXT NOT NULL,
	created_at  BIGINT NOT NULL
)`

// Recorder persists invocation records. *Store implements it.
type Recorder interface {
	Save(ctx context.Context, rec Record) (Record, error)
}

// Store is a handle on the results database.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to dsn with driver and creates the schema if needed.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported results driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts rec, assigning an ID and timestamp when missing.
func (s *Store) Save(ctx context.Context, rec Record) (Record, error) {
	if rec.Benchmark == "" {
		return rec, errors.New("record has no benchmark")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	measurement := []byte("{}")
	if rec.Measurement != nil {
		var err error
		if measurement, err = json.Marshal(rec.Measurement); err != nil {
			return rec, fmt.Errorf("encode measurement: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO invocations
			(id, benchmark, operation, result, measurement, stage, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`),
		rec.ID,
		rec.Benchmark,
		rec.Operation,
		string(rec.Result),
		string(measurement),
		rec.Stage,
		rec.Error,
		rec.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return rec, fmt.Errorf("insert record %s: %w", rec.ID, err)
	}

	return rec, nil
}

// List returns the records of benchmark in insertion order. An empty
// benchmark lists every record.
func (s *Store) List(ctx context.Context, benchmark string) ([]Record, error) {
	query := `
		SELECT id, benchmark, operation, result, measurement, stage, error, created_at
		FROM invocations`
	var args []any

	if benchmark != "" {
		query += ` WHERE benchmark = $1`
		args = append(args, benchmark)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []Record

	for rows.Next() {
		var (
			rec         Record
			result      string
			measurement string
			created     int64
		)

		if err := rows.Scan(
			&rec.ID,
			&rec.Benchmark,
			&rec.Operation,
			&result,
			&measurement,
			&rec.Stage,
			&rec.Error,
			&created,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		if result != "" {
			rec.Result = json.RawMessage(result)
		}
		if !rec.Failed() {
			if err := json.Unmarshal([]byte(measurement), &rec.Measurement); err != nil {
				return nil, fmt.Errorf("decode measurement of %s: %w", rec.ID, err)
			}
		}
		rec.CreatedAt = time.UnixMicro(created).UTC()

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return records, nil
}

// rebind rewrites $N placeholders for drivers that expect '?'.
func (s *Store) rebind(query string) string {
	if s.driver != DriverSQLite {
		return query
	}

	var b strings.Builder

	for i := 0; i < len(query); i++ {
		if query[i] != '$' {
			b.WriteByte(query[i])
			continue
		}

		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}
		if _, err := strconv.Atoi(query[i+1 : j]); err != nil {
			b.WriteByte(query[i])
			continue
		}

		b.WriteByte('?')
		i = j - 1
	}

	return b.String()
}
