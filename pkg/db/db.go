// Package db implements the persistent test catalog: a SQLite table of test
// metadata with the step list serialized into a blob column. The runtime
// core only ever sees the deserialized Test values.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/ormasoftchile/patui/pkg/types"
)

// ErrNotFound is returned when a test id does not exist in the catalog.
var ErrNotFound = errors.New("test not found")

// Store is the SQLite-backed catalog. A single shared connection serializes
// writers, avoiding SQLITE_BUSY from concurrent connections.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a structured logger for catalog operations.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open creates a Store using a local SQLite file at path.
func Open(path string, opts ...Option) (*Store, error) {
	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}
	handle.SetMaxOpenConns(1)
	s := &Store{db: handle, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Init creates the catalog schema.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS tests (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		name           TEXT NOT NULL,
		description    TEXT NOT NULL DEFAULT '',
		creation_date  TEXT NOT NULL,
		last_updated   TEXT NOT NULL,
		last_used_date TEXT,
		times_used     INTEGER NOT NULL DEFAULT 0,
		steps          BLOB NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create tests table: %w", err)
	}
	return nil
}

// Close releases the underlying handle.
func (s *Store) Close() error { return s.db.Close() }

func nowText() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Create inserts a test and returns it with id and dates filled in.
func (s *Store) Create(ctx context.Context, test types.Test) (types.Test, error) {
	if err := test.Validate(); err != nil {
		return types.Test{}, err
	}
	blob, err := types.EncodeSteps(test.Steps)
	if err != nil {
		return types.Test{}, err
	}
	now := nowText()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tests (name, description, creation_date, last_updated, times_used, steps)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		test.Name, test.Description, now, now, blob)
	if err != nil {
		return types.Test{}, fmt.Errorf("insert test %q: %w", test.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return types.Test{}, fmt.Errorf("insert test %q: %w", test.Name, err)
	}
	test.ID = id
	test.CreationDate = now
	test.LastUpdated = now
	s.logger.Debug("test created", "id", id, "name", test.Name)
	return test, nil
}

// Get loads one test by id.
func (s *Store) Get(ctx context.Context, id int64) (types.Test, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, creation_date, last_updated, last_used_date, times_used, steps
		 FROM tests WHERE id = ?`, id)
	return scanTest(row)
}

// List returns every test in the catalog, newest first.
func (s *Store) List(ctx context.Context) ([]types.Test, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, creation_date, last_updated, last_used_date, times_used, steps
		 FROM tests ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	defer rows.Close()

	var tests []types.Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// Update replaces a test's metadata and steps wholesale.
func (s *Store) Update(ctx context.Context, test types.Test) error {
	if err := test.Validate(); err != nil {
		return err
	}
	blob, err := types.EncodeSteps(test.Steps)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tests SET name = ?, description = ?, last_updated = ?, steps = ? WHERE id = ?`,
		test.Name, test.Description, nowText(), blob, test.ID)
	if err != nil {
		return fmt.Errorf("update test %d: %w", test.ID, err)
	}
	return requireRow(res, test.ID)
}

// Delete removes a test.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete test %d: %w", id, err)
	}
	return requireRow(res, id)
}

// TouchUsed records a run: bumps times_used and the last-used date.
func (s *Store) TouchUsed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tests SET times_used = times_used + 1, last_used_date = ? WHERE id = ?`,
		nowText(), id)
	if err != nil {
		return fmt.Errorf("touch test %d: %w", id, err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("test %d: %w", id, ErrNotFound)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTest(row scannable) (types.Test, error) {
	var t types.Test
	var lastUsed sql.NullString
	var blob []byte
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.CreationDate, &t.LastUpdated,
		&lastUsed, &t.TimesUsed, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Test{}, ErrNotFound
	}
	if err != nil {
		return types.Test{}, fmt.Errorf("scan test: %w", err)
	}
	if lastUsed.Valid {
		t.LastUsedDate = lastUsed.String
	}
	steps, err := types.DecodeSteps(blob)
	if err != nil {
		return types.Test{}, err
	}
	t.Steps = steps
	return t, nil
}
