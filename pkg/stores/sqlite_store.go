package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/openfroyo/awxlab/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore keeps run history in a SQLite database. It implements
// engine.Recorder and engine.EventPublisher.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

var (
	_ engine.Recorder       = (*SQLiteStore)(nil)
	_ engine.EventPublisher = (*SQLiteStore)(nil)
)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens its own empty database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Open creates, initializes and migrates a store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Init opens the database, creating its directory if needed, and enables
// WAL mode and foreign keys.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if s.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	pragmas := []string{"foreign_keys(1)", "busy_timeout(5000)"}
	if s.path != ":memory:" {
		pragmas = append(pragmas, "journal_mode(WAL)", "synchronous(NORMAL)")
	}
	dsn := s.path + "?_pragma=" + strings.Join(pragmas, "&_pragma=")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginRun implements engine.Recorder.
func (s *SQLiteStore) BeginRun(ctx context.Context, run *engine.Run) error {
	query := `
		INSERT INTO runs (id, operation, declaration, status, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Operation,
		run.Declaration,
		string(run.Status),
		run.StartedAt.UTC(),
		nullTime(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// FinishRun implements engine.Recorder.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status engine.RunStatus, completedAt time.Time) error {
	query := `UPDATE runs SET status = ?, completed_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, string(status), completedAt.UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}

	return nil
}

// RecordDecision implements engine.Recorder. Decisions that carry a
// controller id also update the last known id of the resource; a delete
// forgets it.
func (s *SQLiteStore) RecordDecision(ctx context.Context, d *engine.DecisionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO decisions (run_id, kind, name, scope, resource_id, decision, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.RunID,
		string(d.Kind),
		d.Name,
		d.Scope,
		d.ResourceID,
		string(d.Decision),
		d.Detail,
		d.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}

	switch d.Decision {
	case engine.DecisionReused, engine.DecisionCreated:
		if d.ResourceID == 0 {
			break
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO resources (kind, name, scope, resource_id, last_decision, last_run_id, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(kind, name, scope) DO UPDATE SET
				resource_id = excluded.resource_id,
				last_decision = excluded.last_decision,
				last_run_id = excluded.last_run_id,
				updated_at = excluded.updated_at
		`, string(d.Kind), d.Name, d.Scope, d.ResourceID, string(d.Decision), d.RunID, d.RecordedAt.UTC())
	case engine.DecisionDeleted, engine.DecisionAbsent:
		// Teardown decisions carry no scope; match them by id, else by name.
		switch {
		case d.ResourceID != 0:
			_, err = tx.ExecContext(ctx,
				`DELETE FROM resources WHERE kind = ? AND resource_id = ?`,
				string(d.Kind), d.ResourceID)
		case d.Scope != engine.NoScope:
			_, err = tx.ExecContext(ctx,
				`DELETE FROM resources WHERE kind = ? AND name = ? AND scope = ?`,
				string(d.Kind), d.Name, d.Scope)
		default:
			_, err = tx.ExecContext(ctx,
				`DELETE FROM resources WHERE kind = ? AND name = ?`,
				string(d.Kind), d.Name)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to update resource state: %w", err)
	}

	return tx.Commit()
}

// Publish implements engine.EventPublisher by appending the event to the
// run's timeline.
func (s *SQLiteStore) Publish(ctx context.Context, event *engine.Event) error {
	if event == nil {
		return nil
	}
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	level := event.Level
	if level == "" {
		level = event.Type.Severity()
	}

	details := []byte("{}")
	if len(event.Details) > 0 {
		var err error
		if details, err = json.Marshal(event.Details); err != nil {
			return fmt.Errorf("failed to encode event details: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, run_id, type, level, kind, name, resource_id, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		event.RunID,
		string(event.Type),
		level,
		string(event.Kind),
		event.Name,
		event.ResourceID,
		event.Message,
		string(details),
		ts.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunSummary, error) {
	query := runSummaryQuery + ` WHERE r.id = ? GROUP BY r.id`

	run, err := scanRunSummary(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// LatestRun returns the most recent run, or ErrNotFound when there is none.
func (s *SQLiteStore) LatestRun(ctx context.Context) (*RunSummary, error) {
	runs, err := s.ListRuns(ctx, RunFilter{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("no runs recorded: %w", ErrNotFound)
	}
	return runs[0], nil
}

const runSummaryQuery = `
	SELECT r.id, r.operation, r.declaration, r.status, r.started_at, r.completed_at,
		COUNT(d.id),
		COALESCE(SUM(CASE WHEN d.decision IN ('rejected', 'failed', 'skipped') THEN 1 ELSE 0 END), 0)
	FROM runs r
	LEFT JOIN decisions d ON d.run_id = r.id`

// ListRuns lists runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunSummary, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Operation != "" {
		where = append(where, "r.operation = ?")
		args = append(args, filter.Operation)
	}
	if filter.Status != "" {
		where = append(where, "r.status = ?")
		args = append(args, string(filter.Status))
	}

	query := runSummaryQuery
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " GROUP BY r.id ORDER BY r.started_at DESC, r.id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunSummary{}
	for rows.Next() {
		run, err := scanRunSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRunSummary(row scanner) (*RunSummary, error) {
	run := &RunSummary{}
	var (
		status      string
		completedAt sql.NullTime
	)
	err := row.Scan(
		&run.ID,
		&run.Operation,
		&run.Declaration,
		&status,
		&run.StartedAt,
		&completedAt,
		&run.Decisions,
		&run.Failures,
	)
	if err != nil {
		return nil, err
	}
	run.Status = engine.RunStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return run, nil
}

// ListDecisions returns the decisions of a run in the order they were made.
func (s *SQLiteStore) ListDecisions(ctx context.Context, runID string) ([]*Decision, error) {
	query := `
		SELECT id, run_id, kind, name, scope, resource_id, decision, detail, recorded_at
		FROM decisions
		WHERE run_id = ?
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	decisions := []*Decision{}
	for rows.Next() {
		d := &Decision{}
		var kind, decision string
		err := rows.Scan(
			&d.ID,
			&d.RunID,
			&kind,
			&d.Name,
			&d.Scope,
			&d.ResourceID,
			&decision,
			&d.Detail,
			&d.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		d.Kind = engine.Kind(kind)
		d.Decision = engine.Decision(decision)
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}

	return decisions, nil
}

// ListEvents returns the timeline of a run, oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]*engine.Event, error) {
	query := `
		SELECT id, run_id, type, level, kind, name, resource_id, message, details, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY rowid
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*engine.Event{}
	for rows.Next() {
		e := &engine.Event{}
		var eventType, kind, details string
		err := rows.Scan(
			&e.ID,
			&e.RunID,
			&eventType,
			&e.Level,
			&kind,
			&e.Name,
			&e.ResourceID,
			&e.Message,
			&details,
			&e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = engine.EventType(eventType)
		e.Kind = engine.Kind(kind)
		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, fmt.Errorf("failed to decode details of event %s: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// ListResources returns the last known controller ids of declared
// resources, in setup order of their kinds.
func (s *SQLiteStore) ListResources(ctx context.Context) ([]*ResourceState, error) {
	query := `
		SELECT kind, name, scope, resource_id, last_decision, last_run_id, updated_at
		FROM resources
		ORDER BY CASE kind
			WHEN 'inventory' THEN 0
			WHEN 'group' THEN 1
			WHEN 'host' THEN 2
			WHEN 'project' THEN 3
			WHEN 'job_template' THEN 4
			ELSE 5 END, name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource states: %w", err)
	}
	defer rows.Close()

	states := []*ResourceState{}
	for rows.Next() {
		state := &ResourceState{}
		var kind, decision string
		err := rows.Scan(
			&kind,
			&state.Name,
			&state.Scope,
			&state.ResourceID,
			&decision,
			&state.LastRunID,
			&state.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource state: %w", err)
		}
		state.Kind = engine.Kind(kind)
		state.LastDecision = engine.Decision(decision)
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resource states: %w", err)
	}

	return states, nil
}

// DeleteRunsBefore removes runs started before cutoff together with their
// decisions and events, and returns how many runs were removed.
func (s *SQLiteStore) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return result.RowsAffected()
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
