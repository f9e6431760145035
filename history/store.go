// Package history persists marketplace events in SQLite and rebuilds
// per-token read state from the stored stream.
package history

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/pflow-xyz/go-market/event"
)

// Store is an append-only marketplace event history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

// migrate creates the schema if it doesn't exist.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		kind TEXT NOT NULL,
		token INTEGER NOT NULL,
		seller TEXT,
		buyer TEXT,
		price TEXT,
		paid TEXT,
		stage INTEGER,
		metadata TEXT,
		at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_token ON events(token);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for custom queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Append stores one event and fills in its assigned sequence number.
func (s *Store) Append(e *event.Event) error {
	res, err := s.db.Exec(
		`INSERT INTO events (id, kind, token, seller, buyer, price, paid, stage, metadata, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), int64(e.Token), e.Seller, e.Buyer,
		e.Price, e.Paid, int64(e.Stage), e.Metadata, e.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("event sequence: %w", err)
	}
	e.Seq = seq
	return nil
}

// ByToken returns a token's events in append order.
func (s *Store) ByToken(token uint64) ([]event.Event, error) {
	return s.query(`SELECT seq, id, kind, token, seller, buyer, price, paid, stage, metadata, at
		FROM events WHERE token = ? ORDER BY seq`, int64(token))
}

// All returns every stored event in append order.
func (s *Store) All() ([]event.Event, error) {
	return s.query(`SELECT seq, id, kind, token, seller, buyer, price, paid, stage, metadata, at
		FROM events ORDER BY seq`)
}

// Count returns the number of stored events.
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (s *Store) query(q string, args ...any) ([]event.Event, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var e event.Event
		var kind string
		var token, stage int64
		if err := rows.Scan(&e.Seq, &e.ID, &kind, &token, &e.Seller, &e.Buyer,
			&e.Price, &e.Paid, &stage, &e.Metadata, &e.At); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = event.Kind(kind)
		e.Token = uint64(token)
		e.Stage = uint64(stage)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Recorder adapts a Store into a fire-and-forget event sink. Append
// failures are logged, never propagated to the emitting operation.
type Recorder struct {
	store  *Store
	logger *slog.Logger
}

// NewRecorder wraps the store; a nil logger falls back to slog.Default.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Emit appends the event to the store.
func (r *Recorder) Emit(e event.Event) {
	if err := r.store.Append(&e); err != nil {
		r.logger.Error("Event append failed", "kind", e.Kind, "token", e.Token, "error", err)
	}
}
