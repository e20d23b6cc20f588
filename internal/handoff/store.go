// Package handoff keeps the data one page hands to the next (a prediction,
// its image preview, a patient record) under a random id, so the receiving
// page still renders after a reload.
package handoff

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"ensemblelung/internal/predictor"
)

// ErrNotFound is returned for unknown, malformed or expired ids.
var ErrNotFound = errors.New("navigation state not found")

// Preview is the uploaded image, served back to the result page.
type Preview struct {
	ContentType string
	Data        []byte
}

// PatientRecord is shown by the patient details page. It is never validated.
type PatientRecord struct {
	Name  string `json:"name"`
	Age   string `json:"age"`
	Sex   string `json:"sex"`
	Date  string `json:"date"`
	Notes string `json:"notes"`
}

// IsEmpty reports whether no field was filled in.
func (p PatientRecord) IsEmpty() bool {
	return p == PatientRecord{}
}

// State is one navigation hand-off.
type State struct {
	ID        string
	Data      *predictor.Prediction
	Preview   *Preview
	Patient   *PatientRecord
	CreatedAt time.Time
}

type payload struct {
	Data    *predictor.Prediction `json:"data,omitempty"`
	Patient *PatientRecord        `json:"patient,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS nav_state (
	id           TEXT PRIMARY KEY,
	payload      TEXT NOT NULL,
	preview      BLOB,
	preview_type TEXT,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS nav_state_created_at ON nav_state(created_at);
`

// Store persists State rows in SQLite.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// Open opens (and creates) the database at path. ":memory:" gives a private in-memory database.
// Entries older than ttl are treated as absent.
func Open(path string, ttl time.Duration) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	if path == ":memory:" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// each connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, ttl: ttl, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores st under a new id and returns the id.
func (s *Store) Put(ctx context.Context, st State) (string, error) {
	id := uuid.NewString()
	body, err := json.Marshal(payload{Data: st.Data, Patient: st.Patient})
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	var preview []byte
	var previewType sql.NullString
	if st.Preview != nil {
		preview = st.Preview.Data
		previewType = sql.NullString{String: st.Preview.ContentType, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nav_state (id, payload, preview, preview_type, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, string(body), preview, previewType, s.now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("insert state: %w", err)
	}
	return id, nil
}

// Get returns the state stored under id, preview included.
func (s *Store) Get(ctx context.Context, id string) (State, error) {
	if _, err := uuid.Parse(id); err != nil {
		return State{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT payload, preview, preview_type, created_at
		FROM nav_state
		WHERE id = ? AND created_at >= ?
	`, id, s.cutoff())

	var body string
	var preview []byte
	var previewType sql.NullString
	var createdAt int64
	if err := row.Scan(&body, &preview, &previewType, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return State{}, ErrNotFound
		}
		return State{}, fmt.Errorf("query state: %w", err)
	}

	var p payload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	st := State{
		ID:        id,
		Data:      p.Data,
		Patient:   p.Patient,
		CreatedAt: time.Unix(0, createdAt),
	}
	if previewType.Valid {
		st.Preview = &Preview{ContentType: previewType.String, Data: preview}
	}
	return st, nil
}

// Prune deletes entries older than the store's ttl and returns how many went.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM nav_state WHERE created_at < ?`, s.cutoff())
	if err != nil {
		return 0, fmt.Errorf("prune states: %w", err)
	}
	return res.RowsAffected()
}

// RunPruner prunes every interval until ctx is done.
func (s *Store) RunPruner(ctx context.Context, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Prune(ctx)
			if err != nil {
				log.Warn("navigation state prune failed", "error", err)
				continue
			}
			if n > 0 {
				log.Debug("navigation state pruned", "removed", n)
			}
		}
	}
}

func (s *Store) cutoff() int64 {
	return s.now().Add(-s.ttl).UnixNano()
}
