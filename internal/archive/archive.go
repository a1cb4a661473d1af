// Package archive keeps completed analyses in SQLite so reports can be
// fetched and re-rendered after the request that produced them.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/clinical-agents/internal/clinical"
)

var ErrNotFound = errors.New("analysis not found")

const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS analyses (
	id         TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	status     TEXT NOT NULL,
	degraded   INTEGER NOT NULL DEFAULT 0,
	symptoms   TEXT NOT NULL DEFAULT '',
	state_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS analyses_created_at ON analyses (created_at DESC);
`

type Store struct {
	db     *sqlx.DB
	clock  func() time.Time
	logger *zap.Logger
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Entry is the listing view of one stored analysis.
type Entry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
	Degraded  bool      `json:"degraded"`
	Symptoms  string    `json:"symptoms"`
}

type row struct {
	ID        string `db:"id"`
	CreatedAt string `db:"created_at"`
	Status    string `db:"status"`
	Degraded  bool   `db:"degraded"`
	Symptoms  string `db:"symptoms"`
	StateJSON string `db:"state_json"`
}

func Open(dbPath string, opts ...Option) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	s := &Store{db: db, clock: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores st under its run id, replacing any earlier copy.
func (s *Store) Save(ctx context.Context, st clinical.State) error {
	id := strings.TrimSpace(st.Metadata.RunID)
	if id == "" {
		return errors.New("state has no run id")
	}
	body, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	created := st.Metadata.StartedAt
	if created.IsZero() {
		created = s.clock()
	}
	_, err = s.db.NamedExecContext(ctx, `INSERT OR REPLACE INTO analyses (id, created_at, status, degraded, symptoms, state_json)
		VALUES (:id, :created_at, :status, :degraded, :symptoms, :state_json)`, row{
		ID:        id,
		CreatedAt: created.UTC().Format(timeLayout),
		Status:    string(st.Metadata.Status),
		Degraded:  st.Metadata.Degraded,
		Symptoms:  strings.TrimSpace(st.Symptoms),
		StateJSON: string(body),
	})
	if err != nil {
		return fmt.Errorf("save analysis %s: %w", id, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (clinical.State, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT id, created_at, status, degraded, symptoms, state_json FROM analyses WHERE id = ?`, strings.TrimSpace(id))
	if errors.Is(err, sql.ErrNoRows) {
		return clinical.State{}, ErrNotFound
	}
	if err != nil {
		return clinical.State{}, fmt.Errorf("load analysis %s: %w", id, err)
	}
	var st clinical.State
	if err := json.Unmarshal([]byte(r.StateJSON), &st); err != nil {
		return clinical.State{}, fmt.Errorf("decode analysis %s: %w", id, err)
	}
	return st, nil
}

// List returns the newest analyses first. Rows with an unreadable
// created_at are logged and left out.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, created_at, status, degraded, symptoms, '' AS state_json
		FROM analyses ORDER BY created_at DESC, id LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		created, err := time.Parse(timeLayout, r.CreatedAt)
		if err != nil {
			s.logger.Warn("archive_row_skipped", zap.String("id", r.ID), zap.String("created_at", r.CreatedAt), zap.Error(err))
			continue
		}
		out = append(out, Entry{
			ID:        r.ID,
			CreatedAt: created,
			Status:    r.Status,
			Degraded:  r.Degraded,
			Symptoms:  r.Symptoms,
		})
	}
	return out, nil
}
