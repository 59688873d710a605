package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"calgrid/internal/model"
)

// SourceID marks events that live in the local store.
const SourceID = "local"

// timeLayout is fixed-width so stored values sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var (
	ErrNotFound     = errors.New("event not found")
	ErrInvalidEvent = errors.New("invalid event")
)

// Storage keeps user-created events in SQLite.
type Storage struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at dbPath and applies migrations.
func Open(dbPath string) (*Storage, error) {
	if dbPath == "" {
		return nil, errors.New("storage: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			all_day INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_events_end ON events(end_time)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the fields a stored event needs.
func Validate(ev model.Event) error {
	if strings.TrimSpace(ev.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidEvent)
	}
	if ev.Start.IsZero() {
		return fmt.Errorf("%w: start is required", ErrInvalidEvent)
	}
	if !ev.End.IsZero() && ev.End.Before(ev.Start) {
		return fmt.Errorf("%w: end is before start", ErrInvalidEvent)
	}
	return nil
}

// Create stores a new event. A random ID is assigned when ev.ID is empty.
func (s *Storage) Create(ctx context.Context, ev model.Event) (model.Event, error) {
	if err := Validate(ev); err != nil {
		return model.Event{}, err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev = normalize(ev)
	now := formatTime(s.now())

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, title, category, color, start_time, end_time, all_day, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Title, ev.Category, ev.Color, formatTime(ev.Start), formatTime(ev.End), ev.AllDay, now, now,
	)
	if err != nil {
		return model.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return ev, nil
}

// Get returns the event with the given id or ErrNotFound.
func (s *Storage) Get(ctx context.Context, id string) (model.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, category, color, start_time, end_time, all_day FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, ErrNotFound
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// Update replaces all fields of an existing event.
func (s *Storage) Update(ctx context.Context, ev model.Event) (model.Event, error) {
	if err := Validate(ev); err != nil {
		return model.Event{}, err
	}
	ev = normalize(ev)

	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET title = ?, category = ?, color = ?, start_time = ?, end_time = ?, all_day = ?, updated_at = ?
		 WHERE id = ?`,
		ev.Title, ev.Category, ev.Color, formatTime(ev.Start), formatTime(ev.End), ev.AllDay, formatTime(s.now()), ev.ID,
	)
	if err != nil {
		return model.Event{}, fmt.Errorf("update event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Event{}, ErrNotFound
	}
	return ev, nil
}

func (s *Storage) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every stored event ordered by start.
func (s *Storage) List(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, category, color, start_time, end_time, all_day FROM events
		 ORDER BY start_time, id`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return collect(rows)
}

// ListRange returns events whose inclusive [start, end] intersects
// [from, to], ordered by start.
func (s *Storage) ListRange(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, category, color, start_time, end_time, all_day FROM events
		 WHERE start_time <= ? AND end_time >= ?
		 ORDER BY start_time, id`,
		formatTime(to), formatTime(from),
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return collect(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (model.Event, error) {
	var (
		ev         model.Event
		start, end string
	)
	if err := row.Scan(&ev.ID, &ev.Title, &ev.Category, &ev.Color, &start, &end, &ev.AllDay); err != nil {
		return model.Event{}, err
	}
	var err error
	if ev.Start, err = time.Parse(timeLayout, start); err != nil {
		return model.Event{}, fmt.Errorf("parse start_time: %w", err)
	}
	if ev.End, err = time.Parse(timeLayout, end); err != nil {
		return model.Event{}, fmt.Errorf("parse end_time: %w", err)
	}
	ev.SourceID = SourceID
	return ev, nil
}

func collect(rows *sql.Rows) ([]model.Event, error) {
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func normalize(ev model.Event) model.Event {
	ev.Title = strings.TrimSpace(ev.Title)
	ev.SourceID = SourceID
	ev.End = ev.EffectiveEnd()
	return ev
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
