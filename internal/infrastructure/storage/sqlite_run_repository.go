package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

// SQLiteRunRepository журнал запусков в файле sqlite
type SQLiteRunRepository struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteRunRepository открывает базу и создаёт таблицу при первом запуске
func NewSQLiteRunRepository(path string) (*SQLiteRunRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open run database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	r := &SQLiteRunRepository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate run database: %w", err)
	}
	return r, nil
}

func (r *SQLiteRunRepository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		slide TEXT NOT NULL,
		process TEXT NOT NULL,
		state TEXT NOT NULL,
		backend TEXT NOT NULL DEFAULT '',
		format TEXT NOT NULL DEFAULT '',
		level INTEGER NOT NULL DEFAULT 0,
		reused INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_slide ON runs(slide);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Append добавляет запись в конец журнала
func (r *SQLiteRunRepository) Append(ctx context.Context, rec entity.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, slide, process, state, backend, format, level, reused, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Slide, rec.Process, string(rec.State), string(rec.Backend), string(rec.Format),
		rec.Level, rec.Reused, rec.Error, rec.StartedAt.UTC(), rec.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// List возвращает записи слайда в порядке добавления, пустой slideID: все записи
func (r *SQLiteRunRepository) List(ctx context.Context, slideID string) ([]entity.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	query := `
		SELECT id, slide, process, state, backend, format, level, reused, error, started_at, finished_at
		FROM runs
	`
	var args []any
	if slideID != "" {
		query += " WHERE slide = ?"
		args = append(args, slideID)
	}
	query += " ORDER BY seq"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []entity.RunRecord
	for rows.Next() {
		var (
			rec                    entity.RunRecord
			state, backend, format string
			startedAt, finishedAt  time.Time
		)
		err := rows.Scan(&rec.ID, &rec.Slide, &rec.Process, &state, &backend, &format,
			&rec.Level, &rec.Reused, &rec.Error, &startedAt, &finishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.State = entity.RunState(state)
		rec.Backend = entity.BackendName(backend)
		rec.Format = entity.Format(format)
		rec.StartedAt, rec.FinishedAt = startedAt, finishedAt
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// Close закрывает соединение с базой
func (r *SQLiteRunRepository) Close() error {
	return r.db.Close()
}

var _ port.RunRepository = (*SQLiteRunRepository)(nil)
