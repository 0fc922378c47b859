package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"garvis/internal/domain"

	_ "modernc.org/sqlite"
)

// InMemoryDSN keeps the database private to the process.
const InMemoryDSN = ":memory:"

// SQLiteTaskStore implements domain.TaskStore on SQLite.
type SQLiteTaskStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.TaskStore = (*SQLiteTaskStore)(nil)

// NewSQLiteTaskStore opens dsn and migrates the schema. An empty dsn or
// InMemoryDSN gives a database that lives as long as the store.
func NewSQLiteTaskStore(dsn string, logger *slog.Logger) (*SQLiteTaskStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dsn == "" {
		dsn = InMemoryDSN
	}

	if !isMemoryDSN(dsn) {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// One long-lived connection: an in-memory database is per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteTaskStore{db: db, logger: logger}, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == InMemoryDSN || strings.HasPrefix(dsn, "file::memory:") || strings.Contains(dsn, "mode=memory")
}

func (s *SQLiteTaskStore) Add(ctx context.Context, task domain.Task) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, user_id, title, completed, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		task.ID, task.UserID, task.Title, task.Completed, task.CreatedAt, task.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// List returns the user's tasks, oldest first.
func (s *SQLiteTaskStore) List(ctx context.Context, userID string) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, completed, created_at, completed_at
		 FROM tasks WHERE user_id = ?
		 ORDER BY created_at, rowid`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// FindByPrefix returns the user's oldest task whose id starts with prefix,
// or nil when there is none.
func (s *SQLiteTaskStore) FindByPrefix(ctx context.Context, userID, prefix string) (*domain.Task, error) {
	if prefix == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, completed, created_at, completed_at
		 FROM tasks WHERE user_id = ? AND substr(id, 1, ?) = ?
		 ORDER BY created_at, rowid LIMIT 1`,
		userID, len(prefix), strings.ToLower(prefix),
	)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteTaskStore) Complete(ctx context.Context, userID, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET completed = 1, completed_at = ? WHERE user_id = ? AND id = ?`,
		at, userID, id,
	)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteTaskStore) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE user_id = ? AND id = ?`, userID, id,
	)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteTaskStore) Close() error {
	return s.db.Close()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (domain.Task, error) {
	var t domain.Task
	var completedAt sql.NullTime
	if err := sc.Scan(&t.ID, &t.UserID, &t.Title, &t.Completed, &t.CreatedAt, &completedAt); err != nil {
		return domain.Task{}, err
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return t, nil
}
