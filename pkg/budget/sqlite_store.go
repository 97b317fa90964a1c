package budget

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore - хранилище счётчиков в SQLite.
//
// Списание выполняется одним UPDATE с условием value >= amount, поэтому
// оно атомарно и для нескольких процессов, открывших один файл базы.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore открывает (и при необходимости создаёт) базу по пути dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite сериализует запись; один коннект убирает SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close закрывает соединение с базой.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS budget_counters (
		key        TEXT PRIMARY KEY,
		value      INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SetWithExpiry реализует Store.
func (s *SQLiteStore) SetWithExpiry(ctx context.Context, key string, value int, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_counters (key, value, expires_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE
		 SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, s.now().Add(ttl).UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Get реализует Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (int, bool, error) {
	var value int
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM budget_counters WHERE key = ? AND expires_at > ?`,
		key, s.now().UnixNano(),
	).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// DecrementIfAtLeast реализует Store.
func (s *SQLiteStore) DecrementIfAtLeast(ctx context.Context, key string, amount int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE budget_counters SET value = value - ?
		 WHERE key = ? AND value >= ? AND expires_at > ?`,
		amount, key, amount, s.now().UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("decrement %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decrement %s: %w", key, err)
	}
	return n == 1, nil
}

var _ Store = (*SQLiteStore)(nil)
