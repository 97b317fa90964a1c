package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ilkoid/cortex/pkg/llm"
)

// SQLiteStore - Store и TranscriptStore на SQLite.
//
// Эмбеддинги и сообщения хранятся в CBOR. Поиск соседей выполняется
// в Go по записям одного разговора: их немного, индекс не нужен.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLiteStore открывает базу по пути dbPath и создаёт схему.
func NewSQLiteStore(dbPath string, ttl time.Duration) (*SQLiteStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, ttl: ttl, now: time.Now}
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
	CREATE TABLE IF NOT EXISTS memory_records (
		handle          TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		key             TEXT NOT NULL,
		embedding       BLOB NOT NULL,
		payload         BLOB NOT NULL,
		created_at      INTEGER NOT NULL,
		expires_at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memory_records_conversation
		ON memory_records (conversation_id, expires_at);

	CREATE TABLE IF NOT EXISTS transcript_messages (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		message         BLOB NOT NULL,
		expires_at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcript_messages_conversation
		ON transcript_messages (conversation_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save реализует Store.
func (s *SQLiteStore) Save(ctx context.Context, conversationID, key string, embedding []float32, payload []byte, expiresAt time.Time) (string, error) {
	blob, err := cbor.Marshal(embedding)
	if err != nil {
		return "", fmt.Errorf("encode embedding: %w", err)
	}
	if payload == nil {
		payload = []byte{}
	}

	handle := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memory_records (handle, conversation_id, key, embedding, payload, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		handle, conversationID, key, blob, payload, s.now().UnixNano(), expiresAt.UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("save record: %w", err)
	}
	return handle, nil
}

// Query реализует Store.
func (s *SQLiteStore) Query(ctx context.Context, conversationID string, embedding []float32, k int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT handle, key, embedding, payload, created_at FROM memory_records
		 WHERE conversation_id = ? AND expires_at > ?`,
		conversationID, s.now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m       Match
			blob    []byte
			created int64
			vec     []float32
		)
		if err := rows.Scan(&m.Handle, &m.Key, &blob, &m.Payload, &created); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := cbor.Unmarshal(blob, &vec); err != nil {
			return nil, fmt.Errorf("decode embedding %s: %w", m.Handle, err)
		}
		m.Similarity = CosineSimilarity(embedding, vec)
		m.CreatedAt = time.Unix(0, created)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topK(matches, k), nil
}

// GetByHandle реализует Store.
func (s *SQLiteStore) GetByHandle(ctx context.Context, handle string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM memory_records WHERE handle = ? AND expires_at > ?`,
		handle, s.now().UnixNano(),
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", handle, err)
	}
	return payload, nil
}

// SaveMessages дописывает сообщения в транскрипт одной транзакцией.
func (s *SQLiteStore) SaveMessages(ctx context.Context, conversationID string, messages []llm.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	expiresAt := s.now().Add(s.ttl).UnixNano()
	for _, m := range messages {
		blob, err := cbor.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transcript_messages (conversation_id, message, expires_at) VALUES (?, ?, ?)`,
			conversationID, blob, expiresAt,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}

// LoadMessages возвращает живые сообщения транскрипта в порядке записи.
func (s *SQLiteStore) LoadMessages(ctx context.Context, conversationID string) ([]llm.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message FROM transcript_messages
		 WHERE conversation_id = ? AND expires_at > ? ORDER BY id`,
		conversationID, s.now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	defer rows.Close()

	var out []llm.Message
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var m llm.Message
		if err := cbor.Unmarshal(blob, &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Transcript возвращает представление хранилища как TranscriptStore.
func (s *SQLiteStore) Transcript() TranscriptStore {
	return sqliteTranscript{s}
}

type sqliteTranscript struct{ s *SQLiteStore }

func (t sqliteTranscript) Save(ctx context.Context, conversationID string, messages []llm.Message) error {
	return t.s.SaveMessages(ctx, conversationID, messages)
}

func (t sqliteTranscript) Load(ctx context.Context, conversationID string) ([]llm.Message, error) {
	return t.s.LoadMessages(ctx, conversationID)
}

var (
	_ Store           = (*SQLiteStore)(nil)
	_ TranscriptStore = sqliteTranscript{}
)
