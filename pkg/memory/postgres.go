package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/ilkoid/cortex/pkg/llm"
)

// PostgresStore - Store и TranscriptStore на PostgreSQL с pgvector.
//
// Поиск соседей выполняет сама база оператором косинусного расстояния <=>.
type PostgresStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewPostgresStore открывает пул, регистрирует типы pgvector на каждом
// соединении и создаёт схему. dimensions должен совпадать с размерностью
// модели эмбеддингов; изменить её после первой миграции можно только вручную.
func NewPostgresStore(ctx context.Context, dsn string, dimensions int, ttl time.Duration) (*PostgresStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := migratePostgres(ctx, pool, dimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &PostgresStore{pool: pool, ttl: ttl}, nil
}

func migratePostgres(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_records (
    handle          UUID         PRIMARY KEY,
    conversation_id TEXT         NOT NULL,
    key             TEXT         NOT NULL,
    embedding       vector(%d)   NOT NULL,
    payload         BYTEA        NOT NULL,
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    expires_at      TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memory_records_conversation
    ON memory_records (conversation_id, expires_at);

CREATE TABLE IF NOT EXISTS transcript_messages (
    id              BIGSERIAL    PRIMARY KEY,
    conversation_id TEXT         NOT NULL,
    message         JSONB        NOT NULL,
    expires_at      TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transcript_messages_conversation
    ON transcript_messages (conversation_id, id);
`, dimensions)

	_, err := pool.Exec(ctx, ddl)
	return err
}

// Close освобождает соединения пула.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Save реализует Store.
func (s *PostgresStore) Save(ctx context.Context, conversationID, key string, embedding []float32, payload []byte, expiresAt time.Time) (string, error) {
	handle := uuid.New()
	if payload == nil {
		payload = []byte{}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_records (handle, conversation_id, key, embedding, payload, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		handle, conversationID, key, pgvector.NewVector(embedding), payload, expiresAt,
	)
	if err != nil {
		return "", fmt.Errorf("postgres store: save: %w", err)
	}
	return handle.String(), nil
}

// Query реализует Store.
func (s *PostgresStore) Query(ctx context.Context, conversationID string, embedding []float32, k int) ([]Match, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT handle::text, key, payload, created_at, embedding <=> $1 AS distance
		FROM   memory_records
		WHERE  conversation_id = $2 AND expires_at > now()
		ORDER  BY distance, created_at DESC
		LIMIT  $3`,
		pgvector.NewVector(embedding), conversationID, k,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Match, error) {
		var (
			m        Match
			distance float64
		)
		if err := row.Scan(&m.Handle, &m.Key, &m.Payload, &m.CreatedAt, &distance); err != nil {
			return Match{}, err
		}
		m.Similarity = 1 - distance
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	return matches, nil
}

// GetByHandle реализует Store.
func (s *PostgresStore) GetByHandle(ctx context.Context, handle string) ([]byte, error) {
	id, err := uuid.Parse(handle)
	if err != nil {
		return nil, ErrNotFound
	}

	var payload []byte
	err = s.pool.QueryRow(ctx,
		`SELECT payload FROM memory_records WHERE handle = $1 AND expires_at > now()`, id,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get %s: %w", handle, err)
	}
	return payload, nil
}

// SaveMessages дописывает сообщения в транскрипт пакетом.
func (s *PostgresStore) SaveMessages(ctx context.Context, conversationID string, messages []llm.Message) error {
	expiresAt := time.Now().Add(s.ttl)

	batch := &pgx.Batch{}
	for _, m := range messages {
		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("postgres store: encode message: %w", err)
		}
		batch.Queue(
			`INSERT INTO transcript_messages (conversation_id, message, expires_at) VALUES ($1, $2, $3)`,
			conversationID, raw, expiresAt,
		)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres store: save transcript: %w", err)
	}
	return nil
}

// LoadMessages возвращает живые сообщения транскрипта в порядке записи.
func (s *PostgresStore) LoadMessages(ctx context.Context, conversationID string) ([]llm.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT message FROM transcript_messages
		 WHERE conversation_id = $1 AND expires_at > now() ORDER BY id`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load transcript: %w", err)
	}

	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (llm.Message, error) {
		var raw []byte
		if err := row.Scan(&raw); err != nil {
			return llm.Message{}, err
		}
		var m llm.Message
		err := json.Unmarshal(raw, &m)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan transcript: %w", err)
	}
	return messages, nil
}

// Transcript возвращает представление хранилища как TranscriptStore.
func (s *PostgresStore) Transcript() TranscriptStore {
	return postgresTranscript{s}
}

type postgresTranscript struct{ s *PostgresStore }

func (t postgresTranscript) Save(ctx context.Context, conversationID string, messages []llm.Message) error {
	return t.s.SaveMessages(ctx, conversationID, messages)
}

func (t postgresTranscript) Load(ctx context.Context, conversationID string) ([]llm.Message, error) {
	return t.s.LoadMessages(ctx, conversationID)
}

var (
	_ Store           = (*PostgresStore)(nil)
	_ TranscriptStore = postgresTranscript{}
)
