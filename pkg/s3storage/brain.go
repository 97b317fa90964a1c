package s3storage

import (
	"context"
	"errors"
	"path"

	"github.com/ilkoid/cortex/pkg/utils"
)

// Brain - долговременное состояние приложения (JSON документы) в бакете.
type Brain struct {
	client *Client
	prefix string
}

// NewBrain создаёт Brain; все ключи кладутся под prefix.
func NewBrain(client *Client, prefix string) *Brain {
	return &Brain{client: client, prefix: prefix}
}

func (b *Brain) key(k string) string {
	if b.prefix == "" {
		return k
	}
	return path.Join(b.prefix, k)
}

// Save сохраняет документ как application/json.
func (b *Brain) Save(ctx context.Context, key string, body []byte) error {
	if err := b.client.Put(ctx, b.key(key), body, "application/json"); err != nil {
		return err
	}
	utils.Debug("brain saved", "key", b.key(key), "bytes", len(body))
	return nil
}

// Restore читает документ. Если документа нет, возвращает nil, nil.
func (b *Brain) Restore(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.DownloadFile(ctx, b.key(key))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
