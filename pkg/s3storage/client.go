// "Тупой" клиент объектного хранилища. S3 API простой и стандартный,
// поэтому здесь только операции и классификация ошибок.

package s3storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ilkoid/cortex/pkg/config"
	"github.com/ilkoid/cortex/pkg/errkind"
)

// ErrNotFound - объекта с таким ключом нет.
var ErrNotFound = errors.New("object not found")

type Client struct {
	api    *minio.Client
	bucket string
}

// New создает клиент, используя наш конфиг.
func New(cfg config.S3Config) (*Client, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("s3: endpoint and bucket are required")
	}
	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		api:    minioClient,
		bucket: cfg.Bucket,
	}, nil
}

// Bucket возвращает имя бакета.
func (c *Client) Bucket() string {
	return c.bucket
}

// Put загружает объект целиком.
func (c *Client) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := c.api.PutObject(ctx, c.bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, classify(err))
	}
	return nil
}

// DownloadFile скачивает объект целиком в память.
// Отсутствующий объект возвращает ErrNotFound.
func (c *Client) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	obj, err := c.api.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, classify(err))
	}
	defer obj.Close()

	// Ошибка запроса проявляется только при чтении
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, obj); err != nil {
		return nil, fmt.Errorf("get %s: %w", key, classify(err))
	}

	return buf.Bytes(), nil
}

// PresignedURL возвращает ссылку на скачивание, действующую expiry.
func (c *Client) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := c.api.PresignedGetObject(ctx, c.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, classify(err))
	}
	return u.String(), nil
}

// classify переводит ошибку minio в нашу таксономию:
// NoSuchKey → ErrNotFound, 409/429/502/503/504 и сеть → Retryable.
// Ошибка ищется по всей цепочке: ToErrorResponse видит только верхний уровень.
func classify(err error) error {
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		var ptr *minio.ErrorResponse
		if errors.As(err, &ptr) && ptr != nil {
			resp = *ptr
		}
	}
	switch {
	case resp.Code == "NoSuchKey":
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errkind.RetryableStatus(resp.StatusCode), errkind.IsConnectionError(err):
		return errkind.Retryable(err)
	default:
		return err
	}
}
