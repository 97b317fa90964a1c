package std

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/ilkoid/cortex/pkg/tools"
)

// FileUploadName - имя инструмента выгрузки файлов.
const FileUploadName = "file_upload"

// DefaultLinkExpiry - срок действия ссылки на выгруженный файл.
const DefaultLinkExpiry = 7 * 24 * time.Hour

// Uploader - объектное хранилище. *s3storage.Client реализует интерфейс.
type Uploader interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

var unsafeFilename = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// FileUploadTool выгружает текст в хранилище и возвращает ссылку.
type FileUploadTool struct {
	uploader Uploader
	expiry   time.Duration
	newID    func() string
}

// NewFileUploadTool создаёт инструмент.
func NewFileUploadTool(u Uploader) *FileUploadTool {
	return &FileUploadTool{
		uploader: u,
		expiry:   DefaultLinkExpiry,
		newID:    func() string { return uuid.NewString() },
	}
}

// Definition возвращает определение для реестра.
//
// Зависимости (open_url, web_search) проставляются при регистрации:
// выгружать имеет смысл только то, что агент уже нашёл.
func (t *FileUploadTool) Definition() tools.FunctionDefinition {
	return tools.FunctionDefinition{
		Name:        FileUploadName,
		Description: "Save text content as a file and return a download link for the user.",
		Parameters: tools.JSONSchema{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{
					"type":        "string",
					"description": "File content.",
				},
				"filename": map[string]any{
					"type":        "string",
					"description": "File name with extension, e.g. report.md.",
				},
			},
			"required": []string{"content", "filename"},
		},
		Handler: t.Execute,
	}
}

// Execute выгружает файл.
func (t *FileUploadTool) Execute(ctx context.Context, conv tools.Conversation, args tools.Arguments) (tools.FunctionResult, error) {
	name := SanitizeFilename(args.String("filename"))
	key := path.Join("uploads", SanitizeFilename(conv.ConversationID()), t.newID()+"-"+name)

	if err := t.uploader.Put(ctx, key, []byte(args.String("content")), contentType(name)); err != nil {
		return tools.FunctionResult{}, fmt.Errorf("file_upload: %w", err)
	}
	link, err := t.uploader.PresignedURL(ctx, key, t.expiry)
	if err != nil {
		return tools.FunctionResult{}, fmt.Errorf("file_upload: %w", err)
	}

	return tools.FunctionResult{
		Instruction: "Give the user this link. It expires in 7 days.",
		Response:    fmt.Sprintf("[%s](%s)", name, link),
	}, nil
}

// SanitizeFilename оставляет безопасное базовое имя файла.
func SanitizeFilename(name string) string {
	name = unsafeFilename.ReplaceAllString(path.Base(name), "_")
	if name == "" || name == "." || name == ".." || name == "_" {
		return "file.txt"
	}
	return name
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".html":
		return "text/html; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}
