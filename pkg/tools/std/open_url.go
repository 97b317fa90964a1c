package std

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/ilkoid/cortex/pkg/errkind"
	"github.com/ilkoid/cortex/pkg/tools"
	"github.com/ilkoid/cortex/pkg/web"
)

// OpenURLName - имя инструмента чтения страниц.
const OpenURLName = "open_url"

// OpenURLTool скачивает страницу и возвращает её текст.
type OpenURLTool struct {
	client *web.Client
}

// NewOpenURLTool создаёт инструмент.
func NewOpenURLTool(client *web.Client) *OpenURLTool {
	return &OpenURLTool{client: client}
}

// Definition возвращает определение для реестра.
//
// Точная функция: кэш срабатывает только на тот же URL (порог 1.0).
func (t *OpenURLTool) Definition() tools.FunctionDefinition {
	return tools.FunctionDefinition{
		Name:        OpenURLName,
		Description: "Open a web page by URL and return its readable text.",
		Parameters: tools.JSONSchema{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "Absolute http(s) URL.",
				},
			},
			"required": []string{"url"},
		},
		Handler: t.Execute,
		Cache:   tools.CachePolicy{Enabled: true, SimilarityThreshold: 1.0},
	}
}

// Execute скачивает страницу.
func (t *OpenURLTool) Execute(ctx context.Context, _ tools.Conversation, args tools.Arguments) (tools.FunctionResult, error) {
	target := strings.TrimSpace(args.String("url"))
	if target == "" {
		return tools.FunctionResult{Response: "The url is empty."}, nil
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = "https://" + target
	}

	page, err := t.client.Fetch(ctx, OpenURLName, target)
	var se *web.StatusError
	if errors.As(err, &se) && !isRetryable(err) {
		return tools.FunctionResult{Response: fmt.Sprintf("Failed to open %s: %v", target, se)}, nil
	}
	if err != nil {
		return tools.FunctionResult{}, fmt.Errorf("open_url: %w", err)
	}

	mediaType, _, _ := mime.ParseMediaType(page.ContentType)
	var title, text string
	switch {
	case mediaType == "" || mediaType == "text/html" || mediaType == "application/xhtml+xml":
		title, text = web.ExtractText(page.Body)
	case strings.HasPrefix(mediaType, "text/"), mediaType == "application/json", mediaType == "application/xml":
		text = string(page.Body)
	default:
		return tools.FunctionResult{Response: fmt.Sprintf("%s is %s, not a text document.", page.URL, mediaType)}, nil
	}
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}

	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "# %s\n\n", title)
	}
	fmt.Fprintf(&b, "URL: %s\n\n%s", page.URL, text)
	if page.Truncated {
		b.WriteString("\n\n(truncated)")
	}
	return tools.FunctionResult{Response: b.String()}, nil
}

func isRetryable(err error) bool {
	return errkind.IsRetryable(err)
}
