// Package std предоставляет стандартные инструменты для AI агента.
//
// Каждый инструмент - структура с зависимостями и методом Definition,
// который возвращает готовое к регистрации tools.FunctionDefinition.
// Сетевые детали (retry, rate limit) живут в pkg/web.
package std

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ilkoid/cortex/pkg/tools"
	"github.com/ilkoid/cortex/pkg/web"
)

// WebSearchName - имя инструмента поиска.
const WebSearchName = "web_search"

// WebSearchTool - поиск через SearXNG JSON API.
type WebSearchTool struct {
	client     *web.Client
	baseURL    string
	maxResults int
}

// NewWebSearchTool создаёт инструмент. baseURL - адрес инстанса SearXNG.
func NewWebSearchTool(client *web.Client, baseURL string, maxResults int) *WebSearchTool {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &WebSearchTool{
		client:     client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxResults: maxResults,
	}
}

// Definition возвращает определение для реестра.
//
// Поиск нечёткий: перефразированный запрос обычно даёт те же результаты,
// поэтому порог кэша 0.9.
func (t *WebSearchTool) Definition() tools.FunctionDefinition {
	return tools.FunctionDefinition{
		Name:        WebSearchName,
		Description: "Search the web and return the most relevant results with titles, links and snippets.",
		Parameters: tools.JSONSchema{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query.",
				},
			},
			"required": []string{"query"},
		},
		Handler: t.Execute,
		Cache:   tools.CachePolicy{Enabled: true, SimilarityThreshold: 0.9},
	}
}

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Execute выполняет поиск.
func (t *WebSearchTool) Execute(ctx context.Context, _ tools.Conversation, args tools.Arguments) (tools.FunctionResult, error) {
	query := strings.TrimSpace(args.String("query"))
	if query == "" {
		return tools.FunctionResult{Response: "The query is empty."}, nil
	}

	var resp searxngResponse
	err := t.client.GetJSON(ctx, WebSearchName, t.baseURL+"/search", url.Values{
		"q":      {query},
		"format": {"json"},
	}, &resp)
	var se *web.StatusError
	if errors.As(err, &se) && !isRetryable(err) {
		return tools.FunctionResult{Response: fmt.Sprintf("Search failed: %v", se)}, nil
	}
	if err != nil {
		return tools.FunctionResult{}, fmt.Errorf("web_search: %w", err)
	}

	if len(resp.Results) == 0 {
		return tools.FunctionResult{Response: fmt.Sprintf("No results for %q.", query)}, nil
	}

	var b strings.Builder
	for i, r := range resp.Results {
		if i == t.maxResults {
			break
		}
		fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, r.Title, r.URL)
		if snippet := strings.TrimSpace(r.Content); snippet != "" {
			fmt.Fprintf(&b, "   %s\n", snippet)
		}
	}

	return tools.FunctionResult{
		Instruction: "Cite the links you use. Call open_url to read a result in full.",
		Response:    strings.TrimRight(b.String(), "\n"),
	}, nil
}
