package std

import (
	"github.com/ilkoid/cortex/pkg/config"
	"github.com/ilkoid/cortex/pkg/tools"
	"github.com/ilkoid/cortex/pkg/utils"
	"github.com/ilkoid/cortex/pkg/web"
)

// Deps - внешние клиенты, нужные стандартным инструментам.
// nil-зависимость выключает инструменты, которым она нужна.
type Deps struct {
	Web      *web.Client
	Uploader Uploader
}

// Register добавляет в builder включённые в конфиге инструменты.
//
// web_search требует search.searxng_url, file_upload требует хранилище
// и открывается после open_url или web_search.
func Register(b *tools.Builder, cfg *config.AppConfig, deps Deps) {
	var sources []string

	if deps.Web != nil && cfg.Search.SearXNGURL != "" && cfg.ToolEnabled(WebSearchName) {
		search := cfg.Search.GetDefaults()
		b.Add(NewWebSearchTool(deps.Web, search.SearXNGURL, search.MaxResults).Definition())
		sources = append(sources, WebSearchName)
	}
	if deps.Web != nil && cfg.ToolEnabled(OpenURLName) {
		b.Add(NewOpenURLTool(deps.Web).Definition())
		sources = append(sources, OpenURLName)
	}
	if deps.Uploader != nil && cfg.ToolEnabled(FileUploadName) {
		b.Add(NewFileUploadTool(deps.Uploader).Definition())
		if len(sources) > 0 {
			b.DependsOn(FileUploadName, sources...)
		}
	}

	utils.Debug("standard tools registered", "sources", sources, "upload", deps.Uploader != nil)
}
