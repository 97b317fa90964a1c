// Package app собирает компоненты агента из конфигурации и выполняет
// запросы. Используется CLI и TUI, чтобы не дублировать инициализацию.
//
// Пакет следует правилам из dev_manifest.md:
//   - Работает через llm.Provider интерфейс (Правило 4)
//   - Использует tools.Registry (Правило 3)
//   - Все ошибки возвращаются, никаких panic (Правило 7)
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilkoid/cortex/pkg/agent"
	"github.com/ilkoid/cortex/pkg/budget"
	"github.com/ilkoid/cortex/pkg/cache"
	"github.com/ilkoid/cortex/pkg/config"
	"github.com/ilkoid/cortex/pkg/events"
	"github.com/ilkoid/cortex/pkg/factory"
	"github.com/ilkoid/cortex/pkg/llm"
	"github.com/ilkoid/cortex/pkg/memory"
	"github.com/ilkoid/cortex/pkg/models"
	"github.com/ilkoid/cortex/pkg/s3storage"
	"github.com/ilkoid/cortex/pkg/tokenizer"
	"github.com/ilkoid/cortex/pkg/tools"
	"github.com/ilkoid/cortex/pkg/tools/std"
	"github.com/ilkoid/cortex/pkg/utils"
	"github.com/ilkoid/cortex/pkg/web"
)

// BrainPrefix - префикс ключей состояния разговоров в бакете.
const BrainPrefix = "brain"

// memoryBackend - векторное хранилище, умеющее хранить и транскрипт.
type memoryBackend interface {
	memory.Store
	Transcript() memory.TranscriptStore
}

// Components содержит все компоненты приложения для переиспользования.
//
// Cache, Storage и Brain могут быть nil: кэш требует модель эмбеддингов,
// хранилище требует секцию s3.
type Components struct {
	Config  *config.AppConfig
	Catalog models.Catalog
	Models  *models.Registry
	Tools   *tools.Registry
	Tracker *budget.Tracker
	Memory  memoryBackend
	Cache   *cache.Cache
	Web     *web.Client
	Storage *s3storage.Client
	Brain   *s3storage.Brain

	agents  factory.Balancer[*agent.Agent]
	closers []func() error
}

// ConfigPathFinder определяет стратегию поиска пути к config.yaml.
type ConfigPathFinder interface {
	FindConfigPath() string
}

// DefaultConfigPathFinder реализует стандартную стратегию поиска config.yaml.
//
// Порядок поиска:
// 1. Флаг --config (если указан)
// 2. Текущая директория (./config.yaml)
// 3. Директория бинарника
// 4. Родительская директория (для запуска из cmd/)
type DefaultConfigPathFinder struct {
	// ConfigFlag - значение флага --config, если указан
	ConfigFlag string
}

// FindConfigPath находит путь к config.yaml.
func (f *DefaultConfigPathFinder) FindConfigPath() string {
	if f.ConfigFlag != "" {
		return resolveAbsPath(f.ConfigFlag)
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		return resolveAbsPath("config.yaml")
	}

	if execPath, err := os.Executable(); err == nil {
		cfgPath := filepath.Join(filepath.Dir(execPath), "config.yaml")
		if _, err := os.Stat(cfgPath); err == nil {
			return cfgPath
		}
	}

	for _, cfgPath := range []string{
		filepath.Join("..", "..", "config.yaml"),
		filepath.Join("..", "config.yaml"),
	} {
		if _, err := os.Stat(cfgPath); err == nil {
			return resolveAbsPath(cfgPath)
		}
	}

	// Возвращаем дефолтный путь (даже если не существует)
	return resolveAbsPath("config.yaml")
}

// InitializeConfig находит и загружает конфигурацию.
//
// Правило 2: все настройки в YAML с поддержкой ENV-переменных.
func InitializeConfig(finder ConfigPathFinder) (*config.AppConfig, string, error) {
	cfgPath := finder.FindConfigPath()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config from %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// Initialize создаёт все компоненты приложения.
//
// При ошибке уже открытые хранилища закрываются.
//
// Правило 6: entry points - initialization and orchestration only.
func Initialize(ctx context.Context, cfg *config.AppConfig) (*Components, error) {
	c := &Components{Config: cfg, Catalog: models.DefaultCatalog()}
	if err := c.init(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) init(ctx context.Context) error {
	cfg := c.Config
	var err error

	// 1. Модели
	if c.Models, err = models.NewRegistryFromConfig(cfg, c.Catalog); err != nil {
		return fmt.Errorf("failed to create model registry: %w", err)
	}
	utils.Info("Models registered", "models", c.Models.ListNames())

	// 2. Хранилища
	if err = c.initBudget(); err != nil {
		return err
	}
	if err = c.initMemory(ctx); err != nil {
		return err
	}
	if err = c.initCache(); err != nil {
		return err
	}

	// 3. Внешние клиенты
	if c.Web, err = web.NewFromConfig(cfg.Search); err != nil {
		return fmt.Errorf("failed to create web client: %w", err)
	}
	if cfg.S3.Enabled() {
		if c.Storage, err = s3storage.New(cfg.S3); err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		c.Brain = s3storage.NewBrain(c.Storage, BrainPrefix)
		utils.Info("S3 client initialized", "bucket", c.Storage.Bucket())
	}

	// 4. Инструменты
	b := tools.NewBuilder()
	deps := std.Deps{Web: c.Web}
	if c.Storage != nil {
		deps.Uploader = c.Storage
	}
	std.Register(b, cfg, deps)
	if c.Tools, err = b.Build(); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}
	utils.Info("Tools registered", "count", c.Tools.Len(), "tools", c.Tools.Names())

	// 5. Агенты
	return c.initAgents()
}

func (c *Components) initBudget() error {
	bc := c.Config.Budget.GetDefaults()

	var store budget.Store
	switch bc.Driver {
	case "sqlite":
		s, err := budget.NewSQLiteStore(bc.DSN)
		if err != nil {
			return fmt.Errorf("failed to open budget store: %w", err)
		}
		c.closers = append(c.closers, s.Close)
		store = s
	default:
		store = budget.NewMemoryStore()
	}

	c.Tracker = budget.NewTracker(store, bc.TTL)
	utils.Info("Budget store initialized", "driver", bc.Driver, "ttl", bc.TTL)
	return nil
}

func (c *Components) initMemory(ctx context.Context) error {
	mc := c.Config.Memory.GetDefaults()

	switch mc.Driver {
	case "sqlite":
		s, err := memory.NewSQLiteStore(mc.DSN, memory.DefaultTTL)
		if err != nil {
			return fmt.Errorf("failed to open memory store: %w", err)
		}
		c.closers = append(c.closers, s.Close)
		c.Memory = s
	case "postgres":
		s, err := memory.NewPostgresStore(ctx, mc.DSN, mc.Dimensions, memory.DefaultTTL)
		if err != nil {
			return fmt.Errorf("failed to open memory store: %w", err)
		}
		c.closers = append(c.closers, func() error { s.Close(); return nil })
		c.Memory = s
	default:
		c.Memory = memory.NewInMemoryStore(memory.DefaultTTL)
	}

	utils.Info("Memory store initialized", "driver", mc.Driver)
	return nil
}

// initCache включает семантический кэш, если настроена модель эмбеддингов.
func (c *Components) initCache() error {
	alias := c.Config.Models.Embedding
	if alias == "" {
		utils.Info("Semantic cache disabled", "reason", "models.embedding is not set")
		return nil
	}

	entry, err := c.Models.Get(alias)
	if err != nil {
		return fmt.Errorf("failed to resolve embedding model: %w", err)
	}

	mc := c.Config.Memory.GetDefaults()
	model := entry.Config.ModelName
	c.Cache = cache.New(c.Memory, entry.Provider, tokenizer.ForModelOrRunes(model), cache.Options{
		Model:     model,
		Namespace: mc.Namespace,
		TopK:      mc.TopK,
	})
	utils.Info("Semantic cache enabled", "model", model, "namespace", mc.Namespace)
	return nil
}

// initAgents создаёт по агенту на каждую модель пула и балансировщик между ними.
func (c *Components) initAgents() error {
	cfg := c.Config
	ac := cfg.Agent.GetDefaults()

	pool := cfg.Models.Pool
	if len(pool) == 0 {
		pool = []string{cfg.Models.DefaultChat}
	}

	var summarizer llm.ModelSpec
	var summarizerProvider llm.CompletionProvider
	if cfg.Models.Summarizer != "" {
		entry, err := c.Models.Get(cfg.Models.Summarizer)
		if err != nil {
			return fmt.Errorf("failed to resolve summarizer model: %w", err)
		}
		summarizer = entry.Spec
		summarizerProvider = entry.Provider
	}

	timeouts := make(map[string]time.Duration)
	for name, tc := range cfg.Tools {
		if tc.Timeout > 0 {
			timeouts[name] = tc.Timeout
		}
	}

	agents := make([]*agent.Agent, 0, len(pool))
	for _, alias := range pool {
		entry, err := c.Models.Get(alias)
		if err != nil {
			return fmt.Errorf("failed to resolve chat model: %w", err)
		}

		a, err := agent.New(agent.Config{
			Name:               ac.Name,
			SystemPrompt:       ac.SystemPrompt,
			Provider:           entry.Provider,
			Registry:           c.Tools,
			Model:              entry.Spec,
			Encoder:            tokenizer.ForModelOrRunes(entry.Spec.Name),
			SummarizeHistory:   *ac.SummarizeHistory,
			Summarizer:         summarizer,
			SummarizerProvider: summarizerProvider,
			ToolTimeouts:       timeouts,
		})
		if err != nil {
			return fmt.Errorf("failed to create agent for '%s': %w", alias, err)
		}
		agents = append(agents, a)
		utils.Info("Agent created", "model", entry.Spec.Name, "max_tokens", entry.Spec.MaxTokens)
	}

	switch cfg.Models.Balancer {
	case "consistent_hash":
		c.agents = factory.NewConsistentHash(factory.DefaultVirtualNodes, agents...)
	case "jump_hash":
		c.agents = factory.NewJumpHash(agents...)
	default:
		c.agents = factory.NewRoundRobin(agents...)
	}
	return nil
}

// Agent выбирает агента для разговора.
func (c *Components) Agent(conversationID string) (*agent.Agent, error) {
	a, ok := c.agents.Pick(conversationID)
	if !ok {
		return nil, fmt.Errorf("no agents configured")
	}
	return a, nil
}

// NewContext создаёт Context разговора с кэшем, транскриптом и
// индикацией прогресса. reporter может быть nil.
func (c *Components) NewContext(conversationID string, reporter events.Reporter) *agent.Context {
	ac := c.Config.Agent.GetDefaults()

	opts := []agent.ContextOption{
		agent.WithCapability(tools.Capability(ac.Capability)),
		agent.WithTranscript(c.Memory.Transcript()),
	}
	if c.Cache != nil {
		opts = append(opts, agent.WithCache(c.Cache))
	}
	if reporter != nil {
		opts = append(opts, agent.WithReporter(reporter))
	}
	return agent.NewContext(conversationID, c.Tracker, opts...)
}

// AcquireBudget выдаёт разговору бюджет вызовов функций.
// n <= 0 означает agent.budget из конфига.
func (c *Components) AcquireBudget(ctx context.Context, conversationID string, n int) error {
	if n <= 0 {
		n = c.Config.Agent.GetDefaults().Budget
	}
	if err := c.Tracker.Acquire(ctx, conversationID, n); err != nil {
		return fmt.Errorf("failed to acquire budget: %w", err)
	}
	return nil
}

// Close закрывает открытые хранилища.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// resolveAbsPath преобразует путь в абсолютный (если это не уже абсолютный путь).
func resolveAbsPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}
