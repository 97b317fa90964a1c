package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig - корневая структура конфигурации.
// Она зеркалит структуру config.yaml.
type AppConfig struct {
	Models          ModelsConfig          `yaml:"models"`
	Agent           AgentConfig           `yaml:"agent"`
	Budget          BudgetConfig          `yaml:"budget"`
	Memory          MemoryConfig          `yaml:"memory"`
	Tools           map[string]ToolConfig `yaml:"tools"`
	S3              S3Config              `yaml:"s3"`
	Search          SearchConfig          `yaml:"search"`
	ImageProcessing ImageProcConfig       `yaml:"image_processing"`
	App             AppSpecific           `yaml:"app"`
}

// ModelsConfig - настройки AI моделей.
type ModelsConfig struct {
	DefaultChat string              `yaml:"default_chat"` // Алиас модели агента (например, "gpt-4o")
	Summarizer  string              `yaml:"summarizer"`   // Алиас модели для сжатия истории и больших ответов
	Embedding   string              `yaml:"embedding"`    // Алиас модели эмбеддингов
	Definitions map[string]ModelDef `yaml:"definitions"`  // Словарь определений моделей

	// Pool - алиасы моделей, между которыми распределяются разговоры.
	// Пусто = только default_chat.
	Pool     []string `yaml:"pool"`
	Balancer string   `yaml:"balancer"` // "round_robin" | "consistent_hash" | "jump_hash"
}

// ModelDef - параметры конкретной модели.
type ModelDef struct {
	Provider      string        `yaml:"provider"`       // "openai" и совместимые
	ModelName     string        `yaml:"model_name"`     // Реальное имя в API
	APIKey        string        `yaml:"api_key"`        // Поддерживает ${VAR}
	BaseURL       string        `yaml:"base_url"`       // Для OpenAI-совместимых провайдеров
	MaxTokens     int           `yaml:"max_tokens"`     // Лимит ответа
	ContextWindow int           `yaml:"context_window"` // 0 = взять из каталога моделей
	Dimensions    int           `yaml:"dimensions"`     // Только для моделей эмбеддингов
	Temperature   float64       `yaml:"temperature"`
	Timeout       time.Duration `yaml:"timeout"`     // Go умеет парсить строки вида "60s", "1m"
	RateLimit     int           `yaml:"rate_limit"`  // Запросов в минуту, 0 = без ограничений
	BurstLimit    int           `yaml:"burst_limit"` // Burst для rate limiter
}

// AgentConfig - настройки цикла агента.
type AgentConfig struct {
	Name             string `yaml:"name"`
	SystemPrompt     string `yaml:"system_prompt"`
	SummarizeHistory *bool  `yaml:"summarize_history"` // nil = true
	Capability       uint32 `yaml:"capability"`        // 0 = все возможности
	Budget           int    `yaml:"budget"`            // Стартовый бюджет разговора
	Streaming        bool   `yaml:"streaming"`
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *AgentConfig) GetDefaults() AgentConfig {
	result := *c // Копируем текущие значения

	if result.Name == "" {
		result.Name = "Cortex"
	}
	if result.SystemPrompt == "" {
		result.SystemPrompt = "You are a helpful assistant. Use the provided functions when they help to answer."
	}
	if result.SummarizeHistory == nil {
		enabled := true
		result.SummarizeHistory = &enabled
	}
	if result.Capability == 0 {
		result.Capability = 1<<31 - 1
	}
	if result.Budget == 0 {
		result.Budget = 10
	}

	return result
}

// BudgetConfig - хранилище бюджета разговоров.
type BudgetConfig struct {
	Driver string        `yaml:"driver"` // "memory" | "sqlite"
	DSN    string        `yaml:"dsn"`    // Путь к файлу sqlite
	TTL    time.Duration `yaml:"ttl"`
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *BudgetConfig) GetDefaults() BudgetConfig {
	result := *c

	if result.Driver == "" {
		result.Driver = "memory"
	}
	if result.TTL == 0 {
		result.TTL = 7 * 24 * time.Hour
	}

	return result
}

// MemoryConfig - хранилище семантической памяти (кэш результатов и транскрипт).
type MemoryConfig struct {
	Driver     string `yaml:"driver"` // "memory" | "sqlite" | "postgres"
	DSN        string `yaml:"dsn"`
	Namespace  string `yaml:"namespace"` // Префикс идентификатора разговора
	Dimensions int    `yaml:"dimensions"`
	TopK       int    `yaml:"top_k"`
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *MemoryConfig) GetDefaults() MemoryConfig {
	result := *c

	if result.Driver == "" {
		result.Driver = "memory"
	}
	if result.Dimensions == 0 {
		result.Dimensions = 1536
	}
	if result.TopK == 0 {
		result.TopK = 3
	}

	return result
}

// ToolConfig - настройки инструментов.
type ToolConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

// S3Config - настройки объектного хранилища.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"` // Поддерживает ${VAR}
	SecretKey string `yaml:"secret_key"` // Поддерживает ${VAR}
	UseSSL    bool   `yaml:"use_ssl"`
}

// Enabled сообщает, настроено ли хранилище.
func (c S3Config) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

// SearchConfig - настройки поиска через SearXNG.
type SearchConfig struct {
	SearXNGURL    string `yaml:"searxng_url"`
	Timeout       string `yaml:"timeout"`        // Timeout для HTTP запросов (например, "30s")
	RateLimit     int    `yaml:"rate_limit"`     // Запросов в минуту
	BurstLimit    int    `yaml:"burst_limit"`    // Burst для rate limiter
	RetryAttempts int    `yaml:"retry_attempts"` // Количество retry попыток
	MaxResults    int    `yaml:"max_results"`
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *SearchConfig) GetDefaults() SearchConfig {
	result := *c

	if result.RateLimit == 0 {
		result.RateLimit = 60 // запросов в минуту
	}
	if result.BurstLimit == 0 {
		result.BurstLimit = 5
	}
	if result.RetryAttempts == 0 {
		result.RetryAttempts = 3
	}
	if result.Timeout == "" {
		result.Timeout = "30s"
	}
	if result.MaxResults == 0 {
		result.MaxResults = 5
	}

	return result
}

// ImageProcConfig - настройки обработки изображений.
type ImageProcConfig struct {
	MaxWidth int `yaml:"max_width"`
	Quality  int `yaml:"quality"`
}

// AppSpecific - общие настройки приложения.
type AppSpecific struct {
	Debug   bool   `yaml:"debug"`
	LogFile string `yaml:"log_file"`

	// TraceDir - директория JSON трейсов запросов. Пусто = не писать.
	TraceDir string `yaml:"trace_dir"`
}

// Load читает YAML файл, подставляет ENV переменные и возвращает готовую структуру.
func Load(path string) (*AppConfig, error) {
	// 1. Проверяем существование файла
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found at: %s", path)
	}

	// 2. Читаем файл целиком
	rawBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// 3. Подставляем переменные окружения.
	// os.ExpandEnv заменяет ${VAR} или $VAR на значение из системы.
	contentWithEnv := os.ExpandEnv(string(rawBytes))

	// 4. Парсим YAML в структуру
	var cfg AppConfig
	if err := yaml.Unmarshal([]byte(contentWithEnv), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}

	// 5. Валидируем критические настройки
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate проверяет обязательные поля.
func (c *AppConfig) validate() error {
	if len(c.Models.Definitions) == 0 {
		return fmt.Errorf("models.definitions is empty")
	}
	for _, alias := range []struct{ field, name string }{
		{"default_chat", c.Models.DefaultChat},
		{"summarizer", c.Models.Summarizer},
		{"embedding", c.Models.Embedding},
	} {
		if alias.name == "" {
			continue
		}
		if _, ok := c.Models.Definitions[alias.name]; !ok {
			return fmt.Errorf("%s model '%s' is not defined in definitions", alias.field, alias.name)
		}
	}
	if c.Models.DefaultChat == "" {
		return fmt.Errorf("models.default_chat is required")
	}
	for _, alias := range c.Models.Pool {
		if _, ok := c.Models.Definitions[alias]; !ok {
			return fmt.Errorf("pool model '%s' is not defined in definitions", alias)
		}
	}
	switch c.Models.Balancer {
	case "", "round_robin", "consistent_hash", "jump_hash":
	default:
		return fmt.Errorf("unknown models.balancer '%s'", c.Models.Balancer)
	}

	switch c.Budget.Driver {
	case "", "memory":
	case "sqlite":
		if c.Budget.DSN == "" {
			return fmt.Errorf("budget.dsn is required for sqlite driver")
		}
	default:
		return fmt.Errorf("unknown budget.driver '%s'", c.Budget.Driver)
	}

	switch c.Memory.Driver {
	case "", "memory":
	case "sqlite", "postgres":
		if c.Memory.DSN == "" {
			return fmt.Errorf("memory.dsn is required for %s driver", c.Memory.Driver)
		}
	default:
		return fmt.Errorf("unknown memory.driver '%s'", c.Memory.Driver)
	}

	if c.S3.Endpoint != "" && c.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required")
	}
	return nil
}

// Helper методы для удобства доступа (Syntactic sugar)

// GetChatModel возвращает конфигурацию модели агента или модели по имени.
func (c *AppConfig) GetChatModel(name string) (ModelDef, bool) {
	if name == "" {
		name = c.Models.DefaultChat
	}
	m, ok := c.Models.Definitions[name]
	return m, ok
}

// ToolEnabled сообщает, включён ли инструмент. Отсутствие секции = включён.
func (c *AppConfig) ToolEnabled(name string) bool {
	tc, ok := c.Tools[name]
	if !ok {
		return true
	}
	return tc.Enabled
}
