package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"

	SwitchRetain = "retain"
	SwitchClear  = "clear"
)

// ConfigurationError marks a missing or invalid setting. It is fatal at startup.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Log     LogConfig
	AI      AIConfig
	Chat    ChatConfig
	Catalog CatalogConfig
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080"`
	Addr string
}

// LogConfig selects the zap level and encoder.
type LogConfig struct {
	Level       string `env:"LOG_LEVEL" envDefault:"info"`
	Development bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider    string        `env:"LLM_PROVIDER" envDefault:"openai"`
	APIKey      string        `env:"OPENAI_API_KEY"`
	APIKeyFile  string        `env:"OPENAI_API_KEY_FILE"`
	BaseURL     string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	Model       string        `env:"OPENAI_MODEL" envDefault:"gpt-4"`
	Temperature *float64      `env:"OPENAI_TEMPERATURE"`
	MaxTokens   *int          `env:"OPENAI_MAX_TOKENS"`
	Timeout     time.Duration `env:"COMPLETION_TIMEOUT" envDefault:"30s"`
	Ark         ArkConfig
}

// ArkConfig carries the Volcengine Ark credentials used when LLM_PROVIDER=ark.
type ArkConfig struct {
	APIKey    string `env:"ARK_API_KEY"`
	AccessKey string `env:"ARK_ACCESS_KEY"`
	SecretKey string `env:"ARK_SECRET_KEY"`
	Model     string `env:"ARK_MODEL"`
	BaseURL   string `env:"ARK_BASE_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	Region    string `env:"ARK_REGION" envDefault:"cn-beijing"`
}

// ChatConfig tunes conversation behaviour.
type ChatConfig struct {
	DefaultPersona string `env:"DEFAULT_PERSONA" envDefault:"Helper Bot"`
	SwitchPolicy   string `env:"SWITCH_POLICY" envDefault:"retain"`
}

// CatalogConfig points at an optional YAML personality catalog.
type CatalogConfig struct {
	Path string `env:"CATALOG_PATH"`
}

// Load 从环境变量加载配置，并校验启动所需的凭证。
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, &ConfigurationError{Key: "env", Reason: err.Error()}
	}

	addr, err := normalizeAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	if err := cfg.AI.resolveAPIKey(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CatalogSettings carries what the catalog tooling needs without requiring model credentials.
type CatalogSettings struct {
	Chat    ChatConfig
	Catalog CatalogConfig
	Log     LogConfig
}

// LoadCatalog 仅加载 persona 目录相关配置。
func LoadCatalog() (*CatalogSettings, error) {
	var cfg CatalogSettings
	if err := env.Parse(&cfg); err != nil {
		return nil, &ConfigurationError{Key: "env", Reason: err.Error()}
	}
	if strings.TrimSpace(cfg.Chat.DefaultPersona) == "" {
		return nil, &ConfigurationError{Key: "DEFAULT_PERSONA", Reason: "must not be empty"}
	}
	return &cfg, nil
}

// Validate checks cross-field constraints so misconfiguration fails before the first message.
func (c *Config) Validate() error {
	switch c.AI.Provider {
	case ProviderOpenAI:
		if c.AI.APIKey == "" {
			return &ConfigurationError{Key: "OPENAI_API_KEY", Reason: "missing API credential; set OPENAI_API_KEY or OPENAI_API_KEY_FILE"}
		}
		if strings.TrimSpace(c.AI.Model) == "" {
			return &ConfigurationError{Key: "OPENAI_MODEL", Reason: "model identifier must not be empty"}
		}
	case ProviderArk:
		if !c.AI.Ark.Enabled() {
			return &ConfigurationError{Key: "ARK_API_KEY", Reason: "ark requires ARK_MODEL plus ARK_API_KEY or ARK_ACCESS_KEY/ARK_SECRET_KEY"}
		}
	default:
		return &ConfigurationError{Key: "LLM_PROVIDER", Reason: fmt.Sprintf("unsupported provider %q", c.AI.Provider)}
	}

	if c.AI.Timeout <= 0 {
		return &ConfigurationError{Key: "COMPLETION_TIMEOUT", Reason: "must be positive"}
	}

	switch c.Chat.SwitchPolicy {
	case SwitchRetain, SwitchClear:
	default:
		return &ConfigurationError{Key: "SWITCH_POLICY", Reason: fmt.Sprintf("unsupported policy %q", c.Chat.SwitchPolicy)}
	}

	if strings.TrimSpace(c.Chat.DefaultPersona) == "" {
		return &ConfigurationError{Key: "DEFAULT_PERSONA", Reason: "must not be empty"}
	}
	return nil
}

func (c *AIConfig) resolveAPIKey() error {
	c.APIKey = strings.TrimSpace(c.APIKey)
	if c.APIKey != "" || c.APIKeyFile == "" {
		return nil
	}

	raw, err := os.ReadFile(c.APIKeyFile)
	if err != nil {
		return &ConfigurationError{Key: "OPENAI_API_KEY_FILE", Reason: err.Error()}
	}
	c.APIKey = strings.TrimSpace(string(raw))
	return nil
}

// normalizeAddr 解析服务器监听地址。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", &ConfigurationError{Key: "PORT", Reason: fmt.Sprintf("invalid value %q", port)}
	}

	return ":" + port, nil
}

// Enabled 表示是否提供了必需的密钥。
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewArkChatModel 使用配置创建一个 Ark 模型实例。
func (c AIConfig) NewArkChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Ark.Enabled() {
		return nil, &ConfigurationError{Key: "ARK_API_KEY", Reason: "ark credentials or model missing"}
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.Ark.BaseURL,
		Region:      c.Ark.Region,
		APIKey:      c.Ark.APIKey,
		AccessKey:   c.Ark.AccessKey,
		SecretKey:   c.Ark.SecretKey,
		Model:       c.Ark.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
	})
}
