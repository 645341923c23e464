package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/bot-lounge/backend/internal/config"
	"github.com/zhouzirui/bot-lounge/backend/internal/integrations/openai"
)

// NewChatModel selects the completion backend named by cfg.Provider.
func NewChatModel(ctx context.Context, cfg config.AIConfig) (model.BaseChatModel, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		client, err := openai.NewClient(cfg.APIKey, cfg.Model,
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithTemperature(cfg.Temperature),
			openai.WithMaxTokens(cfg.MaxTokens),
			openai.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		)
		if errors.Is(err, openai.ErrMissingAPIKey) {
			return nil, &config.ConfigurationError{Key: "OPENAI_API_KEY", Reason: err.Error()}
		}
		if err != nil {
			return nil, &config.ConfigurationError{Key: "OPENAI_MODEL", Reason: err.Error()}
		}
		return client, nil
	case config.ProviderArk:
		return cfg.NewArkChatModel(ctx)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}
