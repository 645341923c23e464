package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/bot-lounge/backend/internal/integrations/openai"
	"github.com/zhouzirui/bot-lounge/backend/internal/model/chat"
)

const (
	defaultTimeout  = 30 * time.Second
	maxDetailLength = 200
)

// Service wraps the outbound completion call behind a Result-returning boundary.
type Service struct {
	chatModel model.BaseChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
	timeout   time.Duration
	logger    *zap.Logger
}

// NewService compiles the system + history + query chain around chatModel.
func NewService(ctx context.Context, chatModel model.BaseChatModel, timeout time.Duration, logger *zap.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model must not be nil")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		chain:     runnable,
		timeout:   timeout,
		logger:    logger.Named("ai"),
	}, nil
}

// Complete sends systemPrompt, the full prior history and the new user message to the model.
// It never returns an error or panics: every failure becomes an Err result.
func (s *Service) Complete(ctx context.Context, systemPrompt string, history []chat.Turn, newUserContent string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("completion panicked", zap.Any("panic", r))
			result = Err(FailureProvider, fmt.Sprintf("completion failed unexpectedly: %v", r))
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	response, err := s.chain.Invoke(callCtx, buildChainInput(systemPrompt, history, newUserContent))
	if err != nil {
		failure := s.classify(callCtx, err)
		s.logger.Warn("completion failed",
			zap.String("kind", string(failure.Kind)),
			zap.Int("history", len(history)),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err))
		return Result{failure: &failure}
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return Err(FailureProvider, "provider returned an empty completion")
	}

	s.logger.Debug("generated response",
		zap.Int("history", len(history)),
		zap.Int("length", len(response.Content)),
		zap.Duration("elapsed", time.Since(started)))
	return Ok(response.Content)
}

func buildChainInput(systemPrompt string, history []chat.Turn, query string) map[string]any {
	return map[string]any{
		"system":  systemPrompt,
		"history": buildHistoryMessages(history),
		"query":   query,
	}
}

func buildHistoryMessages(turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}

func (s *Service) classify(callCtx context.Context, err error) Failure {
	var statusErr *openai.HTTPStatusError

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return Failure{Kind: FailureTransport, Message: fmt.Sprintf("completion timed out after %s", s.timeout)}
	case errors.Is(err, context.Canceled):
		return Failure{Kind: FailureTransport, Message: "completion was cancelled"}
	case errors.Is(err, openai.ErrMissingAPIKey):
		return Failure{Kind: FailureConfiguration, Message: "API credential is not configured"}
	case errors.As(err, &statusErr):
		msg := fmt.Sprintf("provider returned HTTP %d", statusErr.HTTPStatusCode())
		if detail := truncate(statusErr.Body); detail != "" {
			msg += ": " + detail
		}
		return Failure{Kind: FailureProvider, Message: msg}
	case errors.Is(err, openai.ErrMalformedResponse):
		return Failure{Kind: FailureProvider, Message: "provider returned a malformed response"}
	default:
		return Failure{Kind: FailureTransport, Message: "completion request failed: " + truncate(err.Error())}
	}
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxDetailLength {
		return s
	}
	return s[:maxDetailLength] + "..."
}
