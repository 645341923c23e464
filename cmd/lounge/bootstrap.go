package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zhouzirui/bot-lounge/backend/internal/config"
	"github.com/zhouzirui/bot-lounge/backend/internal/model/persona"
	"github.com/zhouzirui/bot-lounge/backend/internal/service/ai"
	"github.com/zhouzirui/bot-lounge/backend/internal/service/chat"
)

// openRegistry builds the personality catalog, backed by the YAML file when one is configured.
func openRegistry(catalogPath, defaultName string) (*persona.Registry, error) {
	var (
		registry *persona.Registry
		err      error
	)
	if catalogPath != "" {
		registry, err = persona.OpenRegistry(persona.NewFileCatalog(catalogPath), persona.Seed(), defaultName)
	} else {
		registry, err = persona.NewRegistry(persona.Seed(), defaultName)
	}
	if err != nil {
		if errors.Is(err, persona.ErrInvalidPersonality) || errors.Is(err, persona.ErrDuplicateName) {
			return nil, &config.ConfigurationError{Key: "CATALOG_PATH", Reason: err.Error()}
		}
		return nil, &config.ConfigurationError{Key: "DEFAULT_PERSONA", Reason: err.Error()}
	}
	return registry, nil
}

// newChatService wires registry, completion gateway and session hub.
func newChatService(ctx context.Context, cfg *config.Config, registry *persona.Registry, logger *zap.Logger) (*chat.Service, error) {
	chatModel, err := ai.NewChatModel(ctx, cfg.AI)
	if err != nil {
		return nil, err
	}

	gateway, err := ai.NewService(ctx, chatModel, cfg.AI.Timeout, logger)
	if err != nil {
		return nil, fmt.Errorf("init completion gateway: %w", err)
	}

	logger.Info("chat service ready",
		zap.String("provider", cfg.AI.Provider),
		zap.Int("personalities", len(registry.Names())),
		zap.String("default", registry.Default().Name),
		zap.String("switch_policy", cfg.Chat.SwitchPolicy))

	return chat.NewService(registry, gateway, logger,
		chat.WithSwitchPolicy(chat.SwitchPolicy(cfg.Chat.SwitchPolicy))), nil
}

// watchCatalog merges external edits of the catalog file into registry until stop is called.
func watchCatalog(ctx context.Context, path string, registry *persona.Registry, logger *zap.Logger) (stop func(), err error) {
	if path == "" {
		return func() {}, nil
	}
	watcher, err := persona.NewCatalogWatcher(persona.NewFileCatalog(path), registry, logger)
	if err != nil {
		return nil, err
	}
	watcher.Start(ctx)
	logger.Info("watching personality catalog", zap.String("path", path))
	return watcher.Stop, nil
}
