package persona

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/bot-lounge/backend/internal/model/persona"
	"github.com/zhouzirui/bot-lounge/backend/pkg/utils"
)

// Handler persona服务的HTTP处理器
type Handler struct {
	personas persona.Store
	logger   *zap.Logger
}

// New 创建persona处理器
func New(personas persona.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		personas: personas,
		logger:   logger.Named("persona"),
	}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleListPersonas)
	r.Post("/personas", h.handleRegisterPersona)
}

type listResponse struct {
	Default       string                `json:"default"`
	Personalities []persona.Personality `json:"personalities"`
}

// handleListPersonas 列出所有persona
func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, listResponse{
		Default:       h.personas.Default().Name,
		Personalities: h.personas.List(),
	})
}

type registerRequest struct {
	AgentName   string `json:"agent_name"`
	Description string `json:"description"`
}

type registerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// handleRegisterPersona 添加新的persona
func (h *Handler) handleRegisterPersona(w http.ResponseWriter, r *http.Request) {
	var payload registerRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondJSON(w, http.StatusBadRequest, registerResponse{Message: err.Error()})
		return
	}

	p := persona.Personality{
		Name:         strings.TrimSpace(payload.AgentName),
		SystemPrompt: strings.TrimSpace(payload.Description),
	}

	err := h.personas.Register(p)
	switch {
	case err == nil:
	case errors.Is(err, persona.ErrDuplicateName):
		utils.RespondJSON(w, http.StatusConflict, registerResponse{Message: err.Error()})
		return
	case errors.Is(err, persona.ErrInvalidPersonality):
		utils.RespondJSON(w, http.StatusBadRequest, registerResponse{Message: err.Error()})
		return
	default:
		h.logger.Error("register personality failed", zap.String("name", p.Name), zap.Error(err))
		utils.RespondJSON(w, http.StatusInternalServerError, registerResponse{Message: "failed to store personality"})
		return
	}

	h.logger.Info("personality registered", zap.String("name", p.Name))
	utils.RespondJSON(w, http.StatusCreated, registerResponse{
		Success: true,
		Message: fmt.Sprintf("Bot %q added", p.Name),
	})
}
