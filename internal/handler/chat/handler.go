package chat

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/bot-lounge/backend/internal/model/chat"
	"github.com/zhouzirui/bot-lounge/backend/internal/model/persona"
	chatService "github.com/zhouzirui/bot-lounge/backend/internal/service/chat"
	"github.com/zhouzirui/bot-lounge/backend/pkg/utils"
)

// defaultReplyTimeout bounds how long a request waits for its queued turn.
const defaultReplyTimeout = 2 * time.Minute

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc      *chatService.Service
	logger       *zap.Logger
	replyTimeout time.Duration
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chatSvc:      chatSvc,
		logger:       logger.Named("chat_handler"),
		replyTimeout: defaultReplyTimeout,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Route("/session/{sessionID}", func(r chi.Router) {
		r.Get("/", h.handleGetSession)
		r.Delete("/", h.handleCloseSession)
		r.Post("/messages", h.handleSubmit)
		r.Put("/persona", h.handleSwitchPersona)
	})
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Persona string `json:"persona"`
	}

	// 请求体可为空，此时使用默认persona
	if err := utils.DecodeJSON(r, &payload); err != nil && !errors.Is(err, utils.ErrEmptyBody) {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.Persona)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleGetSession 查询会话
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleCloseSession 销毁会话
func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.CloseSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitResponse struct {
	Reply      chat.Turn   `json:"reply"`
	Transcript []chat.Turn `json:"transcript"`
}

// handleSubmit 发送用户消息并等待回复
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	controller, err := h.chatSvc.Controller(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	var payload struct {
		Content string `json:"content"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	pending, err := controller.Submit(payload.Content)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.replyTimeout)
	defer cancel()

	reply, err := pending.Wait(ctx)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, submitResponse{
		Reply:      reply,
		Transcript: controller.Transcript(),
	})
}

type switchResponse struct {
	Active  persona.Personality  `json:"active"`
	Session chat.SessionSnapshot `json:"session"`
}

// handleSwitchPersona 切换会话的persona
func (h *Handler) handleSwitchPersona(w http.ResponseWriter, r *http.Request) {
	controller, err := h.chatSvc.Controller(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	var payload struct {
		Name string `json:"name"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.replyTimeout)
	defer cancel()

	active, err := controller.SetActivePersonality(ctx, payload.Name)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, switchResponse{
		Active:  active,
		Session: controller.Snapshot(),
	})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("chat request failed", zap.Error(err))
	}
	utils.RespondError(w, status, err.Error())
}

// StatusFor maps chat service errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, chatService.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatService.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
