package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/bot-lounge/backend/internal/model/persona"
	chatservice "github.com/zhouzirui/bot-lounge/backend/internal/service/chat"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second

	// 单个连接允许排队等待回复的请求数
	defaultMaxInFlight = 16

	errTooManyInFlight = "too many requests in flight"
)

// Handler WebSocket聊天处理器
type Handler struct {
	chatSvc     *chatservice.Service
	logger      *zap.Logger
	upgrader    websocket.Upgrader
	maxInFlight int
}

// New 创建WebSocket处理器
func New(chatSvc *chatservice.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chatSvc:     chatSvc,
		logger:      logger.Named("websocket"),
		maxInFlight: defaultMaxInFlight,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type submitData struct {
	Content string `json:"content"`
}

type switchData struct {
	Name string `json:"name"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// conn serializes writes; gorilla allows one concurrent writer only.
type conn struct {
	ws        *websocket.Conn
	sessionID string
	logger    *zap.Logger

	writeMu sync.Mutex
}

func (c *conn) send(kind string, data interface{}) {
	msg := outgoingMessage{
		Type:      kind,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(msg); err != nil {
		c.logger.Debug("write failed", zap.String("type", kind), zap.Error(err))
	}
}

func (c *conn) sendError(message string) {
	c.send("error", map[string]string{"message": message})
}

func (c *conn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	controller, err := h.chatSvc.Controller(sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer wsConn.Close()

	c := &conn{ws: wsConn, sessionID: sessionID, logger: h.logger.With(zap.String("session", sessionID))}
	c.logger.Info("connection opened")

	ctx, cancel := context.WithCancel(r.Context())

	_ = wsConn.SetReadDeadline(time.Now().Add(readTimeout))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(ctx, c)

	// 回复与persona切换确认按入队顺序推送
	slots := make(chan struct{}, h.maxInFlight)
	outbox := make(chan queued, h.maxInFlight)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.deliver(ctx, c, outbox, slots)
	}()
	defer func() {
		cancel()
		close(outbox)
		wg.Wait()
	}()

	c.send("connected", controller.Snapshot())

	for {
		var msg inboundMessage
		if err := wsConn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read error", zap.Error(err))
			}
			c.logger.Info("connection closed")
			return
		}
		_ = wsConn.SetReadDeadline(time.Now().Add(readTimeout))

		switch msg.Type {
		case "submit":
			var data submitData
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				c.sendError("invalid submit payload")
				continue
			}
			if !reserve(slots) {
				c.sendError(errTooManyInFlight)
				continue
			}
			pending, err := controller.Submit(data.Content)
			if err != nil {
				<-slots
				c.sendError(err.Error())
				continue
			}
			outbox <- queued{pending: pending}
		case "switch":
			var data switchData
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				c.sendError("invalid switch payload")
				continue
			}
			if !reserve(slots) {
				c.sendError(errTooManyInFlight)
				continue
			}
			// 同步入队，保证其后的消息使用新的persona
			target, pending, err := controller.QueueSwitch(data.Name)
			if err != nil {
				<-slots
				c.sendError(err.Error())
				continue
			}
			outbox <- queued{pending: pending, switched: &target}
		case "transcript":
			c.send("transcript", controller.Transcript())
		default:
			c.sendError("unsupported message type: " + msg.Type)
		}
	}
}

// queued is one request awaiting its acknowledgement on the socket.
type queued struct {
	pending  *chatservice.Pending
	switched *persona.Personality
}

func reserve(slots chan struct{}) bool {
	select {
	case slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (h *Handler) deliver(ctx context.Context, c *conn, outbox <-chan queued, slots <-chan struct{}) {
	for item := range outbox {
		turn, err := item.pending.Wait(ctx)
		<-slots
		if err != nil {
			if ctx.Err() == nil {
				c.sendError(err.Error())
			}
			continue
		}
		if item.switched != nil {
			c.send("persona", *item.switched)
			continue
		}
		c.send("turn", turn)
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
