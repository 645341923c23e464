package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/bot-lounge/backend/internal/model/chat"
	"github.com/zhouzirui/bot-lounge/backend/internal/model/persona"
)

// Service hosts one Controller per live session. Sessions share the registry and gateway only.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*Controller

	personas persona.Store
	gateway  Completer
	logger   *zap.Logger
	opts     []ControllerOption
}

// NewService bootstraps the in-memory session hub.
func NewService(personas persona.Store, gateway Completer, logger *zap.Logger, opts ...ControllerOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("chat")
	return &Service{
		sessions: make(map[string]*Controller),
		personas: personas,
		gateway:  gateway,
		logger:   logger,
		opts:     append([]ControllerOption{WithLogger(logger)}, opts...),
	}
}

// Personas exposes the registry backing every session.
func (s *Service) Personas() persona.Store {
	return s.personas
}

// CreateSession provisions a session bound to personaName, or to the default when it is empty.
func (s *Service) CreateSession(_ context.Context, personaName string) (chat.SessionSnapshot, error) {
	if personaName == "" {
		personaName = s.personas.Default().Name
	}
	if _, ok := s.personas.Lookup(personaName); !ok {
		return chat.SessionSnapshot{}, &ValidationError{Field: "personaName", Reason: fmt.Sprintf("unknown personality %q", personaName)}
	}

	session := NewSession(uuid.NewString(), personaName)
	controller := NewController(session, s.personas, s.gateway, s.opts...)

	s.mu.Lock()
	s.sessions[session.ID()] = controller
	s.mu.Unlock()

	s.logger.Info("session created", zap.String("session", session.ID()), zap.String("persona", personaName))
	return controller.Snapshot(), nil
}

// Controller returns the controller driving sessionID.
func (s *Service) Controller(sessionID string) (*Controller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	controller, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return controller, nil
}

// GetSession retrieves a snapshot of a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.SessionSnapshot, error) {
	controller, err := s.Controller(sessionID)
	if err != nil {
		return chat.SessionSnapshot{}, err
	}
	return controller.Snapshot(), nil
}

// CloseSession destroys a session. Results still in flight for it are discarded.
func (s *Service) CloseSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	controller, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	controller.Close()
	s.logger.Info("session closed", zap.String("session", sessionID))
	return nil
}

// CloseAll destroys every session and waits for their workers to exit.
func (s *Service) CloseAll() {
	s.mu.Lock()
	controllers := make([]*Controller, 0, len(s.sessions))
	for id, controller := range s.sessions {
		controllers = append(controllers, controller)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, controller := range controllers {
		controller.Close()
	}
	for _, controller := range controllers {
		<-controller.Done()
	}
}
