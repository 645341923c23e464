package chat

import (
	"sync"
	"time"

	"github.com/zhouzirui/bot-lounge/backend/internal/model/chat"
)

// Transcript is the ordered, append-only turn list of one session. It is not safe for
// concurrent use on its own; Session serialises access to it.
type Transcript struct {
	turns []chat.Turn
}

// Append adds a turn at the end. It never validates role alternation.
func (t *Transcript) Append(turn chat.Turn) {
	t.turns = append(t.turns, turn)
}

// All returns a copy of the turns in insertion order.
func (t *Transcript) All() []chat.Turn {
	out := make([]chat.Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Clear drops every turn.
func (t *Transcript) Clear() {
	t.turns = nil
}

// Session is the state bundle of one conversation: the active personality name and its transcript.
type Session struct {
	mu            sync.RWMutex
	id            string
	activeBotName string
	transcript    Transcript
	createdAt     time.Time
	closed        bool
}

// NewSession creates an empty session bound to activeBotName.
func NewSession(id, activeBotName string) *Session {
	return &Session{
		id:            id,
		activeBotName: activeBotName,
		createdAt:     time.Now().UTC(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// ActiveBotName returns the name last selected for this session.
func (s *Session) ActiveBotName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeBotName
}

// Transcript returns a copy of the committed turns.
func (s *Session) Transcript() []chat.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transcript.All()
}

// Snapshot returns name and transcript read under one lock.
func (s *Session) Snapshot() chat.SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return chat.SessionSnapshot{
		ID:            s.id,
		ActiveBotName: s.activeBotName,
		Transcript:    s.transcript.All(),
		CreatedAt:     s.createdAt,
	}
}

// Append commits a turn. Once the session is closed every append is refused.
func (s *Session) Append(turn chat.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.transcript.Append(turn)
	return nil
}

// SetActiveBotName switches the personality, optionally clearing the transcript in the same step.
func (s *Session) SetActiveBotName(name string, clearTranscript bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.activeBotName = name
	if clearTranscript {
		s.transcript.Clear()
	}
	return nil
}

// Close marks the session destroyed.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
