package chat

import "time"

// SessionSnapshot is a consistent, read-only view of one conversation.
type SessionSnapshot struct {
	ID            string    `json:"id"`
	ActiveBotName string    `json:"activeBotName"`
	Transcript    []Turn    `json:"transcript"`
	CreatedAt     time.Time `json:"createdAt"`
}
