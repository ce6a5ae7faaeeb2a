package types

import "time"

// Outcome records how a session ended.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeAborted        Outcome = "aborted"
	OutcomePipelineFailed Outcome = "pipeline_failed"
	OutcomeExpired        Outcome = "expired"
	OutcomeUserEnded      Outcome = "user_ended"
)

type Event struct {
	Type    string         `json:"type"`
	Ts      time.Time      `json:"timestamp"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Session is the persisted record for one voice conversation.
type Session struct {
	ID        string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	RoomName  string    `json:"room_name"`
	RoomURL   string    `json:"room_url"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`

	Outcome Outcome    `json:"outcome,omitempty"`
	EndedAt *time.Time `json:"ended_at,omitempty"`
}

// RoomHandle is a provisioned Daily room plus its two scoped join
// credentials. Created and released only by the orchestrator.
type RoomHandle struct {
	RoomName       string
	RoomURL        string
	UserCredential string
	BotCredential  string
	ExpiresAt      time.Time
}
