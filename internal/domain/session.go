package domain

import (
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
)

// Session is created on first sighting of a transcript and mutated in
// place by the Recorder and by summarization jobs. It is never destroyed.
type Session struct {
	ID             string  `json:"id"`
	SessionID      string  `json:"sessionID"` // external id from the transcript
	TranscriptPath string  `json:"transcriptPath"`
	WorkspacePath  string  `json:"workspacePath"`
	StartedAt      time.Time `json:"startedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	TurnCount      int     `json:"turnCount"`
	ProjectID      *string `json:"projectID,omitempty"`
	IsProcessed    bool    `json:"isProcessed"`
	Title          *string `json:"title,omitempty"`
	Summary        *string `json:"summary,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
