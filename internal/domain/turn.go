package domain

import (
	"errors"
	"time"
)

var (
	ErrTurnNotFound = errors.New("turn not found")
)

// Turn is one user message together with the contiguous assistant response
// (including tool invocations) up to the next user message.
//
// Invariant: (session_id, turn_number) is unique. ContentHash is a
// deterministic digest of (user_message, assistant_raw_text, ordered
// tool_names); re-ingestion with an identical hash is a no-op.
type Turn struct {
	ID              string  `json:"id"`
	SessionID       string  `json:"sessionID"`
	TurnNumber      int     `json:"turnNumber"`
	UserMessage     string  `json:"userMessage"`
	AssistantSummary *string `json:"assistantSummary,omitempty"`
	Title           *string `json:"title,omitempty"`
	ContentHash     string  `json:"contentHash"` // 64-hex
	ModelName       *string `json:"modelName,omitempty"`
	ToolNames       []string `json:"toolNames"`
	StartedAt       time.Time `json:"startedAt"`
	EndedAt         time.Time `json:"endedAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TurnContent holds the bulk text of a turn, kept off the hot Turn row so
// that queries which only need metadata stay small.
type TurnContent struct {
	TurnID           string   `json:"turnID"` // 1:1 with Turn
	RawJSONL         string   `json:"rawJSONL"`
	AssistantText    string   `json:"assistantText"`
	FilesTouched     []string `json:"filesTouched"`
	CommandsRun      []string `json:"commandsRun"`
	ErrorsEncountered []string `json:"errorsEncountered"`
	ToolCallCount    int      `json:"toolCallCount"`
	ContentSize      int      `json:"contentSize"`
}

// EntityType enumerates the kinds of free-text mentions a TurnEntity can
// record.
type EntityType string

const (
	EntityProject EntityType = "project"
	EntityPerson  EntityType = "person"
)

// TurnEntity links a Turn to a Project or Person mentioned in its text.
type TurnEntity struct {
	ID         string     `json:"id"`
	TurnID     string     `json:"turnID"`
	EntityType EntityType `json:"entityType"`
	EntityID   *string    `json:"entityID,omitempty"`
	EntityName string     `json:"entityName"`
	Confidence float64    `json:"confidence"` // [0,1]
}

// ArtifactType enumerates the kinds of artifact a tool invocation can
// produce.
type ArtifactType string

const (
	ArtifactFile    ArtifactType = "file"
	ArtifactCommand ArtifactType = "command"
	ArtifactError   ArtifactType = "error"
)

// TurnArtifact is a file, command, or error extracted from a turn's tool
// invocations.
type TurnArtifact struct {
	ID            string       `json:"id"`
	TurnID        string       `json:"turnID"`
	ArtifactType  ArtifactType `json:"artifactType"`
	ArtifactValue string       `json:"artifactValue"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
}
