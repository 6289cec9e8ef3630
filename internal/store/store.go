// Package store declares the typed read/write interfaces every component
// uses to reach Postgres. Concrete implementations live in
// internal/storage/postgres; tests use hand-rolled fakes implementing the
// same interfaces (no mocking framework, per the teacher's test style).
package store

import (
	"context"
	"time"

	"github.com/nathanasimon/memoryd/internal/domain"
)

// SessionStore persists Session rows.
type SessionStore interface {
	// UpsertBySessionID creates the session on first sighting, or updates
	// last_activity_at/turn_count on subsequent ingests.
	UpsertBySessionID(ctx context.Context, s *domain.Session) (*domain.Session, error)
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetBySessionID(ctx context.Context, sessionID string) (*domain.Session, error)
	MarkProcessed(ctx context.Context, id string, title, summary string) error
	// SetProjectID records the project the session is dominantly about,
	// the write side of SelectedProjectForWorkspace's per-workspace lookup.
	SetProjectID(ctx context.Context, sessionID, projectID string) error
}

// TurnStore persists Turn/TurnContent/TurnEntity/TurnArtifact rows.
type TurnStore interface {
	// UpsertTurn inserts or returns the existing row for (session_id,
	// turn_number). existed reports whether the row pre-existed so the
	// caller can decide whether to skip downstream work on hash match.
	UpsertTurn(ctx context.Context, t *domain.Turn) (row *domain.Turn, existed bool, err error)
	// UpsertTurnWithContent does the same upsert as UpsertTurn but also
	// writes the turn's bulk content in the same transaction, unless the
	// row already existed with an unchanged content hash.
	UpsertTurnWithContent(ctx context.Context, t *domain.Turn, c *domain.TurnContent) (row *domain.Turn, existed bool, err error)
	GetByID(ctx context.Context, id string) (*domain.Turn, error)
	PutContent(ctx context.Context, c *domain.TurnContent) error
	GetContent(ctx context.Context, turnID string) (*domain.TurnContent, error)
	SetSummary(ctx context.Context, turnID, title, summary string) error

	InsertEntities(ctx context.Context, entities []domain.TurnEntity) error
	InsertArtifacts(ctx context.Context, artifacts []domain.TurnArtifact) error

	// RecentByEntities returns turns in the last `since` window whose
	// entities or touched files intersect the given projects/people/paths.
	RecentByEntities(ctx context.Context, projects, people, paths []string, since time.Time, limit int) ([]ScoredTurn, error)

	// ListBySession returns every turn (with content) for a session in
	// turn_number order. The Skill Engine uses it to score a session's
	// quality and, when it clears the threshold, to synthesize a
	// procedure from the session's turns.
	ListBySession(ctx context.Context, sessionID string) ([]TurnWithContent, error)
}

// TurnWithContent pairs a Turn with its bulk content, the projection the
// Skill Engine needs per turn.
type TurnWithContent struct {
	Turn    domain.Turn
	Content domain.TurnContent
}

// ScoredTurn is a Turn plus the raw signals the Retriever needs to score
// it, returned directly by the Store so scoring stays in the Retriever.
type ScoredTurn struct {
	Turn           domain.Turn
	EntityOverlap  int
	PathOverlap    int
	AgeHours       float64
}

// ProjectStore persists Project rows and resolves lexical candidates.
type ProjectStore interface {
	Create(ctx context.Context, p *domain.Project) (*domain.Project, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Project, error)
	GetByID(ctx context.Context, id string) (*domain.Project, error)
	// AllForClassifier returns every project's (id, name, slug) pair for
	// lexical matching. Called at most once per classifier invocation.
	AllForClassifier(ctx context.Context) ([]ProjectLexeme, error)
	IncrementMention(ctx context.Context, id string, at time.Time) error
	// SelectedProjectForWorkspace returns the project of the most recently
	// active session for workspacePath that has a project_id set. Mention
	// counts play no part in the choice.
	SelectedProjectForWorkspace(ctx context.Context, workspacePath string) (*domain.Project, error)
	EffectiveSprintBoost(ctx context.Context, projectID string, now time.Time) (float64, error)
}

// ProjectLexeme is the minimal projection of a Project the Classifier and
// Entity Linker need for word-boundary matching.
type ProjectLexeme struct {
	ID   string
	Name string
	Slug string
}

// PersonStore persists Person rows and resolves lexical candidates.
type PersonStore interface {
	Create(ctx context.Context, p *domain.Person) (*domain.Person, error)
	GetByID(ctx context.Context, id string) (*domain.Person, error)
	AllForClassifier(ctx context.Context) ([]PersonLexeme, error)
}

// PersonLexeme is the minimal projection of a Person the Classifier and
// Entity Linker need for name matching.
type PersonLexeme struct {
	ID        string
	FullName  string
	FirstName string
}

// TaskStore persists Task rows.
type TaskStore interface {
	Create(ctx context.Context, t *domain.Task) (*domain.Task, error)
	OpenForProjectsOrPeople(ctx context.Context, projectIDs, personIDs []string, limit int) ([]domain.Task, error)
}

// CommitmentStore persists Commitment rows.
type CommitmentStore interface {
	Create(ctx context.Context, c *domain.Commitment) (*domain.Commitment, error)
	OpenForProjectsOrPeople(ctx context.Context, projectIDs, personIDs []string, limit int) ([]domain.Commitment, error)
}

// SkillStore persists Skill rows.
type SkillStore interface {
	Upsert(ctx context.Context, s *domain.Skill) (row *domain.Skill, existed bool, err error)
	GetByNameScope(ctx context.Context, name string, scope domain.SkillScope) (*domain.Skill, error)
	ActiveForClassifier(ctx context.Context) ([]domain.Skill, error)
}

// ArtifactStore reads recent error artifacts for the Retriever's Errors
// branch.
type ArtifactStore interface {
	RecentErrors(ctx context.Context, projects, people, paths []string, since time.Time, limit int) ([]domain.TurnArtifact, error)
}
