package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nathanasimon/memoryd/internal/domain"
)

// SessionStore implements internal/store.SessionStore.
type SessionStore struct {
	pool *pgxpool.Pool
}

func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// UpsertBySessionID creates the session row on first sighting of
// session_id, or bumps last_activity_at/turn_count on re-ingest of an
// already-known transcript.
func (s *SessionStore) UpsertBySessionID(ctx context.Context, in *domain.Session) (*domain.Session, error) {
	query := `
		INSERT INTO sessions (session_id, transcript_path, workspace_path, started_at, last_activity_at, turn_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE
		SET    last_activity_at = GREATEST(sessions.last_activity_at, EXCLUDED.last_activity_at),
		       turn_count       = EXCLUDED.turn_count,
		       updated_at       = NOW()
		RETURNING id, session_id, transcript_path, workspace_path, started_at,
		          last_activity_at, turn_count, project_id, is_processed,
		          title, summary, created_at, updated_at`

	row := s.pool.QueryRow(ctx, query,
		in.SessionID, in.TranscriptPath, in.WorkspacePath, in.StartedAt, in.LastActivityAt, in.TurnCount)
	return scanSession(row)
}

func (s *SessionStore) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := s.pool.QueryRow(ctx, sessionSelect+` WHERE id = $1`, id)
	return scanSession(row)
}

func (s *SessionStore) GetBySessionID(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.pool.QueryRow(ctx, sessionSelect+` WHERE session_id = $1`, sessionID)
	return scanSession(row)
}

func (s *SessionStore) MarkProcessed(ctx context.Context, id string, title, summary string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET    is_processed = TRUE, title = $2, summary = $3, updated_at = NOW()
		WHERE  id = $1`, id, title, summary)
	return err
}

// SetProjectID records the session's dominant project (spec §4.K): the
// Entity Linker calls this as it links each turn, so
// SelectedProjectForWorkspace has a row to find once a session has been
// confidently associated with a project.
func (s *SessionStore) SetProjectID(ctx context.Context, sessionID, projectID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions SET project_id = $2, updated_at = NOW() WHERE id = $1`,
		sessionID, projectID)
	return err
}

const sessionSelect = `
	SELECT id, session_id, transcript_path, workspace_path, started_at,
	       last_activity_at, turn_count, project_id, is_processed,
	       title, summary, created_at, updated_at
	FROM   sessions`

func scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(
		&s.ID, &s.SessionID, &s.TranscriptPath, &s.WorkspacePath, &s.StartedAt,
		&s.LastActivityAt, &s.TurnCount, &s.ProjectID, &s.IsProcessed,
		&s.Title, &s.Summary, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &s, nil
}
