package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nathanasimon/memoryd/internal/domain"
	"github.com/nathanasimon/memoryd/internal/store"
)

// ProjectStore implements internal/store.ProjectStore.
type ProjectStore struct {
	pool *pgxpool.Pool
}

func NewProjectStore(pool *pgxpool.Pool) *ProjectStore {
	return &ProjectStore{pool: pool}
}

func (s *ProjectStore) Create(ctx context.Context, in *domain.Project) (*domain.Project, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO projects (name, slug, tier, status, mention_count, last_activity,
		                       user_pinned, user_priority, user_deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+projectColumns,
		in.Name, in.Slug, in.Tier, in.Status, in.MentionCount, in.LastActivity,
		in.UserPinned, in.UserPriority, in.UserDeadline)

	p, err := scanProject(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrProjectSlugTaken
		}
		return nil, err
	}
	return p, nil
}

func (s *ProjectStore) GetBySlug(ctx context.Context, slug string) (*domain.Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE slug = $1`, slug)
	return scanProject(row)
}

func (s *ProjectStore) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	return scanProject(row)
}

// AllForClassifier returns every project's lexeme for word-boundary
// matching. The Classifier caches this behind a TTL so it is not a
// per-invocation query (see internal/classify).
func (s *ProjectStore) AllForClassifier(ctx context.Context) ([]store.ProjectLexeme, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, slug FROM projects WHERE status != 'abandoned'`)
	if err != nil {
		return nil, fmt.Errorf("all projects for classifier: %w", err)
	}
	defer rows.Close()

	var out []store.ProjectLexeme
	for rows.Next() {
		var l store.ProjectLexeme
		if err := rows.Scan(&l.ID, &l.Name, &l.Slug); err != nil {
			return nil, fmt.Errorf("scan project lexeme: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *ProjectStore) IncrementMention(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE projects
		SET    mention_count = mention_count + 1,
		       last_activity = GREATEST(last_activity, $2),
		       updated_at    = NOW()
		WHERE  id = $1`, id, at)
	return err
}

// SelectedProjectForWorkspace returns the project most recently touched by
// sessions rooted at workspacePath, per spec §4.K's workspace-to-project
// resolution.
func (s *ProjectStore) SelectedProjectForWorkspace(ctx context.Context, workspacePath string) (*domain.Project, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+prefixedProjectColumns("p")+`
		FROM   projects p
		JOIN   sessions s ON s.project_id = p.id
		WHERE  s.workspace_path = $1
		ORDER BY s.last_activity_at DESC
		LIMIT  1`, workspacePath)
	return scanProject(row)
}

func (s *ProjectStore) EffectiveSprintBoost(ctx context.Context, projectID string, now time.Time) (float64, error) {
	var boost float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(priority_boost), 1.0)
		FROM   sprints
		WHERE  project_id = $1 AND is_active AND $2 BETWEEN starts_at AND ends_at`,
		projectID, now,
	).Scan(&boost)
	if err != nil {
		return 1.0, fmt.Errorf("effective sprint boost: %w", err)
	}
	return boost, nil
}

const projectColumns = `id, name, slug, tier, status, mention_count, last_activity,
	          user_pinned, user_priority, user_deadline, created_at, updated_at`

func prefixedProjectColumns(alias string) string {
	return fmt.Sprintf(`%[1]s.id, %[1]s.name, %[1]s.slug, %[1]s.tier, %[1]s.status,
	          %[1]s.mention_count, %[1]s.last_activity, %[1]s.user_pinned,
	          %[1]s.user_priority, %[1]s.user_deadline, %[1]s.created_at, %[1]s.updated_at`, alias)
}

func scanProject(row rowScanner) (*domain.Project, error) {
	var p domain.Project
	err := row.Scan(
		&p.ID, &p.Name, &p.Slug, &p.Tier, &p.Status, &p.MentionCount, &p.LastActivity,
		&p.UserPinned, &p.UserPriority, &p.UserDeadline, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProjectNotFound
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}
	return &p, nil
}
