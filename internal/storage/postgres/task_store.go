package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nathanasimon/memoryd/internal/domain"
)

// TaskStore implements internal/store.TaskStore.
type TaskStore struct {
	pool *pgxpool.Pool
}

func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

func (s *TaskStore) Create(ctx context.Context, in *domain.Task) (*domain.Task, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (project_id, title, status, priority, due_date, user_pinned)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+taskColumns,
		in.ProjectID, in.Title, in.Status, in.Priority, in.DueDate, in.UserPinned)
	return scanTask(row)
}

// OpenForProjectsOrPeople returns non-done tasks for the given projects,
// plus any user-pinned task regardless of project. Task carries no
// person linkage, so the query does not use personIDs.
func (s *TaskStore) OpenForProjectsOrPeople(ctx context.Context, projectIDs, personIDs []string, limit int) ([]domain.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM   tasks
		WHERE  status != 'done'
		  AND  (project_id = ANY($1) OR user_pinned)
		ORDER BY user_pinned DESC,
		         CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END,
		         due_date NULLS LAST
		LIMIT $2`, projectIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("open tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

const taskColumns = `id, project_id, title, status, priority, due_date, user_pinned, created_at, updated_at`

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Status, &t.Priority, &t.DueDate, &t.UserPinned, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return &t, nil
}
