package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nathanasimon/memoryd/internal/domain"
)

// CommitmentStore implements internal/store.CommitmentStore.
type CommitmentStore struct {
	pool *pgxpool.Pool
}

func NewCommitmentStore(pool *pgxpool.Pool) *CommitmentStore {
	return &CommitmentStore{pool: pool}
}

func (s *CommitmentStore) Create(ctx context.Context, in *domain.Commitment) (*domain.Commitment, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO commitments (person_id, project_id, direction, description, deadline, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+commitmentColumns,
		in.PersonID, in.ProjectID, in.Direction, in.Description, in.Deadline, in.Status)
	return scanCommitment(row)
}

func (s *CommitmentStore) OpenForProjectsOrPeople(ctx context.Context, projectIDs, personIDs []string, limit int) ([]domain.Commitment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+commitmentColumns+`
		FROM   commitments
		WHERE  status = 'open'
		  AND  (project_id = ANY($1) OR person_id = ANY($2))
		ORDER BY deadline NULLS LAST, created_at DESC
		LIMIT $3`, projectIDs, personIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("open commitments: %w", err)
	}
	defer rows.Close()

	var out []domain.Commitment
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

const commitmentColumns = `id, person_id, project_id, direction, description, deadline, status, created_at, updated_at`

func scanCommitment(row rowScanner) (*domain.Commitment, error) {
	var c domain.Commitment
	err := row.Scan(&c.ID, &c.PersonID, &c.ProjectID, &c.Direction, &c.Description, &c.Deadline, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCommitmentNotFound
		}
		return nil, fmt.Errorf("scan commitment: %w", err)
	}
	return &c, nil
}
