package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nathanasimon/memoryd/internal/domain"
)

// ArtifactStore implements internal/store.ArtifactStore.
type ArtifactStore struct {
	pool *pgxpool.Pool
}

func NewArtifactStore(pool *pgxpool.Pool) *ArtifactStore {
	return &ArtifactStore{pool: pool}
}

// RecentErrors backs the Retriever's Errors branch (spec §4.G): error
// artifacts from turns touching the given projects/people/paths within
// the `since` window, newest first.
func (s *ArtifactStore) RecentErrors(ctx context.Context, projects, people, paths []string, since time.Time, limit int) ([]domain.TurnArtifact, error) {
	query := `
		SELECT ta.id, ta.turn_id, ta.artifact_type, ta.artifact_value, ta.metadata, ta.created_at
		FROM   turn_artifacts ta
		JOIN   turns t ON t.id = ta.turn_id
		LEFT JOIN turn_entities te ON te.turn_id = t.id
		LEFT JOIN turn_contents tc ON tc.turn_id = t.id
		WHERE  ta.artifact_type = 'error'
		  AND  t.started_at >= $4
		  AND  (te.entity_id = ANY($1) OR te.entity_id = ANY($2) OR tc.files_touched && $3)
		ORDER BY ta.created_at DESC
		LIMIT $5`

	rows, err := s.pool.Query(ctx, query, projects, people, paths, since, limit)
	if err != nil {
		return nil, fmt.Errorf("recent error artifacts: %w", err)
	}
	defer rows.Close()

	var out []domain.TurnArtifact
	for rows.Next() {
		var a domain.TurnArtifact
		if err := rows.Scan(&a.ID, &a.TurnID, &a.ArtifactType, &a.ArtifactValue, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
