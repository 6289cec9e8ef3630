package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nathanasimon/memoryd/internal/domain"
)

// SkillStore implements internal/store.SkillStore.
type SkillStore struct {
	pool *pgxpool.Pool
}

func NewSkillStore(pool *pgxpool.Pool) *SkillStore {
	return &SkillStore{pool: pool}
}

// Upsert inserts a new skill, or — on a (name, scope) conflict — updates
// the existing row's content if the content hash changed, per spec §4.J's
// "content-hash no-op" rule: re-synthesizing an unchanged skill is a
// no-op, existed=true either way.
func (s *SkillStore) Upsert(ctx context.Context, in *domain.Skill) (*domain.Skill, bool, error) {
	existing, err := s.GetByNameScope(ctx, in.Name, in.Scope)
	if err != nil && !errors.Is(err, domain.ErrSkillNotFound) {
		return nil, false, fmt.Errorf("upsert skill: lookup: %w", err)
	}

	if errors.Is(err, domain.ErrSkillNotFound) {
		row := s.pool.QueryRow(ctx, `
			INSERT INTO skills (name, description, triggers, source, source_session_id,
			                     installed_path, scope, quality_score, content_hash, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)
			RETURNING `+skillColumns,
			in.Name, in.Description, in.Triggers, in.Source, in.SourceSessionID,
			in.InstalledPath, in.Scope, in.QualityScore, in.ContentHash)
		created, err := scanSkill(row)
		return created, false, err
	}

	if existing.ContentHash == in.ContentHash {
		return existing, true, nil
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE skills
		SET    description = $3, triggers = $4, quality_score = $5,
		       content_hash = $6, updated_at = NOW()
		WHERE  name = $1 AND scope = $2
		RETURNING `+skillColumns,
		in.Name, in.Scope, in.Description, in.Triggers, in.QualityScore, in.ContentHash)
	updated, err := scanSkill(row)
	return updated, true, err
}

func (s *SkillStore) GetByNameScope(ctx context.Context, name string, scope domain.SkillScope) (*domain.Skill, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+skillColumns+` FROM skills WHERE name = $1 AND scope = $2`, name, scope)
	return scanSkill(row)
}

func (s *SkillStore) ActiveForClassifier(ctx context.Context) ([]domain.Skill, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+skillColumns+` FROM skills WHERE is_active`)
	if err != nil {
		return nil, fmt.Errorf("active skills for classifier: %w", err)
	}
	defer rows.Close()

	var out []domain.Skill
	for rows.Next() {
		sk, err := scanSkill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sk)
	}
	return out, rows.Err()
}

const skillColumns = `id, name, description, triggers, source, source_session_id,
	          installed_path, scope, quality_score, content_hash, is_active,
	          created_at, updated_at`

func scanSkill(row rowScanner) (*domain.Skill, error) {
	var sk domain.Skill
	err := row.Scan(
		&sk.ID, &sk.Name, &sk.Description, &sk.Triggers, &sk.Source, &sk.SourceSessionID,
		&sk.InstalledPath, &sk.Scope, &sk.QualityScore, &sk.ContentHash, &sk.IsActive,
		&sk.CreatedAt, &sk.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSkillNotFound
		}
		return nil, fmt.Errorf("scan skill: %w", err)
	}
	return &sk, nil
}
