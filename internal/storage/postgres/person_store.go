package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nathanasimon/memoryd/internal/domain"
	"github.com/nathanasimon/memoryd/internal/store"
)

// PersonStore implements internal/store.PersonStore.
type PersonStore struct {
	pool *pgxpool.Pool
}

func NewPersonStore(pool *pgxpool.Pool) *PersonStore {
	return &PersonStore{pool: pool}
}

func (s *PersonStore) Create(ctx context.Context, in *domain.Person) (*domain.Person, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO people (name, email, relationship, organization)
		VALUES ($1, $2, $3, $4)
		RETURNING `+personColumns,
		in.Name, in.Email, in.Relationship, in.Organization)
	return scanPerson(row)
}

func (s *PersonStore) GetByID(ctx context.Context, id string) (*domain.Person, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+personColumns+` FROM people WHERE id = $1`, id)
	return scanPerson(row)
}

// AllForClassifier returns every person's first/full name for the
// Classifier's lexical matcher (see internal/classify).
func (s *PersonStore) AllForClassifier(ctx context.Context) ([]store.PersonLexeme, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM people`)
	if err != nil {
		return nil, fmt.Errorf("all people for classifier: %w", err)
	}
	defer rows.Close()

	var out []store.PersonLexeme
	for rows.Next() {
		var l store.PersonLexeme
		if err := rows.Scan(&l.ID, &l.FullName); err != nil {
			return nil, fmt.Errorf("scan person lexeme: %w", err)
		}
		l.FirstName = firstToken(l.FullName)
		out = append(out, l)
	}
	return out, rows.Err()
}

func firstToken(s string) string {
	for i, r := range s {
		if r == ' ' {
			return s[:i]
		}
	}
	return s
}

const personColumns = `id, name, email, relationship, organization, created_at, updated_at`

func scanPerson(row rowScanner) (*domain.Person, error) {
	var p domain.Person
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Relationship, &p.Organization, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPersonNotFound
		}
		return nil, fmt.Errorf("scan person: %w", err)
	}
	return &p, nil
}
