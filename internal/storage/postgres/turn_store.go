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

// TurnStore implements internal/store.TurnStore.
type TurnStore struct {
	pool *pgxpool.Pool
}

func NewTurnStore(pool *pgxpool.Pool) *TurnStore {
	return &TurnStore{pool: pool}
}

// querier is implemented by both *pgxpool.Pool and pgx.Tx, so the
// insert/update/scan helpers below run unchanged whether called directly
// or from inside the transaction UpsertTurnWithContent opens.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// UpsertTurn inserts the row for (session_id, turn_number), or returns the
// existing row untouched when content_hash already matches — the
// Recorder uses `existed` to decide whether downstream extraction jobs
// are necessary (spec §4.E, "skip if hash matches").
func (s *TurnStore) UpsertTurn(ctx context.Context, in *domain.Turn) (*domain.Turn, bool, error) {
	return upsertTurn(ctx, s.pool, in)
}

// UpsertTurnWithContent upserts the turn row and, unless it already
// existed with an unchanged content_hash, writes its bulk content in the
// same transaction — a failure partway through can never leave a turn
// row with no matching turn_contents row (spec §4.A/§4.E).
func (s *TurnStore) UpsertTurnWithContent(ctx context.Context, in *domain.Turn, content *domain.TurnContent) (*domain.Turn, bool, error) {
	var row *domain.Turn
	var existed bool

	err := WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		r, ex, err := upsertTurn(ctx, tx, in)
		if err != nil {
			return err
		}
		row, existed = r, ex
		if existed && row.ContentHash == in.ContentHash {
			return nil
		}
		content.TurnID = row.ID
		return putContent(ctx, tx, content)
	})
	return row, existed, err
}

func upsertTurn(ctx context.Context, q querier, in *domain.Turn) (*domain.Turn, bool, error) {
	var existingHash string
	err := q.QueryRow(ctx,
		`SELECT content_hash FROM turns WHERE session_id = $1 AND turn_number = $2`,
		in.SessionID, in.TurnNumber,
	).Scan(&existingHash)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		row, insertErr := insertTurn(ctx, q, in)
		return row, false, insertErr
	case err != nil:
		return nil, false, fmt.Errorf("upsert turn: lookup: %w", err)
	case existingHash == in.ContentHash:
		row, getErr := getBySessionAndNumber(ctx, q, in.SessionID, in.TurnNumber)
		return row, true, getErr
	default:
		row, updateErr := updateTurn(ctx, q, in)
		return row, true, updateErr
	}
}

func insertTurn(ctx context.Context, q querier, in *domain.Turn) (*domain.Turn, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO turns (session_id, turn_number, user_message, assistant_summary,
		                    title, content_hash, model_name, tool_names, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+turnColumns,
		in.SessionID, in.TurnNumber, in.UserMessage, in.AssistantSummary,
		in.Title, in.ContentHash, in.ModelName, in.ToolNames, in.StartedAt, in.EndedAt)
	return scanTurn(row)
}

func updateTurn(ctx context.Context, q querier, in *domain.Turn) (*domain.Turn, error) {
	row := q.QueryRow(ctx, `
		UPDATE turns
		SET    user_message = $3, content_hash = $4, model_name = $5,
		       tool_names = $6, ended_at = $7, updated_at = NOW()
		WHERE  session_id = $1 AND turn_number = $2
		RETURNING `+turnColumns,
		in.SessionID, in.TurnNumber, in.UserMessage, in.ContentHash,
		in.ModelName, in.ToolNames, in.EndedAt)
	return scanTurn(row)
}

func getBySessionAndNumber(ctx context.Context, q querier, sessionID string, turnNumber int) (*domain.Turn, error) {
	row := q.QueryRow(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE session_id = $1 AND turn_number = $2`,
		sessionID, turnNumber)
	return scanTurn(row)
}

func (s *TurnStore) GetByID(ctx context.Context, id string) (*domain.Turn, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+turnColumns+` FROM turns WHERE id = $1`, id)
	return scanTurn(row)
}

func (s *TurnStore) PutContent(ctx context.Context, c *domain.TurnContent) error {
	return putContent(ctx, s.pool, c)
}

func putContent(ctx context.Context, q querier, c *domain.TurnContent) error {
	_, err := q.Exec(ctx, `
		INSERT INTO turn_contents (turn_id, raw_jsonl, assistant_text, files_touched,
		                            commands_run, errors_encountered, tool_call_count, content_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (turn_id) DO UPDATE
		SET    raw_jsonl = EXCLUDED.raw_jsonl,
		       assistant_text = EXCLUDED.assistant_text,
		       files_touched = EXCLUDED.files_touched,
		       commands_run = EXCLUDED.commands_run,
		       errors_encountered = EXCLUDED.errors_encountered,
		       tool_call_count = EXCLUDED.tool_call_count,
		       content_size = EXCLUDED.content_size`,
		c.TurnID, c.RawJSONL, c.AssistantText, c.FilesTouched,
		c.CommandsRun, c.ErrorsEncountered, c.ToolCallCount, c.ContentSize)
	return err
}

func (s *TurnStore) GetContent(ctx context.Context, turnID string) (*domain.TurnContent, error) {
	var c domain.TurnContent
	err := s.pool.QueryRow(ctx, `
		SELECT turn_id, raw_jsonl, assistant_text, files_touched, commands_run,
		       errors_encountered, tool_call_count, content_size
		FROM   turn_contents WHERE turn_id = $1`, turnID,
	).Scan(&c.TurnID, &c.RawJSONL, &c.AssistantText, &c.FilesTouched,
		&c.CommandsRun, &c.ErrorsEncountered, &c.ToolCallCount, &c.ContentSize)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTurnNotFound
		}
		return nil, fmt.Errorf("get turn content: %w", err)
	}
	return &c, nil
}

func (s *TurnStore) SetSummary(ctx context.Context, turnID, title, summary string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE turns SET title = $2, assistant_summary = $3, updated_at = NOW()
		WHERE id = $1`, turnID, title, summary)
	return err
}

func (s *TurnStore) InsertEntities(ctx context.Context, entities []domain.TurnEntity) error {
	if len(entities) == 0 {
		return nil
	}
	return WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, e := range entities {
			_, err := tx.Exec(ctx, `
				INSERT INTO turn_entities (turn_id, entity_type, entity_id, entity_name, confidence)
				VALUES ($1, $2, $3, $4, $5)`,
				e.TurnID, e.EntityType, e.EntityID, e.EntityName, e.Confidence)
			if err != nil {
				return fmt.Errorf("insert turn entity: %w", err)
			}
		}
		return nil
	})
}

func (s *TurnStore) InsertArtifacts(ctx context.Context, artifacts []domain.TurnArtifact) error {
	if len(artifacts) == 0 {
		return nil
	}
	return WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, a := range artifacts {
			_, err := tx.Exec(ctx, `
				INSERT INTO turn_artifacts (turn_id, artifact_type, artifact_value, metadata)
				VALUES ($1, $2, $3, $4)`,
				a.TurnID, a.ArtifactType, a.ArtifactValue, a.Metadata)
			if err != nil {
				return fmt.Errorf("insert turn artifact: %w", err)
			}
		}
		return nil
	})
}

// RecentByEntities backs the Retriever's Conversations branch (spec
// §4.G): turns within `since` whose linked entities or touched files
// intersect the given projects/people/paths, with the raw overlap counts
// the Retriever's scoring formula needs.
func (s *TurnStore) RecentByEntities(ctx context.Context, projects, people, paths []string, since time.Time, limit int) ([]store.ScoredTurn, error) {
	query := `
		SELECT t.id, t.session_id, t.turn_number, t.user_message, t.assistant_summary,
		       t.title, t.content_hash, t.model_name, t.tool_names, t.started_at,
		       t.ended_at, t.created_at, t.updated_at,
		       COALESCE(ent.overlap, 0)  AS entity_overlap,
		       COALESCE(path.overlap, 0) AS path_overlap,
		       EXTRACT(EPOCH FROM (NOW() - t.started_at)) / 3600.0 AS age_hours
		FROM   turns t
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS overlap FROM turn_entities te
			WHERE  te.turn_id = t.id
			  AND  (te.entity_id = ANY($1) OR te.entity_id = ANY($2))
		) ent ON TRUE
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS overlap FROM turn_contents tc
			WHERE  tc.turn_id = t.id AND tc.files_touched && $3
		) path ON TRUE
		WHERE  t.started_at >= $4
		  AND  (COALESCE(ent.overlap, 0) > 0 OR COALESCE(path.overlap, 0) > 0)
		ORDER BY t.started_at DESC
		LIMIT $5`

	rows, err := s.pool.Query(ctx, query, projects, people, paths, since, limit)
	if err != nil {
		return nil, fmt.Errorf("recent turns by entities: %w", err)
	}
	defer rows.Close()

	var out []store.ScoredTurn
	for rows.Next() {
		var st store.ScoredTurn
		err := rows.Scan(
			&st.Turn.ID, &st.Turn.SessionID, &st.Turn.TurnNumber, &st.Turn.UserMessage,
			&st.Turn.AssistantSummary, &st.Turn.Title, &st.Turn.ContentHash, &st.Turn.ModelName,
			&st.Turn.ToolNames, &st.Turn.StartedAt, &st.Turn.EndedAt, &st.Turn.CreatedAt,
			&st.Turn.UpdatedAt, &st.EntityOverlap, &st.PathOverlap, &st.AgeHours,
		)
		if err != nil {
			return nil, fmt.Errorf("scan scored turn: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ListBySession returns every turn and its content for a session in
// turn_number order, for internal/skill's quality scoring and
// synthesis passes.
func (s *TurnStore) ListBySession(ctx context.Context, sessionID string) ([]store.TurnWithContent, error) {
	query := `
		SELECT t.` + turnColumns + `,
		       COALESCE(tc.raw_jsonl, ''), COALESCE(tc.assistant_text, ''),
		       COALESCE(tc.files_touched, '{}'), COALESCE(tc.commands_run, '{}'),
		       COALESCE(tc.errors_encountered, '{}'), COALESCE(tc.tool_call_count, 0),
		       COALESCE(tc.content_size, 0)
		FROM   turns t
		LEFT JOIN turn_contents tc ON tc.turn_id = t.id
		WHERE  t.session_id = $1
		ORDER BY t.turn_number ASC`

	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns by session: %w", err)
	}
	defer rows.Close()

	var out []store.TurnWithContent
	for rows.Next() {
		var tc store.TurnWithContent
		err := rows.Scan(
			&tc.Turn.ID, &tc.Turn.SessionID, &tc.Turn.TurnNumber, &tc.Turn.UserMessage,
			&tc.Turn.AssistantSummary, &tc.Turn.Title, &tc.Turn.ContentHash, &tc.Turn.ModelName,
			&tc.Turn.ToolNames, &tc.Turn.StartedAt, &tc.Turn.EndedAt, &tc.Turn.CreatedAt,
			&tc.Turn.UpdatedAt,
			&tc.Content.RawJSONL, &tc.Content.AssistantText, &tc.Content.FilesTouched,
			&tc.Content.CommandsRun, &tc.Content.ErrorsEncountered, &tc.Content.ToolCallCount,
			&tc.Content.ContentSize,
		)
		if err != nil {
			return nil, fmt.Errorf("scan turn with content: %w", err)
		}
		tc.Content.TurnID = tc.Turn.ID
		out = append(out, tc)
	}
	return out, rows.Err()
}

const turnColumns = `id, session_id, turn_number, user_message, assistant_summary,
	          title, content_hash, model_name, tool_names, started_at,
	          ended_at, created_at, updated_at`

func scanTurn(row rowScanner) (*domain.Turn, error) {
	var t domain.Turn
	err := row.Scan(
		&t.ID, &t.SessionID, &t.TurnNumber, &t.UserMessage, &t.AssistantSummary,
		&t.Title, &t.ContentHash, &t.ModelName, &t.ToolNames, &t.StartedAt,
		&t.EndedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTurnNotFound
		}
		return nil, fmt.Errorf("scan turn: %w", err)
	}
	return &t, nil
}
