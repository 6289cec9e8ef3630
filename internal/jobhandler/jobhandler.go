// Package jobhandler builds the dispatch table internal/worker.Worker
// runs each claimed job against (spec §4.I's handler table), wiring
// together the Recorder, Entity Linker, Artifact Extractor output, the
// model service, and the Skill Engine. Kept separate from
// internal/worker itself so that package stays free of every domain
// dependency it dispatches to.
package jobhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/nathanasimon/memoryd/internal/domain"
	"github.com/nathanasimon/memoryd/internal/entitylink"
	"github.com/nathanasimon/memoryd/internal/model"
	"github.com/nathanasimon/memoryd/internal/recorder"
	"github.com/nathanasimon/memoryd/internal/skill"
	"github.com/nathanasimon/memoryd/internal/store"
	"github.com/nathanasimon/memoryd/internal/worker"
)

const fallbackSummaryLen = 280

// Deps are every collaborator the dispatch table's handlers need.
type Deps struct {
	Sessions  store.SessionStore
	Turns     store.TurnStore
	Recorder  *recorder.Recorder
	Linker    *entitylink.Linker
	Skills    *skill.Engine
	Generator model.Service
	Logger    *slog.Logger
}

// New builds the kind->Handler map cmd/worker hands to internal/worker.New.
func New(d Deps) map[domain.JobKind]worker.Handler {
	h := &handlers{Deps: d, logger: d.Logger.With("component", "jobhandler")}
	return map[domain.JobKind]worker.Handler{
		domain.KindSessionProcess:  h.sessionProcess,
		domain.KindTurnSummary:     h.turnSummary,
		domain.KindEntityExtract:   h.entityExtract,
		domain.KindArtifactExtract: h.artifactExtract,
		domain.KindSessionSummary:  h.sessionSummary,
		domain.KindSkillExtract:    h.skillExtract,
	}
}

type handlers struct {
	Deps
	logger *slog.Logger
}

type sessionProcessPayload struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	WorkspacePath  string `json:"workspace_path"`
}

// sessionProcess re-runs the Recorder against the session's transcript
// file. Re-entrant: Recorder.Ingest is idempotent on unchanged turn
// content and enqueues its follow-up jobs under dedupe keys; it never
// enqueues session_process itself (only cmd/hook's stop does).
func (h *handlers) sessionProcess(ctx context.Context, job *domain.Job) error {
	var p sessionProcessPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("unmarshal session_process payload: %w", err)
	}

	f, err := os.Open(p.TranscriptPath)
	if err != nil {
		return fmt.Errorf("open transcript %s: %w", p.TranscriptPath, err)
	}
	defer f.Close()

	_, err = h.Recorder.Ingest(ctx, recorder.Input{
		ExternalSessionID: p.SessionID,
		TranscriptPath:    p.TranscriptPath,
		WorkspacePath:     p.WorkspacePath,
		Transcript:        f,
	})
	return err
}

type turnPayload struct {
	TurnID string `json:"turn_id"`
}

// turnSummary generates a title+assistant_summary for a turn, falling
// back to truncation when the model service is unreachable rather than
// failing (and retrying) the job.
func (h *handlers) turnSummary(ctx context.Context, job *domain.Job) error {
	var p turnPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("unmarshal turn_summary payload: %w", err)
	}

	turn, err := h.Turns.GetByID(ctx, p.TurnID)
	if err != nil {
		return fmt.Errorf("get turn %s: %w", p.TurnID, err)
	}
	content, err := h.Turns.GetContent(ctx, p.TurnID)
	if err != nil {
		return fmt.Errorf("get turn content %s: %w", p.TurnID, err)
	}

	in := model.TurnInput{
		UserMessage:    turn.UserMessage,
		AssistantText:  content.AssistantText,
		ToolNames:      turn.ToolNames,
		FilesTouched:   content.FilesTouched,
		ErrorsOccurred: content.ErrorsEncountered,
	}

	out, err := h.Generator.SummarizeTurn(ctx, in)
	if errors.Is(err, model.ErrUnavailable) {
		h.logger.WarnContext(ctx, "model service unavailable, falling back to truncation", "turn_id", p.TurnID)
		out, err = (&model.FallbackService{}).SummarizeTurn(ctx, in)
	}
	if err != nil {
		return fmt.Errorf("summarize turn %s: %w", p.TurnID, err)
	}

	return h.Turns.SetSummary(ctx, p.TurnID, out.Title, out.Summary)
}

// entityExtract runs the Entity Linker over a turn's text.
func (h *handlers) entityExtract(ctx context.Context, job *domain.Job) error {
	var p turnPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("unmarshal entity_extract payload: %w", err)
	}

	turn, err := h.Turns.GetByID(ctx, p.TurnID)
	if err != nil {
		return fmt.Errorf("get turn %s: %w", p.TurnID, err)
	}
	content, err := h.Turns.GetContent(ctx, p.TurnID)
	if err != nil {
		return fmt.Errorf("get turn content %s: %w", p.TurnID, err)
	}

	return h.Linker.LinkTurn(ctx, p.TurnID, turn.SessionID, turn.UserMessage, content.AssistantText)
}

// artifactExtract materializes a turn's already-extracted files,
// commands, and errors (internal/artifact, run inline by the Recorder)
// into queryable TurnArtifact rows.
func (h *handlers) artifactExtract(ctx context.Context, job *domain.Job) error {
	var p turnPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("unmarshal artifact_extract payload: %w", err)
	}

	content, err := h.Turns.GetContent(ctx, p.TurnID)
	if err != nil {
		return fmt.Errorf("get turn content %s: %w", p.TurnID, err)
	}

	var artifacts []domain.TurnArtifact
	for _, f := range content.FilesTouched {
		artifacts = append(artifacts, domain.TurnArtifact{ID: uuid.NewString(), TurnID: p.TurnID, ArtifactType: domain.ArtifactFile, ArtifactValue: f})
	}
	for _, cmd := range content.CommandsRun {
		artifacts = append(artifacts, domain.TurnArtifact{ID: uuid.NewString(), TurnID: p.TurnID, ArtifactType: domain.ArtifactCommand, ArtifactValue: cmd})
	}
	for _, e := range content.ErrorsEncountered {
		artifacts = append(artifacts, domain.TurnArtifact{ID: uuid.NewString(), TurnID: p.TurnID, ArtifactType: domain.ArtifactError, ArtifactValue: e})
	}
	if len(artifacts) == 0 {
		return nil
	}
	return h.Turns.InsertArtifacts(ctx, artifacts)
}

type sessionPayload struct {
	SessionID string `json:"session_id"`
}

// sessionSummary aggregates each turn's title/summary (already produced
// by turn_summary jobs) into the Session's title/summary fields. Pure
// aggregation, no extra model call: the per-turn summaries already did
// the distilling.
func (h *handlers) sessionSummary(ctx context.Context, job *domain.Job) error {
	var p sessionPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("unmarshal session_summary payload: %w", err)
	}

	turns, err := h.Turns.ListBySession(ctx, p.SessionID)
	if err != nil {
		return fmt.Errorf("list turns for session %s: %w", p.SessionID, err)
	}
	if len(turns) == 0 {
		return nil
	}

	title := turns[0].Turn.UserMessage
	if t := turns[0].Turn.Title; t != nil && *t != "" {
		title = *t
	}
	title = truncate(title, 80)

	var lines []string
	for _, t := range turns {
		if t.Turn.AssistantSummary != nil && *t.Turn.AssistantSummary != "" {
			lines = append(lines, *t.Turn.AssistantSummary)
		}
	}
	summary := truncate(strings.Join(lines, " "), fallbackSummaryLen)

	return h.Sessions.MarkProcessed(ctx, p.SessionID, title, summary)
}

// skillExtract runs the Skill Engine's auto-generation pass over a
// session's turns.
func (h *handlers) skillExtract(ctx context.Context, job *domain.Job) error {
	var p sessionPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("unmarshal skill_extract payload: %w", err)
	}

	result, err := h.Skills.AutoGenerate(ctx, p.SessionID)
	if err != nil {
		return fmt.Errorf("auto-generate skill for session %s: %w", p.SessionID, err)
	}
	if result.Generated {
		h.logger.InfoContext(ctx, "skill auto-generated", "session_id", p.SessionID, "skill_id", result.SkillID, "score", result.Score)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
