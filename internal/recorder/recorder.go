// Package recorder orchestrates idempotent ingestion of one session
// (spec §4.E): upsert the session, parse the transcript, upsert each
// turn by content hash, persist content, and enqueue follow-up jobs.
package recorder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/nathanasimon/memoryd/internal/artifact"
	"github.com/nathanasimon/memoryd/internal/domain"
	"github.com/nathanasimon/memoryd/internal/queue"
	"github.com/nathanasimon/memoryd/internal/store"
	"github.com/nathanasimon/memoryd/internal/transcript"
)

// Recorder ties the Transcript Parser, Artifact Extractor, Store, and
// Job Queue together into one ingestion pass.
type Recorder struct {
	sessions store.SessionStore
	turns    store.TurnStore
	jobs     *queue.Queue
	logger   *slog.Logger
}

func New(sessions store.SessionStore, turns store.TurnStore, jobs *queue.Queue, logger *slog.Logger) *Recorder {
	return &Recorder{
		sessions: sessions,
		turns:    turns,
		jobs:     jobs,
		logger:   logger.With("component", "recorder"),
	}
}

// Input describes one transcript to ingest.
type Input struct {
	ExternalSessionID string
	TranscriptPath    string
	WorkspacePath     string
	Transcript        io.Reader
}

// Summary reports what Ingest did, for logging and test assertions.
type Summary struct {
	SessionID       string
	TurnsParsed     int
	TurnsChanged    int
	SkippedLines    int
	JobsEnqueued    int
}

// turnJobSpec pairs a job kind with its priority, per §4.E's fixed
// enqueue order: session_process(1, enqueued by cmd/hook's stop
// invocation, not here) -> turn_summary(5) -> entity_extract(7) ->
// artifact_extract(7) -> session_summary(10) -> skill_extract(20).
type turnJobSpec struct {
	kind     domain.JobKind
	priority int
}

var perTurnJobs = []turnJobSpec{
	{domain.KindTurnSummary, 5},
	{domain.KindEntityExtract, 7},
	{domain.KindArtifactExtract, 7},
}

var perSessionJobs = []turnJobSpec{
	{domain.KindSessionSummary, 10},
	{domain.KindSkillExtract, 20},
}

// Ingest upserts the session, parses its transcript, upserts each turn,
// and enqueues follow-up jobs. Re-running against an unchanged
// transcript is a no-op on content; only jobs that were not already
// deduplicated are (re-)enqueued.
func (r *Recorder) Ingest(ctx context.Context, in Input) (Summary, error) {
	now := time.Now()

	sess, err := r.sessions.UpsertBySessionID(ctx, &domain.Session{
		SessionID:      in.ExternalSessionID,
		TranscriptPath: in.TranscriptPath,
		WorkspacePath:  in.WorkspacePath,
		StartedAt:      now,
		LastActivityAt: now,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("upsert session: %w", err)
	}

	parsed, err := transcript.Parse(in.Transcript)
	if err != nil {
		return Summary{}, fmt.Errorf("parse transcript: %w", err)
	}

	summary := Summary{SessionID: sess.ID, TurnsParsed: len(parsed.Turns), SkippedLines: parsed.SkippedLines}

	for _, pt := range parsed.Turns {
		changed, err := r.ingestTurn(ctx, sess.ID, pt)
		if err != nil {
			return summary, fmt.Errorf("ingest turn %d: %w", pt.TurnNumber, err)
		}
		if changed {
			summary.TurnsChanged++
		}
	}

	for _, spec := range perSessionJobs {
		payload, _ := json.Marshal(map[string]string{"session_id": sess.ID})
		dedupe := fmt.Sprintf("%s:%s", spec.kind, sess.ID)
		if _, existed, err := r.jobs.Enqueue(ctx, spec.kind, payload, spec.priority, &dedupe, 0); err != nil {
			return summary, fmt.Errorf("enqueue %s: %w", spec.kind, err)
		} else if !existed {
			summary.JobsEnqueued++
		}
	}

	r.logger.InfoContext(ctx, "session ingested",
		"session_id", sess.ID, "turns_parsed", summary.TurnsParsed,
		"turns_changed", summary.TurnsChanged, "skipped_lines", summary.SkippedLines)

	return summary, nil
}

func (r *Recorder) ingestTurn(ctx context.Context, sessionID string, pt transcript.ParsedTurn) (bool, error) {
	hash := contentHash(pt)
	ex := artifact.Extract(pt)

	row, existed, err := r.turns.UpsertTurnWithContent(ctx,
		&domain.Turn{
			SessionID:   sessionID,
			TurnNumber:  pt.TurnNumber,
			UserMessage: pt.UserMessage,
			ContentHash: hash,
			ModelName:   nonEmptyPtr(pt.ModelName),
			ToolNames:   pt.ToolNames,
			StartedAt:   pt.StartedAt,
			EndedAt:     pt.EndedAt,
		},
		&domain.TurnContent{
			RawJSONL:          pt.UserMessage + "\n" + pt.AssistantText,
			AssistantText:     pt.AssistantText,
			FilesTouched:      ex.Files,
			CommandsRun:       ex.Commands,
			ErrorsEncountered: ex.Errors,
			ToolCallCount:     len(pt.ToolInvocations),
			ContentSize:       len(pt.UserMessage) + len(pt.AssistantText),
		},
	)
	if err != nil {
		return false, fmt.Errorf("upsert turn with content: %w", err)
	}
	if existed && row.ContentHash == hash {
		// Idempotent re-ingest: content unchanged, skip downstream work.
		return false, nil
	}

	for _, spec := range perTurnJobs {
		payload, _ := json.Marshal(map[string]string{"turn_id": row.ID})
		dedupe := fmt.Sprintf("%s:%s", spec.kind, row.ID)
		if _, _, err := r.jobs.Enqueue(ctx, spec.kind, payload, spec.priority, &dedupe, 0); err != nil {
			return true, fmt.Errorf("enqueue %s for turn: %w", spec.kind, err)
		}
	}

	return true, nil
}

// contentHash digests (user_message, assistant_raw_text, ordered
// tool_names) per the Turn invariant in spec §3.
func contentHash(pt transcript.ParsedTurn) string {
	h := sha256.New()
	h.Write([]byte(pt.UserMessage))
	h.Write([]byte{0})
	h.Write([]byte(pt.AssistantText))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(pt.ToolNames, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
