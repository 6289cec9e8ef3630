// hook is the short-lived CLI the coding assistant shells out to at two
// points in a session's lifecycle (spec §6): "prompt", invoked before
// each turn to fetch a rendered context block, and "stop", invoked once
// the session ends to enqueue re-ingestion of its transcript. Both
// subcommands are silent-on-failure: a broken memory service must never
// block or corrupt the assistant's own turn.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/nathanasimon/memoryd/config"
	"github.com/nathanasimon/memoryd/internal/classify"
	"github.com/nathanasimon/memoryd/internal/domain"
	"github.com/nathanasimon/memoryd/internal/format"
	"github.com/nathanasimon/memoryd/internal/queue"
	"github.com/nathanasimon/memoryd/internal/retrieve"
	"github.com/nathanasimon/memoryd/internal/storage/postgres"
)

// promptBudget bounds the entire prompt subcommand wall-clock, per spec
// §6's "2s, degrade to empty context on timeout."
const promptBudget = 2 * time.Second

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: hook <prompt|stop>")
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	switch os.Args[1] {
	case "prompt":
		runPrompt(logger)
	case "stop":
		runStop(logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown hook subcommand %q\n", os.Args[1])
		os.Exit(1)
	}
}

type promptRequest struct {
	SessionID     string `json:"session_id"`
	WorkspacePath string `json:"workspace_path"`
	Prompt        string `json:"prompt"`
}

type promptResponse struct {
	Context string `json:"context"`
}

// runPrompt always exits 0 and always writes a (possibly empty)
// {"context": "..."} to stdout: any failure degrades to empty context
// rather than surfacing an error to the assistant.
func runPrompt(logger *slog.Logger) {
	out := promptResponse{}
	defer func() { writeJSON(&out) }()

	var req promptRequest
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		logger.Error("decode prompt request", "error", err)
		return
	}
	if req.Prompt == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), promptBudget)
	defer cancel()

	cfg, err := config.Load(os.Getenv("MEMORYD_CONFIG"))
	if err != nil {
		logger.Error("load config", "error", err)
		return
	}

	pool, err := postgres.NewPool(ctx, cfg.General.DatabaseURL)
	if err != nil {
		logger.Error("db connect", "error", err)
		return
	}
	defer pool.Close()

	projects := postgres.NewProjectStore(pool)
	people := postgres.NewPersonStore(pool)
	turns := postgres.NewTurnStore(pool)
	tasks := postgres.NewTaskStore(pool)
	commitments := postgres.NewCommitmentStore(pool)
	artifacts := postgres.NewArtifactStore(pool)
	skills := postgres.NewSkillStore(pool)

	classifier := classify.New(projects, people)
	retriever := retrieve.New(turns, tasks, commitments, skills, artifacts, projects)

	signal, err := classifier.Classify(ctx, req.Prompt)
	if err != nil {
		logger.Error("classify prompt", "error", err)
		return
	}

	items, err := retriever.Retrieve(ctx, signal, req.WorkspacePath)
	if err != nil {
		logger.Error("retrieve context", "error", err)
		return
	}

	budget := cfg.Context.TokenBudget
	if budget <= 0 {
		budget = format.DefaultBudget
	}
	out.Context = format.Format(items, budget)
}

type stopRequest struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	WorkspacePath  string `json:"workspace_path"`
}

type sessionProcessPayload struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	WorkspacePath  string `json:"workspace_path"`
}

// runStop always exits 0: a failed enqueue means the session's transcript
// simply never gets re-ingested, which is recoverable (the next stop
// event for the same session_id will try again), not fatal to the
// assistant that invoked this hook.
func runStop(logger *slog.Logger) {
	var req stopRequest
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		logger.Error("decode stop request", "error", err)
		return
	}
	if req.SessionID == "" || req.TranscriptPath == "" {
		logger.Error("stop request missing session_id or transcript_path")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), promptBudget)
	defer cancel()

	cfg, err := config.Load(os.Getenv("MEMORYD_CONFIG"))
	if err != nil {
		logger.Error("load config", "error", err)
		return
	}

	pool, err := postgres.NewPool(ctx, cfg.General.DatabaseURL)
	if err != nil {
		logger.Error("db connect", "error", err)
		return
	}
	defer pool.Close()

	q := queue.New(postgres.NewJobStore(pool))

	payload, err := json.Marshal(sessionProcessPayload{
		SessionID:      req.SessionID,
		TranscriptPath: req.TranscriptPath,
		WorkspacePath:  req.WorkspacePath,
	})
	if err != nil {
		logger.Error("marshal session_process payload", "error", err)
		return
	}

	dedupe := "session_process:" + req.SessionID
	if _, _, err := q.Enqueue(ctx, domain.KindSessionProcess, payload, 1, &dedupe, 0); err != nil {
		logger.Error("enqueue session_process", "error", err)
	}
}

func writeJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(v); err != nil {
		io.WriteString(os.Stderr, fmt.Sprintf("encode response: %v\n", err))
	}
}
