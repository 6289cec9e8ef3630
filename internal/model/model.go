// Package model provides the small model-service capability the Worker
// needs: turn summarization and skill-procedure synthesis. It follows
// the teacher's internal/email.Sender real/fallback duality — a
// FallbackService that degrades gracefully with no network dependency,
// and an HTTPService that calls a real summarization endpoint — so the
// Worker never has to know which one it was handed.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// TurnInput is the material the Worker gives the model service to
// summarize one turn.
type TurnInput struct {
	UserMessage     string
	AssistantText   string
	ToolNames       []string
	FilesTouched    []string
	ErrorsOccurred  []string
}

// TurnSummary is a short title plus a one-paragraph summary, per spec
// §4.E/4.I's turn_summary job.
type TurnSummary struct {
	Title   string
	Summary string
}

// SkillInput is the material the Worker gives the model service to draft
// a skill's natural-language description and ordered procedure from a
// batch of related turns.
type SkillInput struct {
	Name         string
	RelatedTurns []TurnInput
}

// SkillDraft is the generated natural-language content internal/skill
// renders into a SKILL.md; it never touches frontmatter or persistence.
type SkillDraft struct {
	Description string
	Procedure   []string
}

// Service is the capability internal/jobhandler's handlers and
// internal/skill depend on. Both implementations below satisfy it.
type Service interface {
	SummarizeTurn(ctx context.Context, in TurnInput) (TurnSummary, error)
	SynthesizeSkill(ctx context.Context, in SkillInput) (SkillDraft, error)
}

// ErrUnavailable is returned by HTTPService when the upstream model
// service cannot be reached at all (as opposed to responding with an
// error status); callers use it to decide whether to fall back or defer
// the job entirely (spec §7).
var ErrUnavailable = fmt.Errorf("model service unavailable")

// New returns an HTTPService when baseURL and apiKey are both set, or a
// FallbackService otherwise (e.g. ENV=local with no model credentials
// configured) — the same branch the teacher's email.NewSender makes on
// env/apiKey.
func New(baseURL, apiKey string, logger *slog.Logger) Service {
	if baseURL == "" || apiKey == "" {
		return &FallbackService{logger: logger}
	}
	return &HTTPService{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger.With("component", "model"),
	}
}

// FallbackService degrades summarization to truncation and skill
// synthesis to a templated stub, with no external dependency. Used in
// local dev and whenever HTTPService reports ErrUnavailable and the
// caller chooses to degrade rather than retry.
type FallbackService struct {
	logger *slog.Logger
}

const fallbackSummaryLen = 280

func (s *FallbackService) SummarizeTurn(_ context.Context, in TurnInput) (TurnSummary, error) {
	title := truncate(firstLine(in.UserMessage), 72)
	summary := truncate(in.AssistantText, fallbackSummaryLen)
	if summary == "" {
		summary = truncate(in.UserMessage, fallbackSummaryLen)
	}
	return TurnSummary{Title: title, Summary: summary}, nil
}

func (s *FallbackService) SynthesizeSkill(_ context.Context, in SkillInput) (SkillDraft, error) {
	procedure := make([]string, 0, len(in.RelatedTurns))
	for _, t := range in.RelatedTurns {
		if line := firstLine(t.UserMessage); line != "" {
			procedure = append(procedure, truncate(line, 120))
		}
	}
	return SkillDraft{
		Description: fmt.Sprintf("Procedure distilled from %d related turns.", len(in.RelatedTurns)),
		Procedure:   procedure,
	}, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "…"
}

// HTTPService calls a real model-service HTTP endpoint. The request
// shape is intentionally provider-agnostic: a single JSON POST per
// capability, grounded on the teacher's internal/scheduler/executor.go
// client construction (shared http.Client with sane timeouts and
// connection reuse, context-bounded per call).
type HTTPService struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

type summarizeRequest struct {
	UserMessage    string   `json:"user_message"`
	AssistantText  string   `json:"assistant_text"`
	ToolNames      []string `json:"tool_names"`
	FilesTouched   []string `json:"files_touched"`
	ErrorsOccurred []string `json:"errors_occurred"`
}

type summarizeResponse struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

func (s *HTTPService) SummarizeTurn(ctx context.Context, in TurnInput) (TurnSummary, error) {
	var resp summarizeResponse
	if err := s.post(ctx, "/v1/summarize-turn", summarizeRequest{
		UserMessage: in.UserMessage, AssistantText: in.AssistantText, ToolNames: in.ToolNames,
		FilesTouched: in.FilesTouched, ErrorsOccurred: in.ErrorsOccurred,
	}, &resp); err != nil {
		return TurnSummary{}, err
	}
	return TurnSummary{Title: resp.Title, Summary: resp.Summary}, nil
}

type synthesizeRequest struct {
	Name         string      `json:"name"`
	RelatedTurns []TurnInput `json:"related_turns"`
}

type synthesizeResponse struct {
	Description string   `json:"description"`
	Procedure   []string `json:"procedure"`
}

func (s *HTTPService) SynthesizeSkill(ctx context.Context, in SkillInput) (SkillDraft, error) {
	var resp synthesizeResponse
	if err := s.post(ctx, "/v1/synthesize-skill", synthesizeRequest{
		Name: in.Name, RelatedTurns: in.RelatedTurns,
	}, &resp); err != nil {
		return SkillDraft{}, err
	}
	return SkillDraft{Description: resp.Description, Procedure: resp.Procedure}, nil
}

func (s *HTTPService) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal model request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build model request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.ErrorContext(ctx, "model service unreachable", "path", path, "error", err, "duration", time.Since(start))
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("model service %s: status %d: %s", path, resp.StatusCode, string(b))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode model response %s: %w", path, err)
	}
	s.logger.InfoContext(ctx, "model service call", "path", path, "duration", time.Since(start))
	return nil
}
