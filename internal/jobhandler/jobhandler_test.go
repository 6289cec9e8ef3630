package jobhandler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nathanasimon/memoryd/internal/classify"
	"github.com/nathanasimon/memoryd/internal/domain"
	"github.com/nathanasimon/memoryd/internal/entitylink"
	"github.com/nathanasimon/memoryd/internal/model"
	"github.com/nathanasimon/memoryd/internal/queue"
	"github.com/nathanasimon/memoryd/internal/recorder"
	"github.com/nathanasimon/memoryd/internal/skill"
	"github.com/nathanasimon/memoryd/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---- fakes shared across the tests below ----

type fakeSessions struct {
	bySessionID map[string]*domain.Session
	processed   map[string][2]string // id -> [title, summary]
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{bySessionID: map[string]*domain.Session{}, processed: map[string][2]string{}}
}

func (f *fakeSessions) UpsertBySessionID(ctx context.Context, in *domain.Session) (*domain.Session, error) {
	if existing, ok := f.bySessionID[in.SessionID]; ok {
		return existing, nil
	}
	cp := *in
	cp.ID = "sess-" + in.SessionID
	f.bySessionID[in.SessionID] = &cp
	return &cp, nil
}
func (f *fakeSessions) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	for _, s := range f.bySessionID {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, domain.ErrSessionNotFound
}
func (f *fakeSessions) GetBySessionID(ctx context.Context, sessionID string) (*domain.Session, error) {
	if s, ok := f.bySessionID[sessionID]; ok {
		return s, nil
	}
	return nil, domain.ErrSessionNotFound
}
func (f *fakeSessions) MarkProcessed(ctx context.Context, id, title, summary string) error {
	f.processed[id] = [2]string{title, summary}
	return nil
}
func (f *fakeSessions) SetProjectID(ctx context.Context, sessionID, projectID string) error {
	return nil
}

type fakeTurns struct {
	byID     map[string]*domain.Turn
	content  map[string]*domain.TurnContent
	bySess   map[string][]store.TurnWithContent
	entities [][]domain.TurnEntity
	artifacts [][]domain.TurnArtifact
}

func newFakeTurns() *fakeTurns {
	return &fakeTurns{byID: map[string]*domain.Turn{}, content: map[string]*domain.TurnContent{}, bySess: map[string][]store.TurnWithContent{}}
}

func (f *fakeTurns) UpsertTurn(ctx context.Context, t *domain.Turn) (*domain.Turn, bool, error) {
	cp := *t
	if cp.ID == "" {
		cp.ID = "turn-" + t.SessionID
	}
	f.byID[cp.ID] = &cp
	return &cp, false, nil
}
func (f *fakeTurns) UpsertTurnWithContent(ctx context.Context, t *domain.Turn, c *domain.TurnContent) (*domain.Turn, bool, error) {
	row, existed, err := f.UpsertTurn(ctx, t)
	if err != nil {
		return nil, false, err
	}
	c.TurnID = row.ID
	if err := f.PutContent(ctx, c); err != nil {
		return nil, false, err
	}
	return row, existed, nil
}
func (f *fakeTurns) GetByID(ctx context.Context, id string) (*domain.Turn, error) {
	if t, ok := f.byID[id]; ok {
		return t, nil
	}
	return nil, domain.ErrTurnNotFound
}
func (f *fakeTurns) PutContent(ctx context.Context, c *domain.TurnContent) error {
	cp := *c
	f.content[c.TurnID] = &cp
	return nil
}
func (f *fakeTurns) GetContent(ctx context.Context, turnID string) (*domain.TurnContent, error) {
	if c, ok := f.content[turnID]; ok {
		return c, nil
	}
	return nil, domain.ErrTurnNotFound
}
func (f *fakeTurns) SetSummary(ctx context.Context, turnID, title, summary string) error {
	t, ok := f.byID[turnID]
	if !ok {
		return domain.ErrTurnNotFound
	}
	t.Title = &title
	t.AssistantSummary = &summary
	return nil
}
func (f *fakeTurns) InsertEntities(ctx context.Context, entities []domain.TurnEntity) error {
	f.entities = append(f.entities, entities)
	return nil
}
func (f *fakeTurns) InsertArtifacts(ctx context.Context, artifacts []domain.TurnArtifact) error {
	f.artifacts = append(f.artifacts, artifacts)
	return nil
}
func (f *fakeTurns) RecentByEntities(ctx context.Context, projects, people, paths []string, since time.Time, limit int) ([]store.ScoredTurn, error) {
	return nil, nil
}
func (f *fakeTurns) ListBySession(ctx context.Context, sessionID string) ([]store.TurnWithContent, error) {
	return f.bySess[sessionID], nil
}

type fakeMentionTracker struct{}

func (fakeMentionTracker) IncrementMention(ctx context.Context, id string, at time.Time) error { return nil }

type emptyLexemeSource struct{}

func (emptyLexemeSource) AllForClassifier(ctx context.Context) ([]store.ProjectLexeme, error) {
	return nil, nil
}

type emptyPersonSource struct{}

func (emptyPersonSource) AllForClassifier(ctx context.Context) ([]store.PersonLexeme, error) {
	return nil, nil
}

type fakeModel struct {
	summary model.TurnSummary
	err     error
}

func (f *fakeModel) SummarizeTurn(ctx context.Context, in model.TurnInput) (model.TurnSummary, error) {
	return f.summary, f.err
}
func (f *fakeModel) SynthesizeSkill(ctx context.Context, in model.SkillInput) (model.SkillDraft, error) {
	return model.SkillDraft{}, f.err
}

type fakeSkillWriter struct {
	upserted []*domain.Skill
}

func (f *fakeSkillWriter) Upsert(ctx context.Context, s *domain.Skill) (*domain.Skill, bool, error) {
	cp := *s
	cp.ID = "skill-1"
	f.upserted = append(f.upserted, &cp)
	return &cp, false, nil
}

type fakeQueueStore struct {
	enqueued int
}

func (f *fakeQueueStore) Enqueue(ctx context.Context, kind domain.JobKind, payload []byte, priority int, dedupeKey *string, maxAttempts int) (string, bool, error) {
	f.enqueued++
	return "job-1", false, nil
}
func (f *fakeQueueStore) Claim(ctx context.Context, workerID string, lease time.Duration, limit int) ([]*domain.Job, error) {
	return nil, nil
}
func (f *fakeQueueStore) Complete(ctx context.Context, jobID string) error { return nil }
func (f *fakeQueueStore) MarkRetry(ctx context.Context, jobID, errMsg string, lockedUntil time.Time) error {
	return nil
}
func (f *fakeQueueStore) MarkFailed(ctx context.Context, jobID, errMsg string) error { return nil }
func (f *fakeQueueStore) ReapExpired(ctx context.Context, now time.Time, limit int) (int, int, error) {
	return 0, 0, nil
}

func mustPayload(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return b
}

// ---- tests ----

func TestTurnSummaryUsesModelResultWhenAvailable(t *testing.T) {
	turns := newFakeTurns()
	turns.byID["t1"] = &domain.Turn{ID: "t1", UserMessage: "fix the bug"}
	turns.content["t1"] = &domain.TurnContent{TurnID: "t1", AssistantText: "fixed it"}

	gen := &fakeModel{summary: model.TurnSummary{Title: "Fixed bug", Summary: "Applied a one-line fix."}}
	h := &handlers{Deps: Deps{Turns: turns, Generator: gen, Logger: discardLogger()}, logger: discardLogger()}

	job := &domain.Job{Payload: mustPayload(t, turnPayload{TurnID: "t1"})}
	if err := h.turnSummary(context.Background(), job); err != nil {
		t.Fatalf("turnSummary: %v", err)
	}
	if *turns.byID["t1"].Title != "Fixed bug" {
		t.Errorf("title = %q, want %q", *turns.byID["t1"].Title, "Fixed bug")
	}
}

func TestTurnSummaryFallsBackOnModelUnavailable(t *testing.T) {
	turns := newFakeTurns()
	turns.byID["t1"] = &domain.Turn{ID: "t1", UserMessage: "fix the bug"}
	turns.content["t1"] = &domain.TurnContent{TurnID: "t1", AssistantText: "fixed it"}

	gen := &fakeModel{err: model.ErrUnavailable}
	h := &handlers{Deps: Deps{Turns: turns, Generator: gen, Logger: discardLogger()}, logger: discardLogger()}

	job := &domain.Job{Payload: mustPayload(t, turnPayload{TurnID: "t1"})}
	if err := h.turnSummary(context.Background(), job); err != nil {
		t.Fatalf("turnSummary: %v", err)
	}
	if turns.byID["t1"].Title == nil {
		t.Fatal("expected a fallback title to be set")
	}
}

func TestEntityExtractInvokesLinker(t *testing.T) {
	turns := newFakeTurns()
	turns.byID["t1"] = &domain.Turn{ID: "t1", SessionID: "sess-1", UserMessage: "working on payments-api"}
	turns.content["t1"] = &domain.TurnContent{TurnID: "t1", AssistantText: "done"}

	classifier := classify.New(emptyLexemeSource{}, emptyPersonSource{})
	linker := entitylink.New(classifier, turns, fakeMentionTracker{}, newFakeSessions())
	h := &handlers{Deps: Deps{Turns: turns, Linker: linker, Logger: discardLogger()}, logger: discardLogger()}

	job := &domain.Job{Payload: mustPayload(t, turnPayload{TurnID: "t1"})}
	if err := h.entityExtract(context.Background(), job); err != nil {
		t.Fatalf("entityExtract: %v", err)
	}
}

func TestArtifactExtractBuildsRowsFromTurnContent(t *testing.T) {
	turns := newFakeTurns()
	turns.content["t1"] = &domain.TurnContent{
		TurnID: "t1", FilesTouched: []string{"main.go"}, CommandsRun: []string{"go test"}, ErrorsEncountered: []string{"panic: boom"},
	}
	h := &handlers{Deps: Deps{Turns: turns, Logger: discardLogger()}, logger: discardLogger()}

	job := &domain.Job{Payload: mustPayload(t, turnPayload{TurnID: "t1"})}
	if err := h.artifactExtract(context.Background(), job); err != nil {
		t.Fatalf("artifactExtract: %v", err)
	}
	if len(turns.artifacts) != 1 || len(turns.artifacts[0]) != 3 {
		t.Fatalf("expected 3 artifacts persisted, got %v", turns.artifacts)
	}
}

func TestArtifactExtractIsNoOpWhenNothingExtracted(t *testing.T) {
	turns := newFakeTurns()
	turns.content["t1"] = &domain.TurnContent{TurnID: "t1"}
	h := &handlers{Deps: Deps{Turns: turns, Logger: discardLogger()}, logger: discardLogger()}

	job := &domain.Job{Payload: mustPayload(t, turnPayload{TurnID: "t1"})}
	if err := h.artifactExtract(context.Background(), job); err != nil {
		t.Fatalf("artifactExtract: %v", err)
	}
	if len(turns.artifacts) != 0 {
		t.Fatalf("expected no InsertArtifacts call, got %v", turns.artifacts)
	}
}

func TestSessionSummaryAggregatesTurnSummaries(t *testing.T) {
	sessions := newFakeSessions()
	turns := newFakeTurns()
	title1, summary1 := "First step", "Did the first step."
	title2, summary2 := "Second step", "Did the second step."
	turns.bySess["sess-1"] = []store.TurnWithContent{
		{Turn: domain.Turn{ID: "t1", UserMessage: "start", Title: &title1, AssistantSummary: &summary1}},
		{Turn: domain.Turn{ID: "t2", UserMessage: "continue", Title: &title2, AssistantSummary: &summary2}},
	}
	h := &handlers{Deps: Deps{Sessions: sessions, Turns: turns, Logger: discardLogger()}, logger: discardLogger()}

	job := &domain.Job{Payload: mustPayload(t, sessionPayload{SessionID: "sess-1"})}
	if err := h.sessionSummary(context.Background(), job); err != nil {
		t.Fatalf("sessionSummary: %v", err)
	}

	got, ok := sessions.processed["sess-1"]
	if !ok {
		t.Fatal("expected MarkProcessed to be called")
	}
	if got[0] != "First step" {
		t.Errorf("title = %q, want %q", got[0], "First step")
	}
}

func TestSkillExtractCallsAutoGenerate(t *testing.T) {
	turns := newFakeTurns()
	turns.bySess["sess-1"] = []store.TurnWithContent{
		{Turn: domain.Turn{ID: "t1", UserMessage: "what does this do"}},
	}
	writer := &fakeSkillWriter{}
	engine := skill.New(turns, writer, &fakeModel{}, t.TempDir(), skill.DefaultThreshold, discardLogger())
	h := &handlers{Deps: Deps{Skills: engine, Logger: discardLogger()}, logger: discardLogger()}

	job := &domain.Job{Payload: mustPayload(t, sessionPayload{SessionID: "sess-1"})}
	if err := h.skillExtract(context.Background(), job); err != nil {
		t.Fatalf("skillExtract: %v", err)
	}
	if len(writer.upserted) != 0 {
		t.Fatalf("expected no skill persisted for a low-scoring session, got %d", len(writer.upserted))
	}
}

func TestSessionProcessReRunsRecorderAgainstTranscriptFile(t *testing.T) {
	dir := t.TempDir()
	transcriptPath := filepath.Join(dir, "session.jsonl")
	body := "{\"type\":\"user\",\"text\":\"fix the bug\"}\n{\"type\":\"assistant\",\"text\":\"fixed\"}\n"
	if err := os.WriteFile(transcriptPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}

	sessions := newFakeSessions()
	turns := newFakeTurns()
	q := queue.New(&fakeQueueStore{})
	rec := recorder.New(sessions, turns, q, discardLogger())
	h := &handlers{Deps: Deps{Recorder: rec, Logger: discardLogger()}, logger: discardLogger()}

	job := &domain.Job{Payload: mustPayload(t, sessionProcessPayload{
		SessionID: "ext-1", TranscriptPath: transcriptPath, WorkspacePath: "/home/dev/project",
	})}
	if err := h.sessionProcess(context.Background(), job); err != nil {
		t.Fatalf("sessionProcess: %v", err)
	}
	if _, ok := sessions.bySessionID["ext-1"]; !ok {
		t.Fatal("expected session to be upserted")
	}
}
