package skill

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nathanasimon/memoryd/internal/domain"
	"github.com/nathanasimon/memoryd/internal/model"
	"github.com/nathanasimon/memoryd/internal/store"
)

type fakeTurns struct {
	bySession map[string][]store.TurnWithContent
}

func (f *fakeTurns) ListBySession(ctx context.Context, sessionID string) ([]store.TurnWithContent, error) {
	return f.bySession[sessionID], nil
}

type fakeSkills struct {
	upserted []*domain.Skill
}

func (f *fakeSkills) Upsert(ctx context.Context, s *domain.Skill) (*domain.Skill, bool, error) {
	cp := *s
	cp.ID = "skill-1"
	f.upserted = append(f.upserted, &cp)
	return &cp, false, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func richSession() []store.TurnWithContent {
	turns := make([]store.TurnWithContent, 12)
	for i := range turns {
		turns[i] = store.TurnWithContent{
			Turn: domain.Turn{
				ID:          "t" + string(rune('a'+i)),
				ToolNames:   []string{"Read", "Edit", "Bash"},
				UserMessage: "do step",
			},
			Content: domain.TurnContent{FilesTouched: []string{"main.go"}},
		}
	}
	turns[len(turns)-1].Turn.UserMessage = "looks good, thanks!"
	return turns
}

func TestScoreRewardsRichMultiStepSession(t *testing.T) {
	score := Score(richSession())
	if score < DefaultThreshold {
		t.Fatalf("score = %f, want >= %f for a rich session", score, DefaultThreshold)
	}
}

func TestScoreIsZeroForNoTurns(t *testing.T) {
	if got := Score(nil); got != 0 {
		t.Fatalf("score = %f, want 0", got)
	}
}

func TestScoreIsLowForSparseSession(t *testing.T) {
	turns := []store.TurnWithContent{
		{Turn: domain.Turn{UserMessage: "what does this do"}},
	}
	if got := Score(turns); got >= DefaultThreshold {
		t.Fatalf("score = %f, want below threshold for a single question turn", got)
	}
}

func TestAutoGenerateSkipsBelowThreshold(t *testing.T) {
	turns := &fakeTurns{bySession: map[string][]store.TurnWithContent{
		"sess-1": {{Turn: domain.Turn{UserMessage: "what is this"}}},
	}}
	skills := &fakeSkills{}
	gen := &stubGenerator{}
	dir := t.TempDir()

	e := New(turns, skills, gen, dir, DefaultThreshold, discardLogger())
	result, err := e.AutoGenerate(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("auto generate: %v", err)
	}
	if result.Generated {
		t.Fatal("expected no skill generated for a low-scoring session")
	}
	if len(skills.upserted) != 0 {
		t.Fatalf("expected no skill persisted, got %d", len(skills.upserted))
	}
}

func TestAutoGenerateWritesSkillDocumentAboveThreshold(t *testing.T) {
	turns := &fakeTurns{bySession: map[string][]store.TurnWithContent{"sess-1": richSession()}}
	skills := &fakeSkills{}
	gen := &stubGenerator{draft: model.SkillDraft{
		Description: "deploys the service",
		Procedure:   []string{"run tests", "build image", "push"},
	}}
	dir := t.TempDir()

	e := New(turns, skills, gen, dir, DefaultThreshold, discardLogger())
	result, err := e.AutoGenerate(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("auto generate: %v", err)
	}
	if !result.Generated {
		t.Fatalf("expected a skill to be generated, score=%f", result.Score)
	}
	if len(skills.upserted) != 1 {
		t.Fatalf("expected 1 skill persisted, got %d", len(skills.upserted))
	}

	path := skills.upserted[0].InstalledPath
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected SKILL.md written at %s: %v", path, err)
	}
	if !strings.Contains(string(body), "deploys the service") {
		t.Fatalf("skill document missing description: %s", body)
	}
	if !strings.Contains(string(body), "run tests") {
		t.Fatalf("skill document missing procedure step: %s", body)
	}
}

func TestManualCreateDoesNotCallGenerator(t *testing.T) {
	gen := &stubGenerator{failSynthesize: true}
	skills := &fakeSkills{}
	dir := t.TempDir()

	e := New(&fakeTurns{}, skills, gen, dir, DefaultThreshold, discardLogger())
	row, err := e.ManualCreate(context.Background(), "my-skill", "a manual skill", []string{"step one"}, []string{"deploy"}, domain.ScopePersonal)
	if err != nil {
		t.Fatalf("manual create: %v", err)
	}
	if row.Source != domain.SkillSourceManual {
		t.Fatalf("source = %q, want manual", row.Source)
	}
	if _, err := os.Stat(filepath.Join(dir, "personal", "skills", "my-skill", "SKILL.md")); err != nil {
		t.Fatalf("expected skill file written: %v", err)
	}
}

type stubGenerator struct {
	draft          model.SkillDraft
	failSynthesize bool
}

func (s *stubGenerator) SummarizeTurn(ctx context.Context, in model.TurnInput) (model.TurnSummary, error) {
	return model.TurnSummary{}, nil
}

func (s *stubGenerator) SynthesizeSkill(ctx context.Context, in model.SkillInput) (model.SkillDraft, error) {
	if s.failSynthesize {
		return model.SkillDraft{}, context.Canceled
	}
	return s.draft, nil
}

