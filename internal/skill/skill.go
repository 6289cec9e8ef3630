// Package skill implements the Skill Engine (spec §4.J): scores a
// session's turns for "worth turning into a reusable procedure," and
// when the score clears a configurable threshold, synthesizes a
// SKILL.md document (yaml.v3 frontmatter + a text/template procedure
// body) and persists it.
//
// Grounded on the teacher's internal/email.Sender duality (reused by
// internal/model for the real/fallback split this package depends on)
// and on internal/storage/postgres.SkillStore's content-hash no-op rule
// (§3's "(name, scope) unique among active skills").
package skill

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/nathanasimon/memoryd/internal/domain"
	"github.com/nathanasimon/memoryd/internal/model"
	"github.com/nathanasimon/memoryd/internal/store"
)

// DefaultThreshold gates automatic skill generation; sessions scoring
// below it are left alone (spec §4.J).
const DefaultThreshold = 0.6

var confirmationTokens = []string{
	"yes", "yep", "looks good", "lgtm", "confirmed", "great, thanks",
	"perfect", "works now", "that fixed it", "all good",
}

// turnLister is the narrow slice of internal/store.TurnStore the engine
// needs to pull a session's turns for scoring and synthesis.
type turnLister interface {
	ListBySession(ctx context.Context, sessionID string) ([]store.TurnWithContent, error)
}

// skillWriter is the narrow slice of internal/store.SkillStore the
// engine needs to persist a generated or manually authored skill.
type skillWriter interface {
	Upsert(ctx context.Context, s *domain.Skill) (row *domain.Skill, existed bool, err error)
}

// Engine ties turn retrieval, quality scoring, the model service, and
// skill persistence together.
type Engine struct {
	turns     turnLister
	skills    skillWriter
	generator model.Service
	baseDir   string
	threshold float64
	logger    *slog.Logger
}

func New(turns turnLister, skills skillWriter, generator model.Service, baseDir string, threshold float64, logger *slog.Logger) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Engine{
		turns: turns, skills: skills, generator: generator,
		baseDir: baseDir, threshold: threshold,
		logger: logger.With("component", "skill"),
	}
}

// Result reports what AutoGenerate did, for worker logging.
type Result struct {
	Generated bool
	Score     float64
	SkillID   string
}

// AutoGenerate scores a session's turns and, if the score clears the
// engine's threshold, synthesizes and persists a SKILL.md. A
// below-threshold score is not an error: the job simply completes
// having decided there was nothing worth distilling.
func (e *Engine) AutoGenerate(ctx context.Context, sessionID string) (Result, error) {
	turns, err := e.turns.ListBySession(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("list turns for session %s: %w", sessionID, err)
	}
	if len(turns) == 0 {
		return Result{}, nil
	}

	score := Score(turns)
	e.logger.InfoContext(ctx, "session scored", "session_id", sessionID, "score", score, "threshold", e.threshold)
	if score < e.threshold {
		return Result{Score: score}, nil
	}

	name := fmt.Sprintf("session-%s", shortID(sessionID))
	draft, err := e.generator.SynthesizeSkill(ctx, model.SkillInput{
		Name:         name,
		RelatedTurns: toModelInputs(turns),
	})
	if err != nil {
		return Result{Score: score}, fmt.Errorf("synthesize skill: %w", err)
	}

	triggers := extractTriggers(turns)
	row, _, err := e.persist(ctx, name, draft.Description, draft.Procedure, triggers,
		domain.SkillSourceAuto, &sessionID, domain.ScopePersonal, &score)
	if err != nil {
		return Result{Score: score}, err
	}
	return Result{Generated: true, Score: score, SkillID: row.ID}, nil
}

// ManualCreate authors a skill directly from a caller-supplied
// description and procedure, with no model-service round trip ("direct
// synthesis" per spec §4.J) — the caller already did the distilling.
func (e *Engine) ManualCreate(ctx context.Context, name, description string, procedure, triggers []string, scope domain.SkillScope) (*domain.Skill, error) {
	row, _, err := e.persist(ctx, name, description, procedure, triggers, domain.SkillSourceManual, nil, scope, nil)
	return row, err
}

// InstallFromRegistry clones a remote skill document as-is.
func (e *Engine) InstallFromRegistry(ctx context.Context, name, description string, procedure, triggers []string, scope domain.SkillScope) (*domain.Skill, error) {
	row, _, err := e.persist(ctx, name, description, procedure, triggers, domain.SkillSourceRegistry, nil, scope, nil)
	return row, err
}

func (e *Engine) persist(ctx context.Context, name, description string, procedure, triggers []string, source domain.SkillSource, sourceSessionID *string, scope domain.SkillScope, quality *float64) (*domain.Skill, bool, error) {
	doc := render(name, description, triggers, procedure)
	hash := contentHash(doc)
	path := filepath.Join(e.baseDir, string(scope), "skills", name, "SKILL.md")

	row, existed, err := e.skills.Upsert(ctx, &domain.Skill{
		Name: name, Description: description, Triggers: triggers,
		Source: source, SourceSessionID: sourceSessionID, InstalledPath: path,
		Scope: scope, QualityScore: quality, ContentHash: hash, IsActive: true,
	})
	if err != nil {
		return nil, false, fmt.Errorf("upsert skill %s: %w", name, err)
	}
	if existed && row.ContentHash == hash {
		// No-op: an identical document is already installed.
		return row, true, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, fmt.Errorf("create skill directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		return nil, false, fmt.Errorf("write skill document: %w", err)
	}
	e.logger.InfoContext(ctx, "skill installed", "name", name, "scope", scope, "source", source, "path", path)
	return row, existed, nil
}

// frontmatter is the yaml.v3-marshaled header of a SKILL.md document.
type frontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Triggers    []string `yaml:"triggers"`
}

var procedureTemplate = template.Must(template.New("skill").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(`
## Procedure

{{range $i, $step := .Steps}}{{inc $i}}. {{$step}}
{{end}}`))

func render(name, description string, triggers, procedure []string) string {
	fm, err := yaml.Marshal(frontmatter{Name: name, Description: description, Triggers: triggers})
	if err != nil {
		// yaml.Marshal on a plain struct of strings cannot fail; keep the
		// document well-formed regardless.
		fm = []byte(fmt.Sprintf("name: %s\ndescription: %s\n", name, description))
	}

	var body bytes.Buffer
	_ = procedureTemplate.Execute(&body, struct{ Steps []string }{Steps: procedure})

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(fm)
	b.WriteString("---\n")
	b.WriteString(body.String())
	return b.String()
}

func contentHash(doc string) string {
	h := sha256.Sum256([]byte(doc))
	return hex.EncodeToString(h[:])
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func toModelInputs(turns []store.TurnWithContent) []model.TurnInput {
	out := make([]model.TurnInput, len(turns))
	for i, t := range turns {
		out[i] = model.TurnInput{
			UserMessage:    t.Turn.UserMessage,
			AssistantText:  t.Content.AssistantText,
			ToolNames:      t.Turn.ToolNames,
			FilesTouched:   t.Content.FilesTouched,
			ErrorsOccurred: t.Content.ErrorsEncountered,
		}
	}
	return out
}

// extractTriggers seeds a skill's trigger keywords from the tool names
// its source turns actually used, so the Classifier/Retriever's keyword
// overlap scoring (internal/retrieve's skillsBranch) has something
// concrete to match against.
func extractTriggers(turns []store.TurnWithContent) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range turns {
		for _, name := range t.Turn.ToolNames {
			key := strings.ToLower(name)
			if !seen[key] {
				seen[key] = true
				out = append(out, key)
			}
		}
	}
	return out
}

// Score implements spec §4.J's quality heuristic: a weighted blend of
// log-scaled turn count, the fraction of turns that used a tool,
// whether any file was edited across >=2 turns without a trailing
// error, tool-kind diversity, and an explicit user confirmation in the
// final turn. Each term is normalized to [0,1] before weighting, so the
// result is always in [0,1].
func Score(turns []store.TurnWithContent) float64 {
	if len(turns) == 0 {
		return 0
	}

	turnCountScore := math.Min(1, math.Log2(1+float64(len(turns)))/math.Log2(1+20))

	var withTools int
	kinds := make(map[string]bool)
	for _, t := range turns {
		if len(t.Turn.ToolNames) > 0 {
			withTools++
		}
		for _, name := range t.Turn.ToolNames {
			kinds[strings.ToLower(name)] = true
		}
	}
	toolFraction := float64(withTools) / float64(len(turns))
	diversityScore := math.Min(1, float64(len(kinds))/4.0)

	multiStepScore := 0.0
	if hasMultiTurnCleanEdit(turns) {
		multiStepScore = 1
	}

	confirmationScore := 0.0
	if containsConfirmation(turns[len(turns)-1].Turn.UserMessage) {
		confirmationScore = 1
	}

	score := 0.25*turnCountScore + 0.25*toolFraction + 0.2*multiStepScore +
		0.15*diversityScore + 0.15*confirmationScore
	return math.Max(0, math.Min(1, score))
}

// hasMultiTurnCleanEdit reports whether the same file was touched
// across at least two distinct turns, with no error artifact recorded
// on the turn that last touched it.
func hasMultiTurnCleanEdit(turns []store.TurnWithContent) bool {
	touchedIn := make(map[string]int)
	lastTouchHadError := make(map[string]bool)
	for _, t := range turns {
		hasError := len(t.Content.ErrorsEncountered) > 0
		for _, f := range t.Content.FilesTouched {
			touchedIn[f]++
			lastTouchHadError[f] = hasError
		}
	}
	for f, count := range touchedIn {
		if count >= 2 && !lastTouchHadError[f] {
			return true
		}
	}
	return false
}

func containsConfirmation(msg string) bool {
	lower := strings.ToLower(msg)
	for _, token := range confirmationTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
