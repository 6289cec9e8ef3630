// Package retrieve implements the Retriever (spec §4.G): given a
// Classifier Signal and a workspace path, fans out to the Store in
// parallel and returns a scored, ranked list of ContextItems within a
// 1.5s wall-clock budget.
//
// Fan-out uses golang.org/x/sync/errgroup bound to the caller's
// deadline, exactly as §5's "standard deadline propagation primitive"
// directs. Each branch races its own query against ctx.Done() instead
// of letting errgroup abort siblings on a single slow branch — a
// branch whose context expires contributes nothing rather than an
// error, so the returned set is always a subset of the intended one,
// never stale or wrong.
package retrieve

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nathanasimon/memoryd/internal/classify"
	"github.com/nathanasimon/memoryd/internal/domain"
	"github.com/nathanasimon/memoryd/internal/store"
)

// Budget bounds the Retriever's total wall-clock time per §4.G.
const Budget = 1500 * time.Millisecond

const (
	conversationWindow = 14 * 24 * time.Hour
	errorWindow        = 72 * time.Hour
	branchLimit        = 20
)

// Kind tags a ContextItem by which branch produced it.
type Kind string

const (
	KindConversation Kind = "conversation"
	KindTask         Kind = "task"
	KindCommitment   Kind = "commitment"
	KindSkill        Kind = "skill"
	KindError        Kind = "error"
	KindFocus        Kind = "focus"
)

// ContextItem is one scored retrieval candidate.
type ContextItem struct {
	Kind     Kind
	RefID    string
	Title    string
	Body     string
	Score    float64
	Recency  time.Time
	Metadata map[string]string
}

// Retriever's dependencies, narrowed from internal/store to the
// methods each branch actually calls.
type turnSource interface {
	RecentByEntities(ctx context.Context, projects, people, paths []string, since time.Time, limit int) ([]store.ScoredTurn, error)
}

type taskSource interface {
	OpenForProjectsOrPeople(ctx context.Context, projectIDs, personIDs []string, limit int) ([]domain.Task, error)
}

type commitmentSource interface {
	OpenForProjectsOrPeople(ctx context.Context, projectIDs, personIDs []string, limit int) ([]domain.Commitment, error)
}

type skillSource interface {
	ActiveForClassifier(ctx context.Context) ([]domain.Skill, error)
}

type artifactSource interface {
	RecentErrors(ctx context.Context, projects, people, paths []string, since time.Time, limit int) ([]domain.TurnArtifact, error)
}

type projectSource interface {
	SelectedProjectForWorkspace(ctx context.Context, workspacePath string) (*domain.Project, error)
	EffectiveSprintBoost(ctx context.Context, projectID string, now time.Time) (float64, error)
}

// Retriever fans out to the Store per branch and assembles scored
// ContextItems.
type Retriever struct {
	turns       turnSource
	tasks       taskSource
	commitments commitmentSource
	skills      skillSource
	artifacts   artifactSource
	projects    projectSource
}

func New(turns turnSource, tasks taskSource, commitments commitmentSource, skills skillSource, artifacts artifactSource, projects projectSource) *Retriever {
	return &Retriever{turns: turns, tasks: tasks, commitments: commitments, skills: skills, artifacts: artifacts, projects: projects}
}

// Retrieve runs all six branches concurrently, applies sprint boosts,
// and returns items sorted by descending score.
func (r *Retriever) Retrieve(ctx context.Context, signal classify.Signal, workspacePath string) ([]ContextItem, error) {
	ctx, cancel := context.WithTimeout(ctx, Budget)
	defer cancel()

	projectIDs := matchIDs(signal.Projects)
	personIDs := matchIDs(signal.People)

	g, gctx := errgroup.WithContext(ctx)

	var (
		conversations []ContextItem
		tasks         []ContextItem
		commitments   []ContextItem
		skills        []ContextItem
		errs          []ContextItem
		focus         []ContextItem
	)

	g.Go(func() error {
		conversations = r.conversationsBranch(gctx, projectIDs, personIDs, signal.Paths)
		return nil
	})
	g.Go(func() error {
		tasks = r.tasksBranch(gctx, projectIDs, personIDs)
		return nil
	})
	g.Go(func() error {
		commitments = r.commitmentsBranch(gctx, projectIDs, personIDs)
		return nil
	})
	g.Go(func() error {
		skills = r.skillsBranch(gctx, signal)
		return nil
	})
	g.Go(func() error {
		errs = r.errorsBranch(gctx, projectIDs, personIDs, signal.Paths)
		return nil
	})
	g.Go(func() error {
		focus = r.focusBranch(gctx, workspacePath, signal)
		return nil
	})

	// Branches never return an error themselves (see runBranch), so Wait
	// cannot fail; it only blocks until every branch has raced its
	// deadline.
	_ = g.Wait()

	var items []ContextItem
	items = append(items, focus...)
	items = append(items, conversations...)
	items = append(items, tasks...)
	items = append(items, commitments...)
	items = append(items, skills...)
	items = append(items, errs...)

	r.applySprintBoosts(ctx, items)

	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	return items, nil
}

// runBranch races fn against ctx.Done(), returning zero items if the
// deadline elapses first instead of propagating an error to the other
// branches.
func runBranch[T any](ctx context.Context, fn func(context.Context) (T, error)) T {
	var zero T
	done := make(chan T, 1)
	go func() {
		v, err := fn(ctx)
		if err != nil {
			done <- zero
			return
		}
		done <- v
	}()
	select {
	case v := <-done:
		return v
	case <-ctx.Done():
		return zero
	}
}

func (r *Retriever) conversationsBranch(ctx context.Context, projectIDs, personIDs, paths []string) []ContextItem {
	since := time.Now().Add(-conversationWindow)
	turns := runBranch(ctx, func(ctx context.Context) ([]store.ScoredTurn, error) {
		return r.turns.RecentByEntities(ctx, projectIDs, personIDs, paths, since, branchLimit)
	})

	items := make([]ContextItem, 0, len(turns))
	for _, st := range turns {
		entityScore := math.Min(float64(st.EntityOverlap), 3) / 3
		pathScore := math.Min(float64(st.PathOverlap), 3) / 3
		recency := math.Exp(-st.AgeHours / 48)
		score := 0.5*entityScore + 0.3*recency + 0.2*pathScore

		title := st.Turn.UserMessage
		if st.Turn.Title != nil {
			title = *st.Turn.Title
		}
		body := ""
		if st.Turn.AssistantSummary != nil {
			body = *st.Turn.AssistantSummary
		}

		items = append(items, ContextItem{
			Kind: KindConversation, RefID: st.Turn.ID, Title: title, Body: body,
			Score: score, Recency: st.Turn.StartedAt,
			Metadata: map[string]string{"session_id": st.Turn.SessionID},
		})
	}
	return items
}

func (r *Retriever) tasksBranch(ctx context.Context, projectIDs, personIDs []string) []ContextItem {
	list := runBranch(ctx, func(ctx context.Context) ([]domain.Task, error) {
		return r.tasks.OpenForProjectsOrPeople(ctx, projectIDs, personIDs, branchLimit)
	})

	items := make([]ContextItem, 0, len(list))
	for _, t := range list {
		raw := priorityWeight(t.Priority)
		if t.UserPinned {
			raw += 0.2
		}
		raw += dueSoonBonus(t.DueDate)
		score := math.Min(1.0, raw/1.5)

		meta := map[string]string{"status": string(t.Status)}
		if t.ProjectID != nil {
			meta["project_id"] = *t.ProjectID
		}

		items = append(items, ContextItem{
			Kind: KindTask, RefID: t.ID, Title: t.Title, Score: score,
			Recency: t.UpdatedAt, Metadata: meta,
		})
	}
	return items
}

func (r *Retriever) commitmentsBranch(ctx context.Context, projectIDs, personIDs []string) []ContextItem {
	list := runBranch(ctx, func(ctx context.Context) ([]domain.Commitment, error) {
		return r.commitments.OpenForProjectsOrPeople(ctx, projectIDs, personIDs, branchLimit)
	})

	items := make([]ContextItem, 0, len(list))
	for _, c := range list {
		score := 0.4
		if c.Direction == domain.DirectionToMe {
			score += 0.3
		}
		score += dueSoonBonus(c.Deadline)
		score = math.Min(1.0, score)

		meta := map[string]string{"direction": string(c.Direction)}
		if c.ProjectID != nil {
			meta["project_id"] = *c.ProjectID
		}

		items = append(items, ContextItem{
			Kind: KindCommitment, RefID: c.ID, Title: c.Description, Score: score,
			Recency: c.UpdatedAt, Metadata: meta,
		})
	}
	return items
}

func (r *Retriever) skillsBranch(ctx context.Context, signal classify.Signal) []ContextItem {
	list := runBranch(ctx, func(ctx context.Context) ([]domain.Skill, error) {
		return r.skills.ActiveForClassifier(ctx)
	})

	wanted := make(map[string]struct{})
	for _, kw := range signal.Keywords {
		wanted[kw] = struct{}{}
	}
	for _, p := range signal.Projects {
		wanted[strings.ToLower(p.Name)] = struct{}{}
	}
	if len(wanted) == 0 {
		return nil
	}

	items := make([]ContextItem, 0, len(list))
	for _, sk := range list {
		tokens := skillTokens(sk)
		overlap := jaccard(tokens, wanted)
		if overlap <= 0 {
			continue
		}
		items = append(items, ContextItem{
			Kind: KindSkill, RefID: sk.ID, Title: sk.Name, Body: sk.Description,
			Score: overlap, Recency: sk.UpdatedAt,
		})
	}
	return items
}

func (r *Retriever) errorsBranch(ctx context.Context, projectIDs, personIDs, paths []string) []ContextItem {
	since := time.Now().Add(-errorWindow)
	list := runBranch(ctx, func(ctx context.Context) ([]domain.TurnArtifact, error) {
		return r.artifacts.RecentErrors(ctx, projectIDs, personIDs, paths, since, branchLimit)
	})

	items := make([]ContextItem, 0, len(list))
	for _, a := range list {
		ageHours := time.Since(a.CreatedAt).Hours()
		score := math.Exp(-ageHours / 72)
		items = append(items, ContextItem{
			Kind: KindError, RefID: a.ID, Title: a.ArtifactValue,
			Score: score, Recency: a.CreatedAt,
		})
	}
	return items
}

// focusBranch prefers the workspace's persisted selected project, but
// falls back to the Classifier's top project match when no session has
// been recorded against this workspace yet — otherwise a brand-new
// workspace whose very first prompt names a project would never surface
// a Focus item (spec §4.K).
func (r *Retriever) focusBranch(ctx context.Context, workspacePath string, signal classify.Signal) []ContextItem {
	p := runBranch(ctx, func(ctx context.Context) (*domain.Project, error) {
		return r.projects.SelectedProjectForWorkspace(ctx, workspacePath)
	})
	if p != nil {
		return []ContextItem{{
			Kind: KindFocus, RefID: p.ID, Title: p.Name, Score: 1.0, Recency: p.LastActivity,
			Metadata: map[string]string{"project_id": p.ID, "tier": string(p.Tier)},
		}}
	}

	if len(signal.Projects) == 0 {
		return nil
	}
	m := signal.Projects[0]
	return []ContextItem{{
		Kind: KindFocus, RefID: m.ID, Title: m.Name, Score: m.Confidence,
		Metadata: map[string]string{"project_id": m.ID},
	}}
}

// applySprintBoosts multiplies each item's score by the effective
// sprint boost of its project, if any (spec §3's sprint-effectiveness
// invariant).
func (r *Retriever) applySprintBoosts(ctx context.Context, items []ContextItem) {
	boosts := make(map[string]float64)
	now := time.Now()

	for i := range items {
		projectID, ok := items[i].Metadata["project_id"]
		if !ok {
			continue
		}
		boost, cached := boosts[projectID]
		if !cached {
			var err error
			boost, err = r.projects.EffectiveSprintBoost(ctx, projectID, now)
			if err != nil {
				boost = 1.0
			}
			boosts[projectID] = boost
		}
		items[i].Score *= boost
	}
}

func matchIDs(matches []classify.Match) []string {
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	return ids
}

func priorityWeight(p domain.TaskPriority) float64 {
	switch p {
	case domain.PriorityUrgent:
		return 1.0
	case domain.PriorityHigh:
		return 0.75
	case domain.PriorityNormal:
		return 0.5
	default:
		return 0.25
	}
}

func dueSoonBonus(due *time.Time) float64 {
	if due == nil {
		return 0
	}
	daysToDue := time.Until(*due).Hours() / 24
	bonus := (7 - daysToDue) / 7 * 0.3
	return math.Max(0, bonus)
}

func skillTokens(sk domain.Skill) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range tokenize(sk.Name + " " + sk.Description) {
		out[tok] = struct{}{}
	}
	for _, trig := range sk.Triggers {
		for _, tok := range tokenize(trig) {
			out[tok] = struct{}{}
		}
	}
	return out
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
