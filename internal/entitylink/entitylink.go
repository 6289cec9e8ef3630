// Package entitylink implements the Entity Linker (spec §4.K): scans
// turn text for project/person mentions using the same lexical
// algorithm as the Classifier, and maintains the per-workspace
// "selected project" the Retriever's Focus branch falls back to.
package entitylink

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nathanasimon/memoryd/internal/classify"
	"github.com/nathanasimon/memoryd/internal/domain"
)

// turnEntityWriter is the narrow slice of internal/store.TurnStore the
// Linker needs.
type turnEntityWriter interface {
	InsertEntities(ctx context.Context, entities []domain.TurnEntity) error
}

// mentionTracker is the narrow slice of internal/store.ProjectStore the
// Linker needs to keep mention_count/last_activity current. The
// per-workspace "selected project" the Retriever's Focus branch reads
// comes from sessions.project_id (see SetProjectID), not these counters.
type mentionTracker interface {
	IncrementMention(ctx context.Context, id string, at time.Time) error
}

// sessionProjectSetter is the narrow slice of internal/store.SessionStore
// the Linker needs to record a session's dominant project.
type sessionProjectSetter interface {
	SetProjectID(ctx context.Context, sessionID, projectID string) error
}

// Linker reuses a *classify.Classifier's compiled-pattern cache so
// entity extraction and prompt classification never drift out of sync.
type Linker struct {
	classifier *classify.Classifier
	turns      turnEntityWriter
	projects   mentionTracker
	sessions   sessionProjectSetter
}

func New(classifier *classify.Classifier, turns turnEntityWriter, projects mentionTracker, sessions sessionProjectSetter) *Linker {
	return &Linker{classifier: classifier, turns: turns, projects: projects, sessions: sessions}
}

// LinkTurn scans a turn's user+assistant text for project/person
// mentions, persists the matches as TurnEntity rows, and records the
// turn's most-confidently-matched project as the session's dominant
// project (spec §4.K). Calling this once per turn lets the session's
// project_id converge toward whichever project keeps getting confidently
// mentioned, without a separate mention-count aggregation query.
func (l *Linker) LinkTurn(ctx context.Context, turnID, sessionID, userMessage, assistantText string) error {
	signal, err := l.classifier.Classify(ctx, userMessage+"\n"+assistantText)
	if err != nil {
		return fmt.Errorf("classify turn text: %w", err)
	}

	entities := make([]domain.TurnEntity, 0, len(signal.Projects)+len(signal.People))
	for _, m := range signal.Projects {
		id := m.ID
		entities = append(entities, domain.TurnEntity{
			ID: uuid.NewString(), TurnID: turnID, EntityType: domain.EntityProject,
			EntityID: &id, EntityName: m.Name, Confidence: m.Confidence,
		})
	}
	for _, m := range signal.People {
		id := m.ID
		entities = append(entities, domain.TurnEntity{
			ID: uuid.NewString(), TurnID: turnID, EntityType: domain.EntityPerson,
			EntityID: &id, EntityName: m.Name, Confidence: m.Confidence,
		})
	}

	if len(entities) > 0 {
		if err := l.turns.InsertEntities(ctx, entities); err != nil {
			return err
		}
	}

	now := time.Now()
	for _, m := range signal.Projects {
		if err := l.projects.IncrementMention(ctx, m.ID, now); err != nil {
			return fmt.Errorf("increment project mention: %w", err)
		}
	}

	if dominant := highestConfidence(signal.Projects); dominant != nil {
		if err := l.sessions.SetProjectID(ctx, sessionID, dominant.ID); err != nil {
			return fmt.Errorf("set session project: %w", err)
		}
	}
	return nil
}

func highestConfidence(matches []classify.Match) *classify.Match {
	var best *classify.Match
	for i, m := range matches {
		if best == nil || m.Confidence > best.Confidence {
			best = &matches[i]
		}
	}
	return best
}
