package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nathanasimon/memoryd/internal/classify"
	"github.com/nathanasimon/memoryd/internal/domain"
	"github.com/nathanasimon/memoryd/internal/retrieve"
	"github.com/nathanasimon/memoryd/internal/store"
	"github.com/nathanasimon/memoryd/internal/transport/http/handler"
)

type emptyLexemeSource struct{}

func (emptyLexemeSource) AllForClassifier(ctx context.Context) ([]store.ProjectLexeme, error) {
	return nil, nil
}

type emptyPersonSource struct{}

func (emptyPersonSource) AllForClassifier(ctx context.Context) ([]store.PersonLexeme, error) {
	return nil, nil
}

type emptyRetrieveSources struct{}

func (emptyRetrieveSources) RecentByEntities(ctx context.Context, projects, people, paths []string, since time.Time, limit int) ([]store.ScoredTurn, error) {
	return nil, nil
}

type fakeTaskSource struct{}

func (fakeTaskSource) OpenForProjectsOrPeople(ctx context.Context, projectIDs, personIDs []string, limit int) ([]domain.Task, error) {
	return nil, nil
}

type fakeCommitmentSource struct{}

func (fakeCommitmentSource) OpenForProjectsOrPeople(ctx context.Context, projectIDs, personIDs []string, limit int) ([]domain.Commitment, error) {
	return nil, nil
}

type fakeSkillSource struct{}

func (fakeSkillSource) ActiveForClassifier(ctx context.Context) ([]domain.Skill, error) {
	return nil, nil
}

type fakeArtifactSource struct{}

func (fakeArtifactSource) RecentErrors(ctx context.Context, projects, people, paths []string, since time.Time, limit int) ([]domain.TurnArtifact, error) {
	return nil, nil
}

type fakeProjectSource struct{}

func (fakeProjectSource) SelectedProjectForWorkspace(ctx context.Context, workspacePath string) (*domain.Project, error) {
	return nil, domain.ErrProjectNotFound
}
func (fakeProjectSource) EffectiveSprintBoost(ctx context.Context, projectID string, now time.Time) (float64, error) {
	return 0, nil
}

func TestContextPreview_MissingPrompt_Returns400(t *testing.T) {
	c := classify.New(emptyLexemeSource{}, emptyPersonSource{})
	r := retrieve.New(emptyRetrieveSources{}, fakeTaskSource{}, fakeCommitmentSource{}, fakeSkillSource{}, fakeArtifactSource{}, fakeProjectSource{})
	h := handler.NewContextHandler(c, r, 1500)

	router := gin.New()
	router.GET("/context", h.Preview)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/context", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestContextPreview_NoMatches_ReturnsEmptyContext(t *testing.T) {
	c := classify.New(emptyLexemeSource{}, emptyPersonSource{})
	r := retrieve.New(emptyRetrieveSources{}, fakeTaskSource{}, fakeCommitmentSource{}, fakeSkillSource{}, fakeArtifactSource{}, fakeProjectSource{})
	h := handler.NewContextHandler(c, r, 1500)

	router := gin.New()
	router.GET("/context", h.Preview)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/context?prompt=what+is+this&workspace=/tmp/proj", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
}
