package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/nathanasimon/memoryd/internal/domain"
	"github.com/nathanasimon/memoryd/internal/transport/http/handler"
)

type fakeSkillLister struct {
	skills []domain.Skill
	err    error
}

func (f *fakeSkillLister) ActiveForClassifier(ctx context.Context) ([]domain.Skill, error) {
	return f.skills, f.err
}

func TestSkillList_Success_Returns200WithSkills(t *testing.T) {
	lister := &fakeSkillLister{skills: []domain.Skill{{Name: "deploy-service"}}}
	h := handler.NewSkillHandler(lister)

	r := gin.New()
	r.GET("/skills", h.List)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/skills", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "deploy-service") {
		t.Errorf("body %q missing skill name", w.Body.String())
	}
}

func TestSkillList_StoreError_Returns500(t *testing.T) {
	lister := &fakeSkillLister{err: errors.New("db down")}
	h := handler.NewSkillHandler(lister)

	r := gin.New()
	r.GET("/skills", h.List)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/skills", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}
