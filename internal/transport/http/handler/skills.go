package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nathanasimon/memoryd/internal/domain"
)

// skillLister is the narrow slice of internal/store.SkillStore the
// debug surface needs to list installed skills.
type skillLister interface {
	ActiveForClassifier(ctx context.Context) ([]domain.Skill, error)
}

// SkillHandler exposes read-only skill introspection. Skill authoring
// happens through internal/skill's Engine (auto-generation runs as a
// skill_extract worker job), not this HTTP surface.
type SkillHandler struct {
	skills skillLister
}

func NewSkillHandler(skills skillLister) *SkillHandler {
	return &SkillHandler{skills: skills}
}

// List returns every active skill, for an operator to confirm what's
// installed and which triggers will match it.
func (h *SkillHandler) List(c *gin.Context) {
	skills, err := h.skills.ActiveForClassifier(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	c.JSON(http.StatusOK, gin.H{"skills": skills})
}
