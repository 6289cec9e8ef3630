package domain

import (
	"errors"
	"time"
)

var (
	ErrSkillNotFound     = errors.New("skill not found")
	ErrSkillNameConflict = errors.New("skill with this name and scope already exists")
)

type SkillSource string

const (
	SkillSourceAuto     SkillSource = "auto"
	SkillSourceManual   SkillSource = "manual"
	SkillSourceRegistry SkillSource = "registry"
)

type SkillScope string

const (
	ScopePersonal SkillScope = "personal"
	ScopeProject  SkillScope = "project"
)

// Skill is a reusable procedural document surfaced as context when its
// triggers match the current Signal.
//
// Invariant: (name, scope) is unique among active skills.
type Skill struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Description     string      `json:"description"`
	Triggers        []string    `json:"triggers"`
	Source          SkillSource `json:"source"`
	SourceSessionID *string     `json:"sourceSessionID,omitempty"`
	InstalledPath   string      `json:"installedPath"`
	Scope           SkillScope  `json:"scope"`
	QualityScore    *float64    `json:"qualityScore,omitempty"`
	ContentHash     string      `json:"contentHash"`
	IsActive        bool        `json:"isActive"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
