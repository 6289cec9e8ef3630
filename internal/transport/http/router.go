// Package httptransport wires memoryd's debug/introspection HTTP
// surface: health checks, queue and skill visibility, and a manual
// trigger for the hot context-assembly path. It carries no
// authentication layer — spec's "no cross-user sharing of state"
// non-goal means there is no user model to authenticate against, so
// this router is meant to be bound to localhost only (see cmd/worker).
//
// Grounded on the teacher's internal/transport/http/router.go; the
// Auth/EnsureUser middleware pair it used for multi-tenant job routes
// has no home here and is dropped (see DESIGN.md).
package httptransport

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/nathanasimon/memoryd/internal/transport/http/handler"
	"github.com/nathanasimon/memoryd/internal/transport/http/middleware"
)

func NewRouter(logger *slog.Logger, health *handler.HealthHandler, jobs *handler.JobHandler, skills *handler.SkillHandler, ctx *handler.ContextHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	r.GET("/healthz", health.Liveness)
	r.GET("/readyz", health.Readiness)

	r.GET("/jobs", jobs.Counts)
	r.GET("/skills", skills.List)
	r.GET("/context", ctx.Preview)

	return r
}
