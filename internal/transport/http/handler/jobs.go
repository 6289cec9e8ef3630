package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nathanasimon/memoryd/internal/domain"
)

// jobCounter is the narrow slice of internal/storage/postgres.JobStore
// the debug surface needs to report queue depth.
type jobCounter interface {
	CountsByStatus(ctx context.Context) (map[domain.JobKind]map[domain.JobStatus]int, error)
}

// JobHandler exposes read-only queue introspection for operators — no
// job creation route, since jobs are only ever enqueued by
// internal/recorder and cmd/hook, never by an external caller.
type JobHandler struct {
	jobs jobCounter
}

func NewJobHandler(jobs jobCounter) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// Counts reports how many jobs of each kind sit in each status.
func (h *JobHandler) Counts(c *gin.Context) {
	counts, err := h.jobs.CountsByStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}
