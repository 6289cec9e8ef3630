package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nathanasimon/memoryd/internal/classify"
	"github.com/nathanasimon/memoryd/internal/format"
	"github.com/nathanasimon/memoryd/internal/retrieve"
)

// debugBudget bounds a manually triggered context pass the same way the
// hook binary bounds its own prompt handling.
const debugBudget = 2 * time.Second

// ContextHandler lets an operator manually drive the hot
// Classify->Retrieve->Format pass for debugging, outside of a live hook
// invocation.
type ContextHandler struct {
	classifier *classify.Classifier
	retriever  *retrieve.Retriever
	tokenBudget int
}

func NewContextHandler(classifier *classify.Classifier, retriever *retrieve.Retriever, tokenBudget int) *ContextHandler {
	return &ContextHandler{classifier: classifier, retriever: retriever, tokenBudget: tokenBudget}
}

// Preview runs the hot path for the given prompt/workspace and returns
// both the rendered block and the intermediate signal/items, so an
// operator can see why a given item was or wasn't included.
func (h *ContextHandler) Preview(c *gin.Context) {
	prompt := c.Query("prompt")
	workspace := c.Query("workspace")
	if prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt query parameter is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), debugBudget)
	defer cancel()

	signal, err := h.classifier.Classify(ctx, prompt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items, err := h.retriever.Retrieve(ctx, signal, workspace)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"signal":  signal,
		"items":   items,
		"context": format.Format(items, h.tokenBudget),
	})
}
