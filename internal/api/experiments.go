package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/railzwaylabs/experiment-broker/internal/domain/experiment"
)

func (r *Router) ListExperiments(c *gin.Context) {
	status := experiment.Status(c.Query("status"))
	if status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status", "allowed": experiment.AllStatuses()})
		return
	}

	items, err := r.repo.ListByStatus(c.Request.Context(), status)
	if err != nil {
		r.logger.Error("list_experiments_failed", zap.String("status", string(status)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (r *Router) GetExperiment(c *gin.Context) {
	exp, ok := r.loadBySlug(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": exp})
}

func (r *Router) GetExperimentChangelog(c *gin.Context) {
	exp, ok := r.loadBySlug(c)
	if !ok {
		return
	}

	entries, err := r.history.ListByExperiment(c.Request.Context(), exp.ID)
	if err != nil {
		r.logger.Error("list_changelog_failed", zap.String("slug", exp.Slug), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

// GetQueue lists experiments waiting for publication in the order the push queue
// drain will pick them.
func (r *Router) GetQueue(c *gin.Context) {
	items, err := r.repo.ListByStatus(c.Request.Context(), experiment.StatusReview)
	if err != nil {
		r.logger.Error("list_queue_failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	queue := make([]gin.H, 0, len(items))
	for i, exp := range items {
		queue = append(queue, gin.H{
			"position":   i + 1,
			"id":         exp.ID,
			"slug":       exp.Slug,
			"created_at": exp.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": queue})
}

func (r *Router) loadBySlug(c *gin.Context) (*experiment.Experiment, bool) {
	slug := c.Param("slug")
	exp, err := r.repo.GetBySlug(c.Request.Context(), slug)
	if err != nil {
		r.logger.Error("get_experiment_failed", zap.String("slug", slug), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return nil, false
	}
	if exp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "experiment_not_found"})
		return nil, false
	}
	return exp, true
}
