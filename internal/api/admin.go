package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/railzwaylabs/experiment-broker/internal/broker"
	"github.com/railzwaylabs/experiment-broker/internal/domain/experiment"
	"github.com/railzwaylabs/experiment-broker/pkg/telemetry/correlation"
)

// RunTask runs one broker pass synchronously and reports its outcome.
func (r *Router) RunTask(c *gin.Context) {
	name := c.Param("task")
	run, ok := r.operator.Pass(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_task", "task": name})
		return
	}

	ctx := c.Request.Context()
	if err := run(ctx); err != nil {
		r.logger.Error("admin_task_failed", zap.String("task", name), correlation.Field(ctx), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "task": name})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "completed", "task": name})
}

// PushExperiment pushes one queued experiment without waiting for its turn in the queue.
// It is refused while another submission is in review.
func (r *Router) PushExperiment(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	ctx := c.Request.Context()
	err = r.operator.PushExperiment(ctx, id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": string(experiment.StatusAccepted), "id": strconv.FormatInt(id, 10)})
	case errors.Is(err, experiment.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "experiment_not_found"})
	case errors.Is(err, broker.ErrReviewPending), errors.Is(err, broker.ErrPushQueueBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, experiment.ErrInvalidTransition), errors.Is(err, experiment.ErrStatusConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		r.logger.Error("admin_push_failed", zap.Int64("experiment_id", id), correlation.Field(ctx), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
