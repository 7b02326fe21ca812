package api

import (
	"context"
	"errors"
	"net/http"

	cooldownDomain "outreach-backend/internal/cooldown/domain"
	inboundDomain "outreach-backend/internal/inbound/domain"
	"outreach-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// JobPoller runs the inbound reconciliation poll.
type JobPoller interface {
	Run(ctx context.Context) (*inboundDomain.Summary, error)
	PollEmail(ctx context.Context, email string) (inboundDomain.Summary, error)
}

// JobSweeper expires cooldowns.
type JobSweeper interface {
	Sweep(ctx context.Context) (*cooldownDomain.SweepResult, error)
}

// JobsHandler exposes the scheduled jobs to an external cron.
type JobsHandler struct {
	poller  JobPoller
	sweeper JobSweeper
}

func NewJobsHandler(poller JobPoller, sweeper JobSweeper) *JobsHandler {
	return &JobsHandler{poller: poller, sweeper: sweeper}
}

// RunPoll polls every connected mailbox, or only ?email= when given
func (h *JobsHandler) RunPoll(c *gin.Context) {
	ctx := c.Request.Context()

	if email := c.Query("email"); email != "" {
		summary, err := h.poller.PollEmail(ctx, email)
		if err != nil {
			logger.Error("manual poll failed", zap.String("email", email), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
		return
	}

	summary, err := h.poller.Run(ctx)
	if err != nil {
		logger.Error("manual poll failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

type sweepResponse struct {
	*cooldownDomain.SweepResult
	Errors []string `json:"errors,omitempty"`
}

// RunSweep expires cooldowns and sends availability notifications. Partial
// failures still report the counts, with the failures listed under errors.
func (h *JobsHandler) RunSweep(c *gin.Context) {
	result, err := h.sweeper.Sweep(c.Request.Context())
	if result == nil {
		if err == nil {
			err = errors.New("sweep returned no result")
		}
		logger.Error("manual cooldown sweep failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := sweepResponse{SweepResult: result}
	if err != nil {
		logger.Warn("manual cooldown sweep finished with errors", zap.Error(err))
		resp.Errors = splitJoined(err)
	}
	c.JSON(http.StatusOK, resp)
}

// splitJoined unwraps an errors.Join result into its messages.
func splitJoined(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
