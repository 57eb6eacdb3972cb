package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/sellzap/sellzap/internal/followup"
	"github.com/sellzap/sellzap/pkg/logging"
)

// FollowUpRunner is the slice of the scheduler the cron endpoint needs.
type FollowUpRunner interface {
	Run(ctx context.Context) followup.RunResult
}

// CronHandler lets an external scheduler trigger follow-up sweeps over HTTP,
// for deployments without a long-running worker process.
type CronHandler struct {
	runner FollowUpRunner
	logger *logging.Logger
}

// NewCronHandler creates a cron trigger handler.
func NewCronHandler(runner FollowUpRunner, logger *logging.Logger) *CronHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CronHandler{runner: runner, logger: logger}
}

// FollowUps executes one sweep synchronously and reports the outcome.
// An overlapping sweep responds 409 so the caller's retries don't pile up.
func (h *CronHandler) FollowUps(w http.ResponseWriter, r *http.Request) {
	result := h.runner.Run(r.Context())
	now := time.Now().UTC().Format(time.RFC3339)
	if result.Skipped {
		writeJSON(w, http.StatusConflict, map[string]any{
			"success":   false,
			"timestamp": now,
			"skipped":   true,
			"reason":    "previous sweep still running",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"timestamp": now,
		"skipped":   false,
		"sent":      result.Sent,
		"failed":    result.Failed,
	})
}
