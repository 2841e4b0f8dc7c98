package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/slideflow/internal/gcp"
	"github.com/Lllllllleong/slideflow/internal/models"
)

// failRun logs the failure, marks the run FAILED and returns the wrapped error.
func failRun(ctx context.Context, tracker *gcp.RunTracker, logCtx *slog.Logger, runID, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if err := tracker.UpdateStatus(ctx, runID, models.RunStatusFailed, fullError); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}
