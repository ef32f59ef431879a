package ingest

import (
	"context"
	"log/slog"
	"time"

	"driftwatch/internal/model"
)

// SendNonBlocking delivers a record to the pipeline channel without
// blocking the source. Full channels drop with a warning rather than
// backpressuring ingest.
func SendNonBlocking(ctx context.Context, out chan<- model.LogRecord, rec model.LogRecord, logger *slog.Logger) bool {
	select {
	case out <- rec:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("record channel full, dropping record", "endpoint", rec.Endpoint, "timestamp", rec.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
