package queue

import (
	"context"
	"time"
)

// DLQEntry is one dead-letter record kept for operator inspection.
type DLQEntry struct {
	ID           string
	Lane         string
	OriginalLane string
	Task         *Task
	Reason       string
	FailedAt     time.Time
}

// DLQStore exposes inspection and explicit operator replay for dead-lettered
// tasks. Nothing replays automatically.
type DLQStore interface {
	ListDLQ(ctx context.Context, lane string, limit int) ([]*DLQEntry, error)
	ReplayDLQ(ctx context.Context, lane string, ids []string) (int, error)
}
