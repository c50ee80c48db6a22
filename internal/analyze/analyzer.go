package analyze

import (
	"context"

	"github.com/codeinonenight/podcast-insight/internal/domain"
)

// Request carries the transcript and media context for one analysis
// sub-task.
type Request struct {
	SessionID  string
	Transcript string
	Title      string
	Author     string
	Duration   float64
}

// Analyzer exposes the four independent analysis capabilities. Each
// call stands alone: a failure in one never affects the others.
type Analyzer interface {
	Summarize(ctx context.Context, req Request) (string, error)
	ExtractTopics(ctx context.Context, req Request) ([]domain.Topic, error)
	BuildMindmap(ctx context.Context, req Request) (*domain.MindmapNode, error)
	DeriveInsights(ctx context.Context, req Request) ([]domain.Insight, error)
}

// cancelCheck is the slice of the cancellation registry adapters
// consult before each call.
type cancelCheck interface {
	IsWanted(id string) bool
}
