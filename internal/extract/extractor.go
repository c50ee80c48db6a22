package extract

import (
	"context"

	"github.com/codeinonenight/podcast-insight/internal/domain"
)

// Request contains the input URL and execution callbacks for one
// extraction run.
type Request struct {
	SessionID string
	URL       string
	Platform  domain.Platform
	// Progress receives best-effort percentage updates. The adapter
	// always emits 0 at start and 100 on the success path.
	Progress func(percent int, step string)
}

// Extractor resolves a submitted URL into a local audio file plus
// media metadata.
type Extractor interface {
	Extract(ctx context.Context, req Request) (domain.ExtractionResult, error)
}

// cancelCheck is the slice of the cancellation registry adapters
// consult at checkpoints. A missing entry reports wanted.
type cancelCheck interface {
	IsWanted(id string) bool
}

// emit forwards a progress update when a callback is configured.
func emit(req Request, percent int, step string) {
	if req.Progress != nil {
		req.Progress(percent, step)
	}
}

// Service routes extraction requests to the adapter that understands
// the platform: RSS feeds resolve through the feed parser, everything
// else goes through yt-dlp.
type Service struct {
	ytdlp *YtdlpExtractor
	feed  *FeedExtractor
}

// NewService builds the production extraction router.
func NewService(ytdlp *YtdlpExtractor, feed *FeedExtractor) *Service {
	return &Service{ytdlp: ytdlp, feed: feed}
}

// Extract dispatches to the platform-appropriate adapter.
func (s *Service) Extract(ctx context.Context, req Request) (domain.ExtractionResult, error) {
	if req.Platform == domain.PlatformRSS {
		return s.feed.Extract(ctx, req)
	}
	return s.ytdlp.Extract(ctx, req)
}
