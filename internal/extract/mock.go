package extract

import (
	"context"

	"github.com/codeinonenight/podcast-insight/internal/domain"
	"github.com/codeinonenight/podcast-insight/internal/jobs"
)

// MockExtractor returns a deterministic canned result without touching
// the network or spawning processes. Selected by mock mode so the full
// pipeline can run in development and CI.
type MockExtractor struct {
	cancels cancelCheck

	// Result and Err override the canned success outcome.
	Result *domain.ExtractionResult
	Err    error
}

// NewMockExtractor builds the canned extractor.
func NewMockExtractor(cancels cancelCheck) *MockExtractor {
	return &MockExtractor{cancels: cancels}
}

// Extract emits scripted progress and returns canned metadata.
func (m *MockExtractor) Extract(_ context.Context, req Request) (domain.ExtractionResult, error) {
	for _, step := range []struct {
		percent int
		label   string
	}{
		{0, "Resolving media metadata"},
		{40, "Downloading audio"},
		{80, "Verifying audio file"},
	} {
		emit(req, step.percent, step.label)
		if !m.cancels.IsWanted(req.SessionID) {
			return domain.ExtractionResult{}, jobs.ErrCancelled
		}
	}

	if m.Err != nil {
		return domain.ExtractionResult{}, m.Err
	}
	if m.Result != nil {
		emit(req, 100, "Audio extraction complete")
		return *m.Result, nil
	}

	emit(req, 100, "Audio extraction complete")
	return domain.ExtractionResult{
		AudioPath: "/tmp/podcast-insight/" + req.SessionID + ".mp3",
		Title:     "Sample Episode",
		Author:    "Sample Podcast",
		Duration:  1800,
		FileSize:  12 << 20,
	}, nil
}
