package transcribe

import (
	"context"

	"github.com/codeinonenight/podcast-insight/internal/jobs"
)

// MockTranscriber returns a canned transcript without network calls.
type MockTranscriber struct {
	cancels cancelCheck

	// Result and Err override the canned success outcome.
	Result *Result
	Err    error
}

// NewMockTranscriber builds the canned transcriber.
func NewMockTranscriber(cancels cancelCheck) *MockTranscriber {
	return &MockTranscriber{cancels: cancels}
}

// Transcribe emits scripted progress and returns deterministic text.
func (m *MockTranscriber) Transcribe(_ context.Context, req Request) (Result, error) {
	emit(req, 0, "Uploading audio for transcription")
	if !m.cancels.IsWanted(req.SessionID) {
		return Result{}, jobs.ErrCancelled
	}

	emit(req, 50, "Transcribing audio")
	if !m.cancels.IsWanted(req.SessionID) {
		return Result{}, jobs.ErrCancelled
	}

	if m.Err != nil {
		return Result{}, m.Err
	}

	emit(req, 100, "Transcription complete")
	if m.Result != nil {
		return *m.Result, nil
	}
	return Result{
		Text:       "Welcome to the show. Today we discuss testing strategies for concurrent pipelines.",
		Language:   "en",
		Confidence: 0.92,
	}, nil
}
