package transcribe

import "context"

// Request contains the audio location and execution callbacks for one
// transcription run.
type Request struct {
	SessionID string
	AudioPath string
	Language  string
	// Progress receives best-effort percentage updates. The adapter
	// always emits 0 at start and 100 on the success path.
	Progress func(percent int, step string)
}

// Segment is one timed slice of the transcript.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the normalized transcription outcome.
type Result struct {
	Text       string    `json:"text"`
	Language   string    `json:"language,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Segments   []Segment `json:"segments,omitempty"`
}

// Transcriber converts an audio file into text through an external
// speech-to-text capability.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// cancelCheck is the slice of the cancellation registry adapters
// consult at checkpoints.
type cancelCheck interface {
	IsWanted(id string) bool
}

// emit forwards a progress update when a callback is configured.
func emit(req Request, percent int, step string) {
	if req.Progress != nil {
		req.Progress(percent, step)
	}
}
