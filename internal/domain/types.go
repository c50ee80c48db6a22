package domain

import "time"

// SessionStatus tracks the pipeline stage of one submitted job.
type SessionStatus string

const (
	StatusPending         SessionStatus = "pending"
	StatusExtractingAudio SessionStatus = "extracting_audio"
	StatusTranscribing    SessionStatus = "transcribing"
	StatusAnalyzing       SessionStatus = "analyzing"
	StatusCompleted       SessionStatus = "completed"
	StatusFailed          SessionStatus = "failed"
	StatusCancelled       SessionStatus = "cancelled"
)

// IsTerminal reports whether a status allows no further pipeline work.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition enforces the allowed session state machine edges.
// Completed sessions may re-enter transcribing or analyzing for reruns.
func CanTransition(from, to SessionStatus) bool {
	if from == to {
		return true
	}

	switch from {
	case StatusPending:
		return to == StatusExtractingAudio || to == StatusFailed || to == StatusCancelled
	case StatusExtractingAudio:
		return to == StatusTranscribing || to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	case StatusTranscribing:
		return to == StatusAnalyzing || to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	case StatusAnalyzing:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	case StatusCompleted:
		return to == StatusTranscribing || to == StatusAnalyzing
	default:
		return false
	}
}

// JobOptions are the caller-selected stages for one job.
type JobOptions struct {
	TranscribeAudio bool   `json:"transcribeAudio"`
	AnalyzeContent  bool   `json:"analyzeContent"`
	Language        string `json:"language,omitempty"`
}

// ExtractionResult holds the audio location and media metadata
// produced by the extraction stage. Set once, never mutated after.
type ExtractionResult struct {
	AudioPath string  `json:"audioPath,omitempty"`
	AudioURL  string  `json:"audioUrl,omitempty"`
	Title     string  `json:"title,omitempty"`
	Author    string  `json:"author,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	FileSize  int64   `json:"fileSize,omitempty"`
}

// Topic is one extracted subject with a 0-1 relevance score.
type Topic struct {
	Name      string  `json:"name"`
	Relevance float64 `json:"relevance"`
}

// Insight is one derived takeaway, classified by kind.
type Insight struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// MindmapNode is one node of the hierarchical content map.
type MindmapNode struct {
	Label    string        `json:"label"`
	Children []MindmapNode `json:"children,omitempty"`
}

// AnalysisBundle aggregates the four independent analysis results.
// Each field is optional; a failed sub-task leaves its field empty.
type AnalysisBundle struct {
	Summary  string       `json:"summary,omitempty"`
	Topics   []Topic      `json:"topics,omitempty"`
	Mindmap  *MindmapNode `json:"mindmap,omitempty"`
	Insights []Insight    `json:"insights,omitempty"`
}

// Empty reports whether no analysis sub-task produced a result.
func (b *AnalysisBundle) Empty() bool {
	if b == nil {
		return true
	}
	return b.Summary == "" && len(b.Topics) == 0 && b.Mindmap == nil && len(b.Insights) == 0
}

// Session is the persisted record of one submitted job and its
// accumulated results. Owned exclusively by the session store.
type Session struct {
	ID                   string            `json:"id"`
	Status               SessionStatus     `json:"status"`
	Progress             int               `json:"progress"`
	CurrentStep          string            `json:"currentStep,omitempty"`
	Error                string            `json:"error,omitempty"`
	InputURL             string            `json:"inputUrl"`
	Platform             Platform          `json:"platform"`
	Options              JobOptions        `json:"options"`
	Extraction           *ExtractionResult `json:"extraction,omitempty"`
	Transcript           string            `json:"transcript,omitempty"`
	TranscriptLanguage   string            `json:"transcriptLanguage,omitempty"`
	TranscriptConfidence float64           `json:"transcriptConfidence,omitempty"`
	Analysis             *AnalysisBundle   `json:"analysis,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
	UpdatedAt            time.Time         `json:"updatedAt"`
}
