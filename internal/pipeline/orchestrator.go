package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/codeinonenight/podcast-insight/internal/analyze"
	"github.com/codeinonenight/podcast-insight/internal/domain"
	"github.com/codeinonenight/podcast-insight/internal/extract"
	"github.com/codeinonenight/podcast-insight/internal/jobs"
	"github.com/codeinonenight/podcast-insight/internal/session"
	"github.com/codeinonenight/podcast-insight/internal/transcribe"
)

// AnalysisKind selects which analysis sub-tasks to run.
type AnalysisKind string

const (
	AnalysisComprehensive AnalysisKind = "comprehensive"
	AnalysisSummary       AnalysisKind = "summary"
	AnalysisTopics        AnalysisKind = "topics"
	AnalysisMindmap       AnalysisKind = "mindmap"
	AnalysisInsights      AnalysisKind = "insights"
)

// ValidAnalysisKind reports whether the kind is a known selector.
func ValidAnalysisKind(kind AnalysisKind) bool {
	switch kind {
	case AnalysisComprehensive, AnalysisSummary, AnalysisTopics, AnalysisMindmap, AnalysisInsights:
		return true
	default:
		return false
	}
}

// stageBounds maps an adapter's 0-100 progress onto the overall range.
type stageBounds struct {
	offset int
	scale  float64
}

var (
	extractionBounds    = stageBounds{offset: 0, scale: 0.6}
	transcriptionBounds = stageBounds{offset: 60, scale: 0.3}
	analysisBounds      = stageBounds{offset: 90, scale: 0.1}
)

// overall converts adapter progress to the job-wide percentage.
func (b stageBounds) overall(p int) int {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return b.offset + int(float64(p)*b.scale)
}

// Orchestrator drives a session through extraction, transcription, and
// analysis, persisting every transition to the session store. It holds
// only session ids while running; the store stays the single source of
// truth visible to pollers.
type Orchestrator struct {
	store       session.Store
	registry    *jobs.Registry
	events      *jobs.EventBus
	extractor   extract.Extractor
	transcriber transcribe.Transcriber
	analyzer    analyze.Analyzer
	logger      *slog.Logger
	jobTimeout  time.Duration
}

// New wires the orchestrator with its collaborators. jobTimeout caps
// one full run; zero disables the deadline.
func New(
	store session.Store,
	registry *jobs.Registry,
	events *jobs.EventBus,
	extractor extract.Extractor,
	transcriber transcribe.Transcriber,
	analyzer analyze.Analyzer,
	logger *slog.Logger,
	jobTimeout time.Duration,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:       store,
		registry:    registry,
		events:      events,
		extractor:   extractor,
		transcriber: transcriber,
		analyzer:    analyzer,
		logger:      logger,
		jobTimeout:  jobTimeout,
	}
}

// Run executes the full pipeline for a registered session. It is
// launched detached from the HTTP request (go o.Run(id)) and never
// panics across that boundary: unexpected failures become a Failed
// status write. The caller must have registered the session id.
func (o *Orchestrator) Run(sessionID string) {
	defer o.registry.Clear(sessionID)
	defer o.recoverBoundary(sessionID)

	ctx, cancel := o.runContext()
	defer cancel()
	o.registry.SetAborter(sessionID, cancel)

	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		o.logger.Error("session vanished before start", "session", sessionID, "err", err)
		return
	}

	if !o.setStatus(sessionID, domain.StatusExtractingAudio, 0, "Extracting audio", "") {
		return
	}

	extraction, err := o.extractor.Extract(ctx, extract.Request{
		SessionID: sessionID,
		URL:       sess.InputURL,
		Platform:  sess.Platform,
		Progress:  o.stageProgress(sessionID, domain.StatusExtractingAudio, extractionBounds),
	})
	if err != nil {
		if o.wasCancelled(sessionID, err) {
			o.markCancelled(sessionID)
			return
		}
		// Extraction failure is fatal: nothing downstream can run
		// without audio.
		o.fail(sessionID, err.Error())
		return
	}

	if !o.updateSession(sessionID, func(s *domain.Session) {
		s.Extraction = &extraction
	}) {
		return
	}
	if !o.setStatus(sessionID, domain.StatusExtractingAudio, extractionBounds.overall(100), "Audio extracted", "") {
		return
	}

	if !sess.Options.TranscribeAudio {
		o.complete(sessionID)
		return
	}

	transcript, err := o.runTranscription(ctx, sessionID, sess.Options.Language, extraction)
	if err != nil {
		if o.wasCancelled(sessionID, err) {
			o.markCancelled(sessionID)
			return
		}
		if sess.Options.AnalyzeContent {
			// Analysis was requested and depends on the transcript,
			// so this failure sinks the job.
			o.fail(sessionID, err.Error())
			return
		}
		o.logger.Warn("transcription failed, keeping extraction results",
			"session", sessionID, "err", err)
		o.complete(sessionID)
		return
	}

	if !sess.Options.AnalyzeContent {
		o.complete(sessionID)
		return
	}

	if cancelled := o.runAnalysis(ctx, sessionID, transcript.Text, extraction, AnalysisComprehensive); cancelled {
		o.markCancelled(sessionID)
		return
	}
	o.complete(sessionID)
}

// RerunTranscription re-executes the transcription stage (and analysis
// when the job requested it) on a completed session. Stale transcript
// fields are cleared before work starts so old and new results are
// never shown blended.
func (o *Orchestrator) RerunTranscription(sessionID, language string) {
	defer o.registry.Clear(sessionID)
	defer o.recoverBoundary(sessionID)

	ctx, cancel := o.runContext()
	defer cancel()
	o.registry.SetAborter(sessionID, cancel)

	sess, err := o.store.Update(context.Background(), sessionID, func(s *domain.Session) {
		s.Transcript = ""
		s.TranscriptLanguage = ""
		s.TranscriptConfidence = 0
		s.Analysis = nil
	})
	if err != nil {
		o.logger.Error("rerun target vanished", "session", sessionID, "err", err)
		return
	}
	if sess.Extraction == nil {
		o.fail(sessionID, "no extracted audio available for transcription")
		return
	}
	if language == "" {
		language = sess.Options.Language
	}

	transcript, err := o.runTranscription(ctx, sessionID, language, *sess.Extraction)
	if err != nil {
		if o.wasCancelled(sessionID, err) {
			o.markCancelled(sessionID)
			return
		}
		if sess.Options.AnalyzeContent {
			o.fail(sessionID, err.Error())
			return
		}
		o.logger.Warn("transcription rerun failed", "session", sessionID, "err", err)
		o.complete(sessionID)
		return
	}

	if sess.Options.AnalyzeContent {
		if cancelled := o.runAnalysis(ctx, sessionID, transcript.Text, *sess.Extraction, AnalysisComprehensive); cancelled {
			o.markCancelled(sessionID)
			return
		}
	}
	o.complete(sessionID)
}

// RerunAnalysis re-executes analysis sub-tasks on a session that
// already has a transcript. All four analysis fields are cleared first.
func (o *Orchestrator) RerunAnalysis(sessionID string, kind AnalysisKind) {
	defer o.registry.Clear(sessionID)
	defer o.recoverBoundary(sessionID)

	ctx, cancel := o.runContext()
	defer cancel()
	o.registry.SetAborter(sessionID, cancel)

	sess, err := o.store.Update(context.Background(), sessionID, func(s *domain.Session) {
		s.Analysis = nil
	})
	if err != nil {
		o.logger.Error("rerun target vanished", "session", sessionID, "err", err)
		return
	}
	if sess.Transcript == "" {
		o.fail(sessionID, "no transcript available for analysis")
		return
	}

	var extraction domain.ExtractionResult
	if sess.Extraction != nil {
		extraction = *sess.Extraction
	}
	if cancelled := o.runAnalysis(ctx, sessionID, sess.Transcript, extraction, kind); cancelled {
		o.markCancelled(sessionID)
		return
	}
	o.complete(sessionID)
}

// runTranscription executes the transcription stage and persists its
// result.
func (o *Orchestrator) runTranscription(ctx context.Context, sessionID, language string, extraction domain.ExtractionResult) (transcribe.Result, error) {
	if !o.setStatus(sessionID, domain.StatusTranscribing, transcriptionBounds.overall(0), "Transcribing audio", "") {
		return transcribe.Result{}, session.ErrNotFound
	}

	result, err := o.transcriber.Transcribe(ctx, transcribe.Request{
		SessionID: sessionID,
		AudioPath: extraction.AudioPath,
		Language:  language,
		Progress:  o.stageProgress(sessionID, domain.StatusTranscribing, transcriptionBounds),
	})
	if err != nil {
		return transcribe.Result{}, err
	}

	if !o.updateSession(sessionID, func(s *domain.Session) {
		s.Transcript = result.Text
		s.TranscriptLanguage = result.Language
		s.TranscriptConfidence = result.Confidence
	}) {
		return transcribe.Result{}, session.ErrNotFound
	}
	return result, nil
}

// runAnalysis executes the selected analysis sub-tasks. Sub-task
// failures are soft: whatever succeeded is kept and the job still
// completes. The return value reports whether cancellation interrupted
// the stage.
func (o *Orchestrator) runAnalysis(ctx context.Context, sessionID, transcript string, extraction domain.ExtractionResult, kind AnalysisKind) (cancelled bool) {
	if !o.setStatus(sessionID, domain.StatusAnalyzing, analysisBounds.overall(0), "Analyzing content", "") {
		return false
	}

	req := analyze.Request{
		SessionID:  sessionID,
		Transcript: transcript,
		Title:      extraction.Title,
		Author:     extraction.Author,
		Duration:   extraction.Duration,
	}

	type subTask struct {
		kind  AnalysisKind
		label string
		run   func() error
	}

	bundle := &domain.AnalysisBundle{}
	tasks := []subTask{
		{AnalysisSummary, "Summarizing", func() error {
			summary, err := o.analyzer.Summarize(ctx, req)
			if err == nil {
				bundle.Summary = summary
			}
			return err
		}},
		{AnalysisTopics, "Extracting topics", func() error {
			topics, err := o.analyzer.ExtractTopics(ctx, req)
			if err == nil {
				bundle.Topics = topics
			}
			return err
		}},
		{AnalysisMindmap, "Building mindmap", func() error {
			mindmap, err := o.analyzer.BuildMindmap(ctx, req)
			if err == nil {
				bundle.Mindmap = mindmap
			}
			return err
		}},
		{AnalysisInsights, "Deriving insights", func() error {
			insights, err := o.analyzer.DeriveInsights(ctx, req)
			if err == nil {
				bundle.Insights = insights
			}
			return err
		}},
	}

	selected := tasks[:0:0]
	for _, task := range tasks {
		if kind == AnalysisComprehensive || kind == task.kind {
			selected = append(selected, task)
		}
	}

	for i, task := range selected {
		percent := i * 100 / len(selected)
		if !o.setStatus(sessionID, domain.StatusAnalyzing, analysisBounds.overall(percent), task.label, "") {
			return false
		}
		if !o.registry.IsWanted(sessionID) {
			return true
		}

		if err := task.run(); err != nil {
			if o.wasCancelled(sessionID, err) {
				return true
			}
			o.logger.Warn("analysis sub-task failed", "session", sessionID, "task", task.kind, "err", err)
		}
	}

	if !bundle.Empty() {
		o.updateSession(sessionID, func(s *domain.Session) {
			s.Analysis = bundle
		})
	}
	return false
}

// stageProgress builds the adapter progress callback for one stage.
func (o *Orchestrator) stageProgress(sessionID string, status domain.SessionStatus, bounds stageBounds) func(int, string) {
	return func(percent int, step string) {
		o.setStatus(sessionID, status, bounds.overall(percent), step, "")
	}
}

// setStatus persists one state machine transition and publishes the
// matching event. It returns false when the write did not land: the
// session no longer exists, or a terminal status already won the race
// against this write.
func (o *Orchestrator) setStatus(sessionID string, status domain.SessionStatus, progress int, step, errMsg string) bool {
	sess, err := o.store.SetStatus(context.Background(), sessionID, status, progress, step, errMsg)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			o.logger.Error("session vanished mid-run, aborting", "session", sessionID)
			return false
		}
		if errors.Is(err, session.ErrInvalidTransition) {
			o.logger.Debug("status write rejected, session already terminal",
				"session", sessionID, "status", status)
			return false
		}
		o.logger.Error("status write failed", "session", sessionID, "err", err)
		return false
	}

	o.publish(jobs.Event{
		SessionID: sessionID,
		Type:      jobs.EventTypeStatus,
		Status:    sess.Status,
		Progress:  sess.Progress,
		Step:      step,
		Message:   errMsg,
	})
	return true
}

// updateSession applies a result write, aborting the run when the
// session has disappeared.
func (o *Orchestrator) updateSession(sessionID string, fn func(*domain.Session)) bool {
	if _, err := o.store.Update(context.Background(), sessionID, fn); err != nil {
		o.logger.Error("session write failed, aborting", "session", sessionID, "err", err)
		return false
	}
	return true
}

// complete moves the session to its terminal success state with
// progress forced to 100.
func (o *Orchestrator) complete(sessionID string) {
	if !o.setStatus(sessionID, domain.StatusCompleted, 100, "Processing complete", "") {
		return
	}
	o.publish(jobs.Event{
		SessionID: sessionID,
		Type:      jobs.EventTypeResult,
		Status:    domain.StatusCompleted,
		Progress:  100,
	})
	o.logger.Info("job completed", "session", sessionID)
}

// fail records a fatal outcome. Progress stays frozen at its last
// persisted value.
func (o *Orchestrator) fail(sessionID, message string) {
	sess, err := o.store.Get(context.Background(), sessionID)
	if err != nil {
		o.logger.Error("session vanished during failure handling", "session", sessionID, "err", err)
		return
	}

	if !o.setStatus(sessionID, domain.StatusFailed, sess.Progress, "Processing failed", message) {
		return
	}
	o.publish(jobs.Event{
		SessionID: sessionID,
		Type:      jobs.EventTypeError,
		Status:    domain.StatusFailed,
		Progress:  sess.Progress,
		Message:   message,
	})
	o.logger.Error("job failed", "session", sessionID, "err", message)
}

// markCancelled records the cancellation outcome. Cancellation is not
// an error: the error field stays empty and progress stays frozen.
func (o *Orchestrator) markCancelled(sessionID string) {
	sess, err := o.store.Get(context.Background(), sessionID)
	if err != nil {
		return
	}
	if sess.Status == domain.StatusCancelled {
		return
	}

	o.setStatus(sessionID, domain.StatusCancelled, sess.Progress, "Cancelled", "")
	o.logger.Info("job cancelled", "session", sessionID)
}

// wasCancelled classifies an adapter error as a cancellation outcome.
func (o *Orchestrator) wasCancelled(sessionID string, err error) bool {
	if errors.Is(err, jobs.ErrCancelled) || errors.Is(err, context.Canceled) {
		return true
	}
	// A context abort surfaces as arbitrary wrapped errors from
	// subprocess and HTTP adapters; the registry flag is authoritative.
	return !o.registry.IsWanted(sessionID)
}

// runContext builds the per-run context, applying the job deadline.
func (o *Orchestrator) runContext() (context.Context, context.CancelFunc) {
	if o.jobTimeout > 0 {
		return context.WithTimeout(context.Background(), o.jobTimeout)
	}
	return context.WithCancel(context.Background())
}

// recoverBoundary is the outermost error boundary for a detached run.
func (o *Orchestrator) recoverBoundary(sessionID string) {
	if r := recover(); r != nil {
		o.logger.Error("unexpected pipeline panic", "session", sessionID, "panic", r)
		o.fail(sessionID, "internal pipeline error")
	}
}

// publish emits an event when a bus is configured.
func (o *Orchestrator) publish(event jobs.Event) {
	if o.events != nil {
		o.events.Publish(event)
	}
}
