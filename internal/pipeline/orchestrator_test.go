package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/codeinonenight/podcast-insight/internal/analyze"
	"github.com/codeinonenight/podcast-insight/internal/domain"
	"github.com/codeinonenight/podcast-insight/internal/extract"
	"github.com/codeinonenight/podcast-insight/internal/jobs"
	"github.com/codeinonenight/podcast-insight/internal/session"
	"github.com/codeinonenight/podcast-insight/internal/transcribe"
)

// fakeExtractor delegates to injected behavior.
type fakeExtractor struct {
	fn func(ctx context.Context, req extract.Request) (domain.ExtractionResult, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, req extract.Request) (domain.ExtractionResult, error) {
	return f.fn(ctx, req)
}

// fakeTranscriber delegates to injected behavior.
type fakeTranscriber struct {
	fn func(ctx context.Context, req transcribe.Request) (transcribe.Result, error)
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	return f.fn(ctx, req)
}

// fakeAnalyzer runs each sub-task through an injected func; nil funcs
// return canned values.
type fakeAnalyzer struct {
	summarize func(ctx context.Context, req analyze.Request) (string, error)
	topics    func(ctx context.Context, req analyze.Request) ([]domain.Topic, error)
	mindmap   func(ctx context.Context, req analyze.Request) (*domain.MindmapNode, error)
	insights  func(ctx context.Context, req analyze.Request) ([]domain.Insight, error)
}

func (f *fakeAnalyzer) Summarize(ctx context.Context, req analyze.Request) (string, error) {
	if f.summarize == nil {
		return "a summary", nil
	}
	return f.summarize(ctx, req)
}

func (f *fakeAnalyzer) ExtractTopics(ctx context.Context, req analyze.Request) ([]domain.Topic, error) {
	if f.topics == nil {
		return []domain.Topic{{Name: "go", Relevance: 1}}, nil
	}
	return f.topics(ctx, req)
}

func (f *fakeAnalyzer) BuildMindmap(ctx context.Context, req analyze.Request) (*domain.MindmapNode, error) {
	if f.mindmap == nil {
		return &domain.MindmapNode{Label: "root"}, nil
	}
	return f.mindmap(ctx, req)
}

func (f *fakeAnalyzer) DeriveInsights(ctx context.Context, req analyze.Request) ([]domain.Insight, error) {
	if f.insights == nil {
		return []domain.Insight{{Kind: "takeaway", Text: "insight"}}, nil
	}
	return f.insights(ctx, req)
}

// happyExtraction is the default successful extraction outcome.
func happyExtraction(ctx context.Context, req extract.Request) (domain.ExtractionResult, error) {
	req.Progress(0, "start")
	req.Progress(50, "downloading")
	req.Progress(100, "done")
	return domain.ExtractionResult{AudioPath: "/tmp/" + req.SessionID + ".mp3", Title: "Ep", Author: "Show", Duration: 600}, nil
}

// happyTranscription is the default successful transcription outcome.
func happyTranscription(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	req.Progress(0, "upload")
	req.Progress(100, "done")
	return transcribe.Result{Text: "hello world", Language: "en", Confidence: 0.9}, nil
}

// harness bundles an orchestrator with its collaborators for tests.
type harness struct {
	store       *session.MemoryStore
	registry    *jobs.Registry
	events      *jobs.EventBus
	extractor   *fakeExtractor
	transcriber *fakeTranscriber
	analyzer    *fakeAnalyzer
	orch        *Orchestrator
}

func newHarness() *harness {
	h := &harness{
		store:       session.NewMemoryStore(),
		registry:    jobs.NewRegistry(),
		events:      jobs.NewEventBus(1000),
		extractor:   &fakeExtractor{fn: happyExtraction},
		transcriber: &fakeTranscriber{fn: happyTranscription},
		analyzer:    &fakeAnalyzer{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.orch = New(h.store, h.registry, h.events, h.extractor, h.transcriber, h.analyzer, logger, 0)
	return h
}

// start creates a registered session and returns its id.
func (h *harness) start(t *testing.T, opts domain.JobOptions) string {
	t.Helper()
	sess, err := h.store.Create(context.Background(), "https://youtube.com/watch?v=abc", domain.PlatformYouTube, opts)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := h.registry.Register(sess.ID); err != nil {
		t.Fatalf("register: %v", err)
	}
	return sess.ID
}

func (h *harness) get(t *testing.T, id string) domain.Session {
	t.Helper()
	sess, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return sess
}

// TestRunFullPipelineSuccess covers extraction, transcription, and all
// four analysis sub-tasks reaching completed with progress 100.
func TestRunFullPipelineSuccess(t *testing.T) {
	h := newHarness()
	id := h.start(t, domain.JobOptions{TranscribeAudio: true, AnalyzeContent: true})

	h.orch.Run(id)

	sess := h.get(t, id)
	if sess.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (error=%q)", sess.Status, sess.Error)
	}
	if sess.Progress != 100 {
		t.Fatalf("progress = %d, want 100", sess.Progress)
	}
	if sess.Transcript != "hello world" {
		t.Fatalf("transcript = %q", sess.Transcript)
	}
	if sess.Analysis == nil || sess.Analysis.Summary == "" || len(sess.Analysis.Topics) == 0 ||
		sess.Analysis.Mindmap == nil || len(sess.Analysis.Insights) == 0 {
		t.Fatalf("analysis bundle incomplete: %+v", sess.Analysis)
	}
	if sess.Extraction == nil || sess.Extraction.Title != "Ep" {
		t.Fatalf("extraction = %+v", sess.Extraction)
	}
	if h.registry.Active(id) {
		t.Fatal("registry entry should be cleared on terminal state")
	}
}

// TestRunProgressMonotonicAndStageBounded replays the event trail and
// checks monotonic overall progress plus per-stage progress windows.
func TestRunProgressMonotonicAndStageBounded(t *testing.T) {
	h := newHarness()
	id := h.start(t, domain.JobOptions{TranscribeAudio: true, AnalyzeContent: true})

	h.orch.Run(id)

	events := h.events.Since(id, 0)
	if len(events) == 0 {
		t.Fatal("expected progress events")
	}

	last := -1
	for _, ev := range events {
		if ev.Progress < last {
			t.Fatalf("progress regressed: %d after %d (%+v)", ev.Progress, last, ev)
		}
		last = ev.Progress

		switch ev.Status {
		case domain.StatusExtractingAudio:
			if ev.Progress < 0 || ev.Progress > 60 {
				t.Fatalf("extraction progress %d outside [0,60]", ev.Progress)
			}
		case domain.StatusTranscribing:
			if ev.Progress < 60 || ev.Progress > 90 {
				t.Fatalf("transcription progress %d outside [60,90]", ev.Progress)
			}
		case domain.StatusAnalyzing:
			if ev.Progress < 90 || ev.Progress > 100 {
				t.Fatalf("analysis progress %d outside [90,100]", ev.Progress)
			}
		}
	}
	if last != 100 {
		t.Fatalf("final progress = %d, want 100", last)
	}
}

// TestRunExtractionFailureIsFatal records the adapter error verbatim
// and freezes progress.
func TestRunExtractionFailureIsFatal(t *testing.T) {
	h := newHarness()
	h.extractor.fn = func(ctx context.Context, req extract.Request) (domain.ExtractionResult, error) {
		req.Progress(0, "start")
		req.Progress(40, "downloading")
		return domain.ExtractionResult{}, errors.New("platform not supported")
	}
	id := h.start(t, domain.JobOptions{TranscribeAudio: true, AnalyzeContent: true})

	h.orch.Run(id)

	sess := h.get(t, id)
	if sess.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", sess.Status)
	}
	if sess.Error != "platform not supported" {
		t.Fatalf("error = %q, want adapter message verbatim", sess.Error)
	}
	if sess.Progress != extractionBounds.overall(40) {
		t.Fatalf("progress = %d, want frozen at %d", sess.Progress, extractionBounds.overall(40))
	}
	if sess.Transcript != "" {
		t.Fatal("transcript must stay absent")
	}
}

// TestRunTranscriptionFailureSoftWithoutAnalysis keeps extraction
// results and completes.
func TestRunTranscriptionFailureSoftWithoutAnalysis(t *testing.T) {
	h := newHarness()
	h.transcriber.fn = func(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
		return transcribe.Result{}, errors.New("speech api unavailable")
	}
	id := h.start(t, domain.JobOptions{TranscribeAudio: true, AnalyzeContent: false})

	h.orch.Run(id)

	sess := h.get(t, id)
	if sess.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", sess.Status)
	}
	if sess.Error != "" {
		t.Fatalf("error = %q, want empty for soft failure", sess.Error)
	}
	if sess.Transcript != "" {
		t.Fatal("transcript must stay absent")
	}
	if sess.Extraction == nil {
		t.Fatal("extraction results must be preserved")
	}
}

// TestRunTranscriptionFailureFatalWithAnalysis sinks the job when
// analysis depends on the transcript.
func TestRunTranscriptionFailureFatalWithAnalysis(t *testing.T) {
	h := newHarness()
	h.transcriber.fn = func(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
		return transcribe.Result{}, errors.New("speech api unavailable")
	}
	id := h.start(t, domain.JobOptions{TranscribeAudio: true, AnalyzeContent: true})

	h.orch.Run(id)

	sess := h.get(t, id)
	if sess.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", sess.Status)
	}
	if sess.Error != "speech api unavailable" {
		t.Fatalf("error = %q", sess.Error)
	}
}

// TestRunExtractionOnlyJob completes right after extraction.
func TestRunExtractionOnlyJob(t *testing.T) {
	h := newHarness()
	h.transcriber.fn = func(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
		t.Fatal("transcriber must not run for extraction-only jobs")
		return transcribe.Result{}, nil
	}
	id := h.start(t, domain.JobOptions{TranscribeAudio: false})

	h.orch.Run(id)

	sess := h.get(t, id)
	if sess.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", sess.Status)
	}
	if sess.Progress != 100 {
		t.Fatalf("progress = %d, want 100", sess.Progress)
	}
}

// TestRunAnalysisSubTaskFailureIsPartial keeps the three successful
// sub-results and completes.
func TestRunAnalysisSubTaskFailureIsPartial(t *testing.T) {
	h := newHarness()
	h.analyzer.mindmap = func(ctx context.Context, req analyze.Request) (*domain.MindmapNode, error) {
		return nil, errors.New("mindmap model timeout")
	}
	id := h.start(t, domain.JobOptions{TranscribeAudio: true, AnalyzeContent: true})

	h.orch.Run(id)

	sess := h.get(t, id)
	if sess.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", sess.Status)
	}
	if sess.Analysis == nil {
		t.Fatal("expected partial analysis bundle")
	}
	if sess.Analysis.Mindmap != nil {
		t.Fatal("failed sub-task field must stay absent")
	}
	if sess.Analysis.Summary == "" || len(sess.Analysis.Topics) == 0 || len(sess.Analysis.Insights) == 0 {
		t.Fatalf("successful sub-results missing: %+v", sess.Analysis)
	}
}

// TestRunAllAnalysisSubTasksFailStillCompletes verifies analysis-stage
// failure as a whole is never fatal.
func TestRunAllAnalysisSubTasksFailStillCompletes(t *testing.T) {
	h := newHarness()
	fail := errors.New("llm down")
	h.analyzer.summarize = func(context.Context, analyze.Request) (string, error) { return "", fail }
	h.analyzer.topics = func(context.Context, analyze.Request) ([]domain.Topic, error) { return nil, fail }
	h.analyzer.mindmap = func(context.Context, analyze.Request) (*domain.MindmapNode, error) { return nil, fail }
	h.analyzer.insights = func(context.Context, analyze.Request) ([]domain.Insight, error) { return nil, fail }
	id := h.start(t, domain.JobOptions{TranscribeAudio: true, AnalyzeContent: true})

	h.orch.Run(id)

	sess := h.get(t, id)
	if sess.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", sess.Status)
	}
	if sess.Analysis != nil {
		t.Fatalf("analysis = %+v, want absent", sess.Analysis)
	}
	if sess.Transcript == "" {
		t.Fatal("transcript must be preserved")
	}
}

// TestRunCancellationDuringTranscription records a cancelled terminal
// state with no error.
func TestRunCancellationDuringTranscription(t *testing.T) {
	h := newHarness()
	var id string
	h.transcriber.fn = func(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
		req.Progress(0, "upload")
		h.registry.Cancel(id)
		return transcribe.Result{}, jobs.ErrCancelled
	}
	id = h.start(t, domain.JobOptions{TranscribeAudio: true, AnalyzeContent: true})

	h.orch.Run(id)

	sess := h.get(t, id)
	if sess.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", sess.Status)
	}
	if sess.Error != "" {
		t.Fatalf("error = %q, want empty for cancellation", sess.Error)
	}
	if sess.Progress != transcriptionBounds.overall(0) {
		t.Fatalf("progress = %d, want frozen at stage start", sess.Progress)
	}
	if h.registry.Active(id) {
		t.Fatal("registry entry should be cleared")
	}
}

// TestRunCancellationSurvivesLateProgressWrite covers the race where
// the cancel handler records the cancelled status while the adapter is
// still running: a progress emission arriving after that write must
// not flip the session back into a running stage.
func TestRunCancellationSurvivesLateProgressWrite(t *testing.T) {
	h := newHarness()
	var id string
	h.transcriber.fn = func(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
		req.Progress(0, "upload")
		// What DELETE /jobs/:id does while the stage is in flight.
		h.registry.Cancel(id)
		sess, err := h.store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get session: %v", err)
		}
		if _, err := h.store.SetStatus(context.Background(), id, domain.StatusCancelled, sess.Progress, "Cancelled", ""); err != nil {
			t.Fatalf("cancel write: %v", err)
		}
		// The adapter has not observed the cancellation yet and emits
		// one more progress update before returning.
		req.Progress(50, "transcribing chunk")
		return transcribe.Result{}, jobs.ErrCancelled
	}
	id = h.start(t, domain.JobOptions{TranscribeAudio: true})

	h.orch.Run(id)

	sess := h.get(t, id)
	if sess.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled after late progress write", sess.Status)
	}
	if sess.Progress != transcriptionBounds.overall(0) {
		t.Fatalf("progress = %d, want frozen at cancellation", sess.Progress)
	}
	if sess.CurrentStep != "Cancelled" {
		t.Fatalf("step = %q, want Cancelled", sess.CurrentStep)
	}
}

// TestRunAbortsWhenSessionDeletedMidRun verifies the orchestrator
// stops writing once the session disappears.
func TestRunAbortsWhenSessionDeletedMidRun(t *testing.T) {
	h := newHarness()
	var id string
	h.extractor.fn = func(ctx context.Context, req extract.Request) (domain.ExtractionResult, error) {
		if err := h.store.Delete(context.Background(), id); err != nil {
			t.Fatalf("delete: %v", err)
		}
		return domain.ExtractionResult{AudioPath: "/tmp/a.mp3"}, nil
	}
	id = h.start(t, domain.JobOptions{TranscribeAudio: true})

	h.orch.Run(id)

	if _, err := h.store.Get(context.Background(), id); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected session to stay deleted, err = %v", err)
	}
	if h.registry.Active(id) {
		t.Fatal("registry entry should be cleared")
	}
}

// TestRunRecoversFromAdapterPanic maps a panic to failed instead of
// crashing the process.
func TestRunRecoversFromAdapterPanic(t *testing.T) {
	h := newHarness()
	h.extractor.fn = func(ctx context.Context, req extract.Request) (domain.ExtractionResult, error) {
		panic("adapter bug")
	}
	id := h.start(t, domain.JobOptions{})

	h.orch.Run(id)

	sess := h.get(t, id)
	if sess.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", sess.Status)
	}
	if sess.Error != "internal pipeline error" {
		t.Fatalf("error = %q, want generic message", sess.Error)
	}
}

// TestRerunAnalysisClearsStaleBundle verifies no blended old/new
// results: the bundle is absent while sub-tasks run.
func TestRerunAnalysisClearsStaleBundle(t *testing.T) {
	h := newHarness()
	id := h.start(t, domain.JobOptions{TranscribeAudio: true, AnalyzeContent: true})
	h.orch.Run(id)
	if sess := h.get(t, id); sess.Analysis == nil {
		t.Fatal("precondition: first run should produce analysis")
	}

	h.analyzer.summarize = func(ctx context.Context, req analyze.Request) (string, error) {
		sess := h.get(t, id)
		if sess.Analysis != nil {
			t.Fatalf("stale analysis still present during rerun: %+v", sess.Analysis)
		}
		return "fresh summary", nil
	}

	if err := h.registry.Register(id); err != nil {
		t.Fatalf("register rerun: %v", err)
	}
	h.orch.RerunAnalysis(id, AnalysisComprehensive)

	sess := h.get(t, id)
	if sess.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", sess.Status)
	}
	if sess.Analysis == nil || sess.Analysis.Summary != "fresh summary" {
		t.Fatalf("analysis = %+v, want fresh results", sess.Analysis)
	}
}

// TestRerunAnalysisSingleKind runs exactly one sub-task.
func TestRerunAnalysisSingleKind(t *testing.T) {
	h := newHarness()
	id := h.start(t, domain.JobOptions{TranscribeAudio: true, AnalyzeContent: false})
	h.orch.Run(id)

	topicCalls := 0
	h.analyzer.topics = func(ctx context.Context, req analyze.Request) ([]domain.Topic, error) {
		topicCalls++
		return []domain.Topic{{Name: "only-topics", Relevance: 1}}, nil
	}
	h.analyzer.summarize = func(context.Context, analyze.Request) (string, error) {
		t.Fatal("summary must not run for topics-only rerun")
		return "", nil
	}

	if err := h.registry.Register(id); err != nil {
		t.Fatalf("register rerun: %v", err)
	}
	h.orch.RerunAnalysis(id, AnalysisTopics)

	sess := h.get(t, id)
	if topicCalls != 1 {
		t.Fatalf("topic calls = %d, want 1", topicCalls)
	}
	if sess.Analysis == nil || len(sess.Analysis.Topics) != 1 || sess.Analysis.Topics[0].Name != "only-topics" {
		t.Fatalf("analysis = %+v", sess.Analysis)
	}
	if sess.Analysis.Summary != "" {
		t.Fatal("summary must stay absent for topics-only rerun")
	}
}

// TestRerunAnalysisWithoutTranscript fails the request path.
func TestRerunAnalysisWithoutTranscript(t *testing.T) {
	h := newHarness()
	id := h.start(t, domain.JobOptions{})
	h.orch.Run(id)

	if err := h.registry.Register(id); err != nil {
		t.Fatalf("register rerun: %v", err)
	}
	h.orch.RerunAnalysis(id, AnalysisComprehensive)

	sess := h.get(t, id)
	if sess.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", sess.Status)
	}
	if sess.Error == "" {
		t.Fatal("expected populated error")
	}
}

// TestRerunTranscriptionClearsTranscriptFields verifies stale
// transcript and analysis are gone before new work lands.
func TestRerunTranscriptionClearsTranscriptFields(t *testing.T) {
	h := newHarness()
	id := h.start(t, domain.JobOptions{TranscribeAudio: true, AnalyzeContent: true})
	h.orch.Run(id)

	h.transcriber.fn = func(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
		sess := h.get(t, id)
		if sess.Transcript != "" || sess.Analysis != nil {
			t.Fatal("stale transcript state present during rerun")
		}
		if req.Language != "de" {
			t.Fatalf("language = %q, want rerun override", req.Language)
		}
		return transcribe.Result{Text: "neu", Language: "de", Confidence: 0.8}, nil
	}

	if err := h.registry.Register(id); err != nil {
		t.Fatalf("register rerun: %v", err)
	}
	h.orch.RerunTranscription(id, "de")

	sess := h.get(t, id)
	if sess.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", sess.Status)
	}
	if sess.Transcript != "neu" || sess.TranscriptLanguage != "de" {
		t.Fatalf("transcript = %q lang = %q", sess.Transcript, sess.TranscriptLanguage)
	}
	if sess.Analysis == nil {
		t.Fatal("analysis should rerun for analyze-enabled jobs")
	}
}

// TestStageBoundsMapping checks the offset+scale arithmetic across the
// full adapter range.
func TestStageBoundsMapping(t *testing.T) {
	cases := []struct {
		bounds stageBounds
		p      int
		want   int
	}{
		{extractionBounds, 0, 0},
		{extractionBounds, 50, 30},
		{extractionBounds, 100, 60},
		{transcriptionBounds, 0, 60},
		{transcriptionBounds, 100, 90},
		{analysisBounds, 0, 90},
		{analysisBounds, 100, 100},
		{extractionBounds, -5, 0},
		{extractionBounds, 150, 60},
	}
	for _, tc := range cases {
		if got := tc.bounds.overall(tc.p); got != tc.want {
			t.Fatalf("overall(%d) with %+v = %d, want %d", tc.p, tc.bounds, got, tc.want)
		}
	}
}

// TestValidAnalysisKind covers the selector whitelist.
func TestValidAnalysisKind(t *testing.T) {
	for _, kind := range []AnalysisKind{AnalysisComprehensive, AnalysisSummary, AnalysisTopics, AnalysisMindmap, AnalysisInsights} {
		if !ValidAnalysisKind(kind) {
			t.Fatalf("%s should be valid", kind)
		}
	}
	if ValidAnalysisKind("sentiment") {
		t.Fatal("unknown kind should be rejected")
	}
}
