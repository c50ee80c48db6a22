package server

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codeinonenight/podcast-insight/internal/domain"
	"github.com/codeinonenight/podcast-insight/internal/jobs"
	"github.com/codeinonenight/podcast-insight/internal/pipeline"
	"github.com/codeinonenight/podcast-insight/internal/session"
)

// DiagnosticsFunc produces a startup diagnostics report on demand.
type DiagnosticsFunc func() domain.DiagnosticReport

// Server exposes the job API over HTTP.
type Server struct {
	store       session.Store
	registry    *jobs.Registry
	events      *jobs.EventBus
	orch        *pipeline.Orchestrator
	diagnostics DiagnosticsFunc
	logger      *slog.Logger
}

// New wires the HTTP layer with its collaborators.
func New(
	store session.Store,
	registry *jobs.Registry,
	events *jobs.EventBus,
	orch *pipeline.Orchestrator,
	diagnostics DiagnosticsFunc,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:       store,
		registry:    registry,
		events:      events,
		orch:        orch,
		diagnostics: diagnostics,
		logger:      logger,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLog())

	router.POST("/jobs", s.createJob)
	router.GET("/jobs", s.listJobs)
	router.GET("/jobs/:id", s.getJob)
	router.DELETE("/jobs/:id", s.cancelJob)
	router.POST("/jobs/:id/transcribe", s.rerunTranscription)
	router.POST("/jobs/:id/analyze", s.rerunAnalysis)
	router.GET("/jobs/:id/events", s.jobEvents)
	router.GET("/healthz", s.healthz)
	router.GET("/diagnostics", s.runDiagnostics)

	return router
}

// requestLog emits one structured line per request.
func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
		)
	}
}

type createJobRequest struct {
	URL             string `json:"url" binding:"required"`
	TranscribeAudio *bool  `json:"transcribeAudio"`
	AnalyzeContent  *bool  `json:"analyzeContent"`
	Language        string `json:"language"`
}

// createJob validates the submission, persists a pending session, and
// launches the pipeline detached from the request.
func (s *Server) createJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	parsed, err := url.ParseRequestURI(req.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be a valid http or https URL"})
		return
	}

	// Both stages default to on; callers opt out explicitly.
	opts := domain.JobOptions{
		TranscribeAudio: true,
		AnalyzeContent:  true,
		Language:        req.Language,
	}
	if req.TranscribeAudio != nil {
		opts.TranscribeAudio = *req.TranscribeAudio
	}
	if req.AnalyzeContent != nil {
		opts.AnalyzeContent = *req.AnalyzeContent
	}
	if opts.AnalyzeContent && !opts.TranscribeAudio {
		c.JSON(http.StatusBadRequest, gin.H{"error": "analyzeContent requires transcribeAudio"})
		return
	}
	if opts.Language == "" {
		opts.Language = "auto"
	}

	platform := domain.DetectPlatform(req.URL)
	sess, err := s.store.Create(c.Request.Context(), req.URL, platform, opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	if err := s.registry.Register(sess.ID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "job already running for this session"})
		return
	}
	go s.orch.Run(sess.ID)

	c.JSON(http.StatusAccepted, gin.H{
		"sessionId": sess.ID,
		"status":    sess.Status,
		"platform":  sess.Platform,
	})
}

// getJob returns the full session record for polling.
func (s *Server) getJob(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess)
}

// listJobs returns all sessions, newest first.
func (s *Server) listJobs(c *gin.Context) {
	sessions, err := s.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// cancelJob requests cooperative cancellation of a running job and
// records the cancelled state right away so pollers see it without
// waiting for the pipeline to unwind.
func (s *Server) cancelJob(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	// Cancel reports false for finished jobs and repeat cancellations,
	// both of which read as "no active job" to the caller.
	if !s.registry.Cancel(sess.ID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active job for session"})
		return
	}

	updated, err := s.store.SetStatus(c.Request.Context(), sess.ID, domain.StatusCancelled, sess.Progress, "Cancelled", "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record cancellation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId": updated.ID,
		"status":    updated.Status,
	})
}

type transcribeRequest struct {
	Language string `json:"language"`
}

// rerunTranscription restarts the transcription stage on a finished
// session that has extracted audio.
func (s *Server) rerunTranscription(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}

	var req transcribeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if sess.Extraction == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no extracted audio available"})
		return
	}
	if !domain.CanTransition(sess.Status, domain.StatusTranscribing) {
		c.JSON(http.StatusConflict, gin.H{"error": "job is not in a state that allows transcription"})
		return
	}
	if err := s.registry.Register(sess.ID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "job already running for this session"})
		return
	}
	go s.orch.RerunTranscription(sess.ID, req.Language)

	c.JSON(http.StatusAccepted, gin.H{
		"sessionId": sess.ID,
		"status":    domain.StatusTranscribing,
	})
}

type analyzeRequest struct {
	AnalysisType string `json:"analysisType"`
}

// rerunAnalysis restarts analysis sub-tasks on a session that has a
// transcript.
func (s *Server) rerunAnalysis(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}

	var req analyzeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	kind := pipeline.AnalysisKind(req.AnalysisType)
	if kind == "" {
		kind = pipeline.AnalysisComprehensive
	}
	if !pipeline.ValidAnalysisKind(kind) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown analysis type: " + req.AnalysisType})
		return
	}
	if sess.Transcript == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no transcript available"})
		return
	}
	if !domain.CanTransition(sess.Status, domain.StatusAnalyzing) {
		c.JSON(http.StatusConflict, gin.H{"error": "job is not in a state that allows analysis"})
		return
	}
	if err := s.registry.Register(sess.ID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "job already running for this session"})
		return
	}
	go s.orch.RerunAnalysis(sess.ID, kind)

	c.JSON(http.StatusAccepted, gin.H{
		"sessionId":    sess.ID,
		"status":       domain.StatusAnalyzing,
		"analysisType": kind,
	})
}

// jobEvents returns the event trail for a session, optionally only
// events after ?since=<seq>.
func (s *Server) jobEvents(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}

	var since int64
	if raw := c.Query("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an integer"})
			return
		}
		since = parsed
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId": sess.ID,
		"events":    s.events.Since(sess.ID, since),
	})
}

// healthz reports service liveness.
func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// runDiagnostics executes the startup checks on demand.
func (s *Server) runDiagnostics(c *gin.Context) {
	if s.diagnostics == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "diagnostics not configured"})
		return
	}
	report := s.diagnostics()
	status := http.StatusOK
	if report.HasFailures {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// lookup fetches the session for the :id path param, writing the 404
// response itself when missing.
func (s *Server) lookup(c *gin.Context) (domain.Session, bool) {
	sess, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		}
		return domain.Session{}, false
	}
	return sess, true
}
