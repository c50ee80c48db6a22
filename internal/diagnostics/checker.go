package diagnostics

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/codeinonenight/podcast-insight/internal/config"
	"github.com/codeinonenight/podcast-insight/internal/domain"
)

// Checker validates external tools, filesystem paths, and API
// credentials the pipeline depends on.
type Checker struct {
	lookPath   func(string) (string, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report. Mock
// mode skips the tool and credential checks since nothing external is
// invoked.
func (c *Checker) Run(cfg *config.Config) domain.DiagnosticReport {
	var items []domain.DiagnosticItem
	if cfg.MockMode {
		items = append(items, domain.DiagnosticItem{
			ID:      "mock_mode",
			Name:    "Mock mode",
			Status:  domain.DiagnosticStatusPass,
			Message: "Mock mode is enabled; external tools and APIs are not used.",
		})
	} else {
		items = append(items,
			c.checkTool("yt-dlp", cfg.YtdlpPath),
			c.checkTool("ffmpeg", cfg.FfmpegPath),
			c.checkAPIKey("transcription_api", "Transcription API", cfg.Transcription.APIKey),
			c.checkAPIKey("analysis_api", "Analysis API", cfg.Analysis.APIKey),
		)
	}
	items = append(items, c.checkAudioDir(cfg.AudioDir))

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkTool verifies a required CLI executable is reachable.
func (c *Checker) checkTool(name, configured string) domain.DiagnosticItem {
	if configured == "" {
		configured = name
	}

	path, err := c.lookPath(configured)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      "tool_" + name,
			Name:    name,
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Tool not found: %s", configured),
			Hint:    "Install it and ensure the binary is on PATH, or set its path in the config file.",
		}
	}

	return domain.DiagnosticItem{
		ID:      "tool_" + name,
		Name:    name,
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkAPIKey reports whether an external API credential is present.
// A missing key is a failure in the report but not fatal at runtime:
// the affected stage degrades per the job's failure policy.
func (c *Checker) checkAPIKey(id, name, key string) domain.DiagnosticItem {
	if strings.TrimSpace(key) == "" {
		return domain.DiagnosticItem{
			ID:      id,
			Name:    name,
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("%s key is not configured.", name),
			Hint:    "Set the api_key in the config file or the matching environment variable.",
		}
	}
	return domain.DiagnosticItem{
		ID:      id,
		Name:    name,
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("%s key is configured.", name),
	}
}

// checkAudioDir validates audio directory existence and write access.
func (c *Checker) checkAudioDir(audioDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "audio_dir",
		Name: "Audio directory",
	}

	if strings.TrimSpace(audioDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Audio directory is empty."
		item.Hint = "Set a directory where extracted audio files can be written."
		return item
	}

	if err := c.mkdirAll(audioDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create audio directory: %s", audioDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(audioDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Audio directory is not writable: %s", audioDir)
		item.Hint = "Choose a writable directory for extracted audio."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", audioDir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}
