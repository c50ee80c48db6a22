package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codeinonenight/podcast-insight/internal/domain"
	"github.com/codeinonenight/podcast-insight/internal/jobs"
)

// YtdlpExtractor downloads audio through the yt-dlp CLI. The metadata
// probe and the download are two separate invocations so a failed
// probe costs no bandwidth.
type YtdlpExtractor struct {
	ytdlpPath string
	audioDir  string
	maxBytes  int64
	cancels   cancelCheck
	runner    commandRunner
	enricher  *PageEnricher
	stat      func(name string) (os.FileInfo, error)
	mkdirAll  func(path string, perm os.FileMode) error
}

// NewYtdlpExtractor constructs the production extractor with OS
// dependencies. maxBytes caps the downloaded audio size; zero means
// no ceiling.
func NewYtdlpExtractor(ytdlpPath, audioDir string, maxBytes int64, cancels cancelCheck, enricher *PageEnricher) *YtdlpExtractor {
	return &YtdlpExtractor{
		ytdlpPath: ytdlpPath,
		audioDir:  audioDir,
		maxBytes:  maxBytes,
		cancels:   cancels,
		runner:    &execRunner{},
		enricher:  enricher,
		stat:      os.Stat,
		mkdirAll:  os.MkdirAll,
	}
}

// probeMetadata matches the fields read from yt-dlp -J output.
type probeMetadata struct {
	Title     string  `json:"title"`
	Uploader  string  `json:"uploader"`
	Channel   string  `json:"channel"`
	Duration  float64 `json:"duration"`
	Thumbnail string  `json:"thumbnail"`
}

// Extract probes metadata, downloads the audio track, and verifies the
// resulting file. Cancellation is checked before each external call
// and after each progress emission.
func (e *YtdlpExtractor) Extract(ctx context.Context, req Request) (domain.ExtractionResult, error) {
	if strings.TrimSpace(req.URL) == "" {
		return domain.ExtractionResult{}, fmt.Errorf("input url is required")
	}
	if err := e.mkdirAll(e.audioDir, 0o755); err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("create audio directory: %w", err)
	}

	emit(req, 0, "Resolving media metadata")
	if !e.cancels.IsWanted(req.SessionID) {
		return domain.ExtractionResult{}, jobs.ErrCancelled
	}

	probeArgs := buildProbeArgs(req.URL)
	probeOut, err := e.runner.Run(ctx, e.ytdlpPath, probeArgs...)
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("yt-dlp metadata probe failed: %s", firstStderrLine(probeOut.Stderr, err))
	}

	var meta probeMetadata
	if jsonErr := json.Unmarshal([]byte(probeOut.Stdout), &meta); jsonErr != nil {
		return domain.ExtractionResult{}, fmt.Errorf("parse yt-dlp metadata: %w", jsonErr)
	}

	result := domain.ExtractionResult{
		Title:     meta.Title,
		Author:    meta.Uploader,
		Duration:  meta.Duration,
		Thumbnail: meta.Thumbnail,
	}
	if result.Author == "" {
		result.Author = meta.Channel
	}

	emit(req, 15, "Metadata resolved")
	if !e.cancels.IsWanted(req.SessionID) {
		return domain.ExtractionResult{}, jobs.ErrCancelled
	}

	audioPath := filepath.Join(e.audioDir, req.SessionID+".mp3")
	emit(req, 30, "Downloading audio")

	downloadArgs := buildDownloadArgs(req.URL, audioPath, e.maxBytes)
	downloadOut, err := e.runner.Run(ctx, e.ytdlpPath, downloadArgs...)
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("yt-dlp download failed: %s", firstStderrLine(downloadOut.Stderr, err))
	}

	emit(req, 95, "Verifying audio file")
	if !e.cancels.IsWanted(req.SessionID) {
		return domain.ExtractionResult{}, jobs.ErrCancelled
	}

	info, err := e.stat(audioPath)
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("yt-dlp completed but audio file is missing: %s", audioPath)
	}
	if e.maxBytes > 0 && info.Size() > e.maxBytes {
		return domain.ExtractionResult{}, fmt.Errorf("audio file exceeds size limit: %d bytes", info.Size())
	}

	result.AudioPath = audioPath
	result.FileSize = info.Size()

	if e.enricher != nil {
		e.enricher.Enrich(ctx, req.URL, &result)
	}

	emit(req, 100, "Audio extraction complete")
	return result, nil
}

// buildProbeArgs builds the metadata-only yt-dlp invocation.
func buildProbeArgs(url string) []string {
	return []string{
		"-J",
		"--no-playlist",
		"--no-warnings",
		url,
	}
}

// buildDownloadArgs builds the audio download invocation. yt-dlp
// enforces the size ceiling itself via --max-filesize so oversized
// media fails fast instead of filling the disk.
func buildDownloadArgs(url, audioPath string, maxBytes int64) []string {
	args := []string{
		"-x",
		"--audio-format", "mp3",
		"--no-playlist",
		"--no-warnings",
		"-o", audioPath,
	}
	if maxBytes > 0 {
		args = append(args, "--max-filesize", fmt.Sprintf("%d", maxBytes))
	}
	return append(args, url)
}

// firstStderrLine extracts a displayable error from command output,
// falling back to the exec error.
func firstStderrLine(stderr string, err error) string {
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return err.Error()
}

// NewYtdlpExtractorForTests constructs an extractor with injectable
// dependencies.
func NewYtdlpExtractorForTests(
	ytdlpPath, audioDir string,
	maxBytes int64,
	cancels cancelCheck,
	runner commandRunner,
	stat func(name string) (os.FileInfo, error),
) *YtdlpExtractor {
	return &YtdlpExtractor{
		ytdlpPath: ytdlpPath,
		audioDir:  audioDir,
		maxBytes:  maxBytes,
		cancels:   cancels,
		runner:    runner,
		stat:      stat,
		mkdirAll:  os.MkdirAll,
	}
}
