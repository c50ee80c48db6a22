package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/codeinonenight/podcast-insight/internal/jobs"
)

// HTTPTranscriber uploads audio to a whisper-compatible speech-to-text
// HTTP API and normalizes the response.
type HTTPTranscriber struct {
	baseURL  string
	apiKey   string
	model    string
	maxBytes int64
	cancels  cancelCheck
	client   *http.Client
}

// NewHTTPTranscriber builds the API-backed transcriber. maxBytes caps
// the upload size; zero means no ceiling.
func NewHTTPTranscriber(client *http.Client, baseURL, apiKey, model string, maxBytes int64, cancels cancelCheck) *HTTPTranscriber {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTranscriber{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		model:    model,
		maxBytes: maxBytes,
		cancels:  cancels,
		client:   client,
	}
}

// apiResponse matches the transcription endpoint's JSON body.
type apiResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Segments []struct {
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
		Text         string  `json:"text"`
		AvgLogprob   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

// Transcribe uploads the audio file as multipart form data and parses
// the transcript out of the response.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, req Request) (Result, error) {
	if t.apiKey == "" {
		return Result{}, fmt.Errorf("transcription API key is not configured")
	}

	info, err := os.Stat(req.AudioPath)
	if err != nil {
		return Result{}, fmt.Errorf("audio file unavailable: %s", req.AudioPath)
	}
	if t.maxBytes > 0 && info.Size() > t.maxBytes {
		return Result{}, fmt.Errorf("audio file exceeds upload limit: %d bytes", info.Size())
	}

	emit(req, 0, "Uploading audio for transcription")
	if !t.cancels.IsWanted(req.SessionID) {
		return Result{}, jobs.ErrCancelled
	}

	body, contentType, err := t.buildUpload(req)
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return Result{}, fmt.Errorf("build transcription request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("call transcription API: %w", err)
	}
	defer resp.Body.Close()

	emit(req, 80, "Processing transcription response")
	if !t.cancels.IsWanted(req.SessionID) {
		return Result{}, jobs.ErrCancelled
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read transcription response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("transcription API error (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, fmt.Errorf("parse transcription response: %w", err)
	}
	if strings.TrimSpace(parsed.Text) == "" {
		return Result{}, fmt.Errorf("transcription API returned empty text")
	}

	result := Result{
		Text:     strings.TrimSpace(parsed.Text),
		Language: parsed.Language,
	}
	for _, seg := range parsed.Segments {
		result.Segments = append(result.Segments, Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		})
	}
	result.Confidence = confidenceFromSegments(parsed)

	emit(req, 100, "Transcription complete")
	return result, nil
}

// buildUpload assembles the multipart request body.
func (t *HTTPTranscriber) buildUpload(req Request) (io.Reader, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", t.model); err != nil {
		return nil, "", fmt.Errorf("write model field: %w", err)
	}
	if lang := strings.TrimSpace(req.Language); lang != "" && !strings.EqualFold(lang, "auto") {
		if err := writer.WriteField("language", lang); err != nil {
			return nil, "", fmt.Errorf("write language field: %w", err)
		}
	}

	file, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, "", fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	part, err := writer.CreateFormFile("file", filepath.Base(req.AudioPath))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("copy audio into request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize upload body: %w", err)
	}

	return body, writer.FormDataContentType(), nil
}

// confidenceFromSegments derives a rough 0-1 confidence from segment
// log probabilities; 0 when the API provides none.
func confidenceFromSegments(parsed apiResponse) float64 {
	if len(parsed.Segments) == 0 {
		return 0
	}

	var sum float64
	for _, seg := range parsed.Segments {
		p := 1 + seg.AvgLogprob
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		sum += p
	}
	return sum / float64(len(parsed.Segments))
}
