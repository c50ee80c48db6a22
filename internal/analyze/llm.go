package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/codeinonenight/podcast-insight/internal/domain"
	"github.com/codeinonenight/podcast-insight/internal/jobs"
)

const summarySystemPrompt = `You are a podcast content analyst. Given a transcript, produce a clear
and concise summary in plain prose: 2-4 paragraphs covering what the
episode is about, the main arguments, and any conclusions. Respond with
the summary only.`

const topicsSystemPrompt = `You are a podcast content analyst. Extract the main topics discussed in
the transcript. Respond with a JSON array only, each element
{"name": string, "relevance": number between 0 and 1}, ordered by
relevance, at most 10 topics.`

const mindmapSystemPrompt = `You are a podcast content analyst. Build a hierarchical mindmap of the
transcript. Respond with JSON only, a single node
{"label": string, "children": [node, ...]} rooted at the episode theme,
at most 3 levels deep.`

const insightsSystemPrompt = `You are a podcast content analyst. Derive notable insights from the
transcript. Respond with a JSON array only, each element
{"kind": one of "takeaway"|"quote"|"recommendation", "text": string},
at most 8 insights.`

// LLMAnalyzer performs analysis through a chat-completions style LLM
// HTTP API.
type LLMAnalyzer struct {
	baseURL  string
	apiKey   string
	model    string
	maxChars int
	cancels  cancelCheck
	client   *http.Client
}

// NewLLMAnalyzer builds the API-backed analyzer. maxChars caps the
// transcript length submitted per call; zero means no ceiling.
func NewLLMAnalyzer(client *http.Client, baseURL, apiKey, model string, maxChars int, cancels cancelCheck) *LLMAnalyzer {
	if client == nil {
		client = http.DefaultClient
	}
	return &LLMAnalyzer{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		model:    model,
		maxChars: maxChars,
		cancels:  cancels,
		client:   client,
	}
}

// Summarize produces a prose summary of the transcript.
func (a *LLMAnalyzer) Summarize(ctx context.Context, req Request) (string, error) {
	reply, err := a.complete(ctx, req, summarySystemPrompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// ExtractTopics returns the transcript's main topics with relevance.
func (a *LLMAnalyzer) ExtractTopics(ctx context.Context, req Request) ([]domain.Topic, error) {
	reply, err := a.complete(ctx, req, topicsSystemPrompt)
	if err != nil {
		return nil, err
	}

	var topics []domain.Topic
	if err := json.Unmarshal(extractJSON(reply), &topics); err != nil {
		return nil, fmt.Errorf("parse topics reply: %w", err)
	}
	return topics, nil
}

// BuildMindmap returns a hierarchical content map of the transcript.
func (a *LLMAnalyzer) BuildMindmap(ctx context.Context, req Request) (*domain.MindmapNode, error) {
	reply, err := a.complete(ctx, req, mindmapSystemPrompt)
	if err != nil {
		return nil, err
	}

	var root domain.MindmapNode
	if err := json.Unmarshal(extractJSON(reply), &root); err != nil {
		return nil, fmt.Errorf("parse mindmap reply: %w", err)
	}
	if root.Label == "" {
		return nil, fmt.Errorf("mindmap reply has no root label")
	}
	return &root, nil
}

// DeriveInsights returns notable takeaways from the transcript.
func (a *LLMAnalyzer) DeriveInsights(ctx context.Context, req Request) ([]domain.Insight, error) {
	reply, err := a.complete(ctx, req, insightsSystemPrompt)
	if err != nil {
		return nil, err
	}

	var insights []domain.Insight
	if err := json.Unmarshal(extractJSON(reply), &insights); err != nil {
		return nil, fmt.Errorf("parse insights reply: %w", err)
	}
	return insights, nil
}

// chatRequest matches the chat-completions request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse matches the chat-completions response body.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// complete runs one chat-completion call and returns the reply text.
func (a *LLMAnalyzer) complete(ctx context.Context, req Request, systemPrompt string) (string, error) {
	if a.apiKey == "" {
		return "", fmt.Errorf("analysis API key is not configured")
	}
	if strings.TrimSpace(req.Transcript) == "" {
		return "", fmt.Errorf("transcript is empty")
	}
	if a.maxChars > 0 && len(req.Transcript) > a.maxChars {
		return "", fmt.Errorf("transcript exceeds analysis limit: %d characters", len(req.Transcript))
	}
	if !a.cancels.IsWanted(req.SessionID) {
		return "", jobs.ErrCancelled
	}

	payload := chatRequest{
		Model:       a.model,
		Temperature: 0.2,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(req)},
		},
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal analysis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("build analysis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call analysis API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read analysis response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("analysis API error (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse analysis response: %w", err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("analysis API returned empty reply")
	}

	return parsed.Choices[0].Message.Content, nil
}

// userPrompt assembles the transcript with its media context.
func userPrompt(req Request) string {
	var sb strings.Builder
	if req.Title != "" {
		fmt.Fprintf(&sb, "Episode: %s\n", req.Title)
	}
	if req.Author != "" {
		fmt.Fprintf(&sb, "Author: %s\n", req.Author)
	}
	if req.Duration > 0 {
		fmt.Fprintf(&sb, "Duration: %.0f seconds\n", req.Duration)
	}
	sb.WriteString("\nTranscript:\n")
	sb.WriteString(req.Transcript)
	return sb.String()
}

// extractJSON strips markdown code fences and surrounding prose from a
// model reply, returning the innermost JSON payload.
func extractJSON(reply string) []byte {
	trimmed := strings.TrimSpace(reply)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.IndexAny(trimmed, "[{")
	if start < 0 {
		return []byte(trimmed)
	}
	end := strings.LastIndexAny(trimmed, "]}")
	if end < start {
		return []byte(trimmed)
	}
	return []byte(trimmed[start : end+1])
}
