package analyze

import (
	"context"

	"github.com/codeinonenight/podcast-insight/internal/domain"
	"github.com/codeinonenight/podcast-insight/internal/jobs"
)

// MockAnalyzer returns deterministic analysis results. Individual
// sub-tasks can be failed independently to exercise partial-result
// handling.
type MockAnalyzer struct {
	cancels cancelCheck

	SummarizeErr error
	TopicsErr    error
	MindmapErr   error
	InsightsErr  error
}

// NewMockAnalyzer builds the canned analyzer.
func NewMockAnalyzer(cancels cancelCheck) *MockAnalyzer {
	return &MockAnalyzer{cancels: cancels}
}

// Summarize returns a canned summary.
func (m *MockAnalyzer) Summarize(_ context.Context, req Request) (string, error) {
	if !m.cancels.IsWanted(req.SessionID) {
		return "", jobs.ErrCancelled
	}
	if m.SummarizeErr != nil {
		return "", m.SummarizeErr
	}
	return "The episode walks through practical testing strategies for long-running pipelines.", nil
}

// ExtractTopics returns canned topics.
func (m *MockAnalyzer) ExtractTopics(_ context.Context, req Request) ([]domain.Topic, error) {
	if !m.cancels.IsWanted(req.SessionID) {
		return nil, jobs.ErrCancelled
	}
	if m.TopicsErr != nil {
		return nil, m.TopicsErr
	}
	return []domain.Topic{
		{Name: "testing", Relevance: 0.9},
		{Name: "concurrency", Relevance: 0.7},
	}, nil
}

// BuildMindmap returns a canned two-level map.
func (m *MockAnalyzer) BuildMindmap(_ context.Context, req Request) (*domain.MindmapNode, error) {
	if !m.cancels.IsWanted(req.SessionID) {
		return nil, jobs.ErrCancelled
	}
	if m.MindmapErr != nil {
		return nil, m.MindmapErr
	}
	return &domain.MindmapNode{
		Label: "Episode",
		Children: []domain.MindmapNode{
			{Label: "Testing"},
			{Label: "Concurrency"},
		},
	}, nil
}

// DeriveInsights returns canned insights.
func (m *MockAnalyzer) DeriveInsights(_ context.Context, req Request) ([]domain.Insight, error) {
	if !m.cancels.IsWanted(req.SessionID) {
		return nil, jobs.ErrCancelled
	}
	if m.InsightsErr != nil {
		return nil, m.InsightsErr
	}
	return []domain.Insight{
		{Kind: "takeaway", Text: "Inject fake collaborators behind small interfaces."},
	}, nil
}
