package rag

import (
	"context"
	"fmt"
	"testing"

	"github.com/BaSui01/kbrag/llm/rerank"
)

type fakeRerankProvider struct {
	results []rerank.RerankResult
	err     error
	gotTopN int
}

func (f *fakeRerankProvider) Name() string      { return "fake-rerank" }
func (f *fakeRerankProvider) MaxDocuments() int { return 100 }

func (f *fakeRerankProvider) Rerank(ctx context.Context, req *rerank.RerankRequest) (*rerank.RerankResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &rerank.RerankResponse{Results: f.results}, nil
}

func (f *fakeRerankProvider) RerankSimple(ctx context.Context, query string, documents []string, topN int) ([]rerank.RerankResult, error) {
	f.gotTopN = topN
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func TestRerankAdapter_ScoresByOriginalIndex(t *testing.T) {
	provider := &fakeRerankProvider{results: []rerank.RerankResult{
		{Index: 2, RelevanceScore: 0.9},
		{Index: 0, RelevanceScore: 0.4},
	}}
	adapter := NewRerankAdapter(provider)

	scores, err := adapter.Score(context.Background(), "q", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []float64{0.4, 0, 0.9}
	for i := range want {
		if scores[i] != want[i] {
			t.Errorf("score[%d] = %f, want %f", i, scores[i], want[i])
		}
	}
	// 打分覆盖全部片段, 截断交给检索器
	if provider.gotTopN != 3 {
		t.Errorf("expected topN=3, got %d", provider.gotTopN)
	}
}

func TestRerankAdapter_IgnoresOutOfRangeIndices(t *testing.T) {
	provider := &fakeRerankProvider{results: []rerank.RerankResult{
		{Index: 5, RelevanceScore: 0.9},
		{Index: -1, RelevanceScore: 0.8},
		{Index: 0, RelevanceScore: 0.3},
	}}
	adapter := NewRerankAdapter(provider)

	scores, err := adapter.Score(context.Background(), "q", []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scores[0] != 0.3 || scores[1] != 0 {
		t.Errorf("unexpected scores: %v", scores)
	}
}

func TestRerankAdapter_PropagatesError(t *testing.T) {
	provider := &fakeRerankProvider{err: fmt.Errorf("quota exceeded")}
	adapter := NewRerankAdapter(provider)

	if _, err := adapter.Score(context.Background(), "q", []string{"a"}); err == nil {
		t.Fatal("expected error from provider")
	}
}

func TestNewRerankAdapter_NilProvider(t *testing.T) {
	if adapter := NewRerankAdapter(nil); adapter != nil {
		t.Fatal("nil provider must yield a nil adapter")
	}
}
