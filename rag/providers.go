package rag

import (
	"context"

	"github.com/BaSui01/kbrag/llm/rerank"
)

// RerankAdapter 把 llm/rerank.Provider 适配为 Reranker 接口。
type RerankAdapter struct {
	provider rerank.Provider
}

// NewRerankAdapter 包装重排提供商。provider 为 nil 时返回 nil,
// 检索器据此按相似度排序降级。
func NewRerankAdapter(provider rerank.Provider) *RerankAdapter {
	if provider == nil {
		return nil
	}
	return &RerankAdapter{provider: provider}
}

// Score 对所有片段打分, 返回与 passages 等长且顺序一致的分数。
func (a *RerankAdapter) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	results, err := a.provider.RerankSimple(ctx, query, passages, len(passages))
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(passages))
	for _, r := range results {
		if r.Index >= 0 && r.Index < len(scores) {
			scores[r.Index] = r.RelevanceScore
		}
	}
	return scores, nil
}
