package rag

import "context"

// Chunk 一个检索内容单元。内容在入库后不可变;
// 检索管线只在查询作用域的副本上标注分数, 从不回写。
type Chunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"chunk_metadata,omitempty"`
	Embedding  []float64      `json:"embedding,omitempty"`

	// Similarity 由向量检索填充, 每次查询重新计算。
	Similarity float64 `json:"similarity"`

	// RerankScore 仅在重排后填充; 未重排的 chunk 保持 nil。
	RerankScore *float64 `json:"rerank_score,omitempty"`
}

// QueryType 查询分类类别。
type QueryType string

const (
	QueryTypeDocumentQA QueryType = "document_qa"
	QueryTypeStructured QueryType = "structured_query"
	QueryTypePredictive QueryType = "predictive"
	QueryTypeHybrid     QueryType = "hybrid"
)

// Classification 一次查询分类的结果。每次查询重新计算, 从不持久化。
type Classification struct {
	Type       QueryType             `json:"type"`
	Confidence float64               `json:"confidence"`
	Scores     map[QueryType]float64 `json:"scores"`
}

// VectorSearcher 向量相似度检索的外部协作者接口。
// 实现必须容忍同一逻辑查询带着多个不同嵌入被多次调用（多查询检索）。
type VectorSearcher interface {
	// Search 返回与 queryEmbedding 最相似的 matchCount 个 chunk,
	// 按相似度降序, Similarity 字段已填充。
	Search(ctx context.Context, kbID string, queryEmbedding []float64, matchCount int) ([]Chunk, error)
}

// Embedder 查询/文档嵌入的窄接口。
// llm/embedding.Provider 天然满足该接口。
type Embedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float64, error)
	EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error)
}

// Reranker 查询-片段对的交叉编码器打分接口。
// 返回与 passages 等长且顺序一致的分数, 分数越高越相关。
type Reranker interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// CompletionProvider 基于 LLM 的文本补全接口。
type CompletionProvider interface {
	// Complete 为给定提示生成补全。
	Complete(ctx context.Context, prompt string) (string, error)
}
