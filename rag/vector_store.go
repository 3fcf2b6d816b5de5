package rag

import (
	"context"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ====== 内存向量存储（用于测试和小规模应用）======

// InMemoryVectorStore 按知识库分组的内存向量存储。
type InMemoryVectorStore struct {
	mu     sync.RWMutex
	chunks map[string][]Chunk // kbID -> chunks
	logger *zap.Logger
}

// NewInMemoryVectorStore 创建内存向量存储。
func NewInMemoryVectorStore(logger *zap.Logger) *InMemoryVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorStore{
		chunks: make(map[string][]Chunk),
		logger: logger,
	}
}

// AddChunks 向指定知识库添加 chunk。
func (s *InMemoryVectorStore) AddChunks(kbID string, chunks []Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chunks[kbID] = append(s.chunks[kbID], chunks...)

	s.logger.Info("chunks added to vector store",
		zap.String("kb_id", kbID),
		zap.Int("count", len(chunks)),
		zap.Int("total", len(s.chunks[kbID])))
}

// Search 余弦相似度检索。
func (s *InMemoryVectorStore) Search(ctx context.Context, kbID string, queryEmbedding []float64, matchCount int) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.chunks[kbID]
	if len(stored) == 0 {
		return []Chunk{}, nil
	}

	results := make([]Chunk, 0, len(stored))
	for _, c := range stored {
		if c.Embedding == nil {
			continue
		}
		copied := c
		copied.Similarity = cosineSimilarity(queryEmbedding, c.Embedding)
		results = append(results, copied)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if matchCount > len(results) {
		matchCount = len(results)
	}
	return results[:matchCount], nil
}

// ====== 功用函数 ======

// cosineSimilarity 计算余弦相似度。维度不一致或零向量返回 0。
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// clamp01 把分数截断到 [0,1]。
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
