package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// CachedProvider 在内存中记忆单条文本的嵌入结果.
// 嵌入对同一模型和文本是确定性的, 因此缓存无需 TTL;
// 主要用于分类器示例集和重复查询, 键空间很小.
type CachedProvider struct {
	inner  Provider
	mu     sync.RWMutex
	memo   map[string][]float64
	logger *zap.Logger
}

// NewCachedProvider 包装一个嵌入提供者并缓存结果.
func NewCachedProvider(inner Provider, logger *zap.Logger) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{
		inner:  inner,
		memo:   make(map[string][]float64),
		logger: logger.With(zap.String("component", "embedding_cache")),
	}
}

func (c *CachedProvider) Name() string    { return c.inner.Name() }
func (c *CachedProvider) Dimensions() int { return c.inner.Dimensions() }

func (c *CachedProvider) key(inputType InputType, text string) string {
	sum := sha256.Sum256([]byte(c.inner.Name() + "\x00" + string(inputType) + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Embed 先查缓存, 仅对未命中的文本调用底层提供者.
func (c *CachedProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	if len(req.Input) == 0 {
		return nil, fmt.Errorf("embedding input is empty")
	}

	result := make([][]float64, len(req.Input))
	missing := make([]string, 0)
	missingIdx := make([]int, 0)

	c.mu.RLock()
	for i, text := range req.Input {
		if vec, ok := c.memo[c.key(req.InputType, text)]; ok {
			result[i] = vec
		} else {
			missing = append(missing, text)
			missingIdx = append(missingIdx, i)
		}
	}
	c.mu.RUnlock()

	if len(missing) > 0 {
		resp, err := c.inner.Embed(ctx, &EmbeddingRequest{
			Input:      missing,
			Model:      req.Model,
			Dimensions: req.Dimensions,
			InputType:  req.InputType,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != len(missing) {
			// 提供者契约被破坏时不缓存, 直接透传
			c.logger.Warn("embedding count mismatch, bypassing cache",
				zap.Int("requested", len(missing)),
				zap.Int("returned", len(resp.Embeddings)))
			return c.inner.Embed(ctx, req)
		}

		c.mu.Lock()
		for j, emb := range resp.Embeddings {
			result[missingIdx[j]] = emb.Embedding
			c.memo[c.key(req.InputType, missing[j])] = emb.Embedding
		}
		c.mu.Unlock()
	}

	embeddings := make([]EmbeddingData, len(result))
	for i, vec := range result {
		embeddings[i] = EmbeddingData{Index: i, Embedding: vec}
	}
	return &EmbeddingResponse{
		Provider:   c.inner.Name(),
		Model:      req.Model,
		Embeddings: embeddings,
	}, nil
}

// EmbedQuery 嵌入单个查询.
func (c *CachedProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	resp, err := c.Embed(ctx, &EmbeddingRequest{Input: []string{query}, InputType: InputTypeQuery})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0].Embedding, nil
}

// EmbedDocuments 嵌入多个文档.
func (c *CachedProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	resp, err := c.Embed(ctx, &EmbeddingRequest{Input: documents, InputType: InputTypeDocument})
	if err != nil {
		return nil, err
	}
	result := make([][]float64, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		result[i] = emb.Embedding
	}
	return result, nil
}
