package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ====== 混合检索器 ======

// HybridRetrieverConfig 配置混合检索管线。
type HybridRetrieverConfig struct {
	// TopK 最终返回的结果数。
	TopK int `json:"top_k" yaml:"top_k"`

	// Lambda MMR 相关性/多样性折衷系数。
	Lambda float64 `json:"lambda" yaml:"lambda"`

	// UseReranking 是否启用交叉编码器重排。
	UseReranking bool `json:"use_reranking" yaml:"use_reranking"`

	// UseExpansion 是否启用查询扩展。
	UseExpansion bool `json:"use_expansion" yaml:"use_expansion"`
}

// DefaultHybridRetrieverConfig 返回默认检索配置。
func DefaultHybridRetrieverConfig() HybridRetrieverConfig {
	return HybridRetrieverConfig{
		TopK:         5,
		Lambda:       0.7,
		UseReranking: true,
		UseExpansion: true,
	}
}

// HybridRetriever 把用户查询变成一组排好序、去过重、保证多样性的片段。
//
// 管线: 扩展 → 多查询向量检索 → 去重 → 重排 → MMR。
// 任一阶段失败退回前一阶段的输出; 整条增强管线失败时退回
// 基础单查询检索。Search 永不向调用方抛出。
type HybridRetriever struct {
	searcher VectorSearcher
	embedder Embedder
	reranker Reranker       // 可为 nil: 重排是可选的质量增强
	expander *QueryExpander // 可为 nil
	config   HybridRetrieverConfig
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewHybridRetriever 创建混合检索器。
func NewHybridRetriever(
	searcher VectorSearcher,
	embedder Embedder,
	reranker Reranker,
	expander *QueryExpander,
	config HybridRetrieverConfig,
	logger *zap.Logger,
) *HybridRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TopK <= 0 {
		config.TopK = 5
	}
	// λ=0（纯多样性）是合法配置, 只有越界值回落到默认
	if config.Lambda < 0 || config.Lambda > 1 {
		config.Lambda = 0.7
	}

	return &HybridRetriever{
		searcher: searcher,
		embedder: embedder,
		reranker: reranker,
		expander: expander,
		config:   config,
		logger:   logger.With(zap.String("component", "hybrid_retriever")),
		tracer:   otel.Tracer("kbrag/rag"),
	}
}

// Search 返回查询的 top-k 片段。k <= 0 时使用配置的 TopK。
// 失败降级为基础检索, 基础检索也失败时返回空列表, 永不返回错误。
func (r *HybridRetriever) Search(ctx context.Context, kbID, query string, k int) []Chunk {
	if k <= 0 {
		k = r.config.TopK
	}

	ctx, span := r.tracer.Start(ctx, "retriever.search",
		trace.WithAttributes(
			attribute.String("kb_id", kbID),
			attribute.Int("top_k", k),
		))
	defer span.End()

	results, err := r.enhancedSearch(ctx, kbID, query, k)
	if err == nil {
		span.SetAttributes(attribute.Int("results", len(results)))
		return results
	}
	r.logger.Warn("enhanced retrieval failed, falling back to basic search",
		zap.String("kb_id", kbID), zap.Error(err))

	results, err = r.basicSearch(ctx, kbID, query, k)
	if err != nil {
		r.logger.Error("basic search failed, returning empty result",
			zap.String("kb_id", kbID), zap.Error(err))
		return []Chunk{}
	}
	span.SetAttributes(attribute.Int("results", len(results)), attribute.Bool("fallback", true))
	return results
}

// enhancedSearch 完整的扩展+重排+MMR 管线。
func (r *HybridRetriever) enhancedSearch(ctx context.Context, kbID, query string, k int) ([]Chunk, error) {
	// 1. 查询扩展（失败内部退化为仅原查询）
	variants := []string{query}
	if r.config.UseExpansion && r.expander != nil {
		variants = r.expander.Expand(ctx, query)
	}

	// 原查询嵌入同时服务于多查询检索和 MMR 相关性
	queryEmbedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// 2. 多查询检索 + 按 chunk 身份去重
	candidates, err := r.multiQuerySearch(ctx, kbID, variants, queryEmbedding, k)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []Chunk{}, nil
	}

	// 3. 重排（不可用或失败时按相似度截断）
	candidates = r.rerankStage(ctx, query, candidates, k)

	// 4. MMR 多样性选择
	if err := r.ensureEmbeddings(ctx, candidates); err != nil {
		// 嵌入补算失败: 跳过 MMR, 用上一阶段顺序截断
		r.logger.Warn("candidate embedding backfill failed, skipping MMR", zap.Error(err))
		if len(candidates) > k {
			candidates = candidates[:k]
		}
		return candidates, nil
	}

	return applyMMR(candidates, queryEmbedding, k, r.config.Lambda), nil
}

// multiQuerySearch 并发地为每个查询变体做向量检索, 合并去重。
// 同一 chunk 出现在多个变体结果中时保留相似度最高的一次。
// 所有变体都失败才算失败; 部分失败只缩小候选集。
func (r *HybridRetriever) multiQuerySearch(ctx context.Context, kbID string, variants []string, queryEmbedding []float64, k int) ([]Chunk, error) {
	matchCount := 2 * k
	if matchCount < 10 {
		matchCount = 10
	}

	var (
		mu       sync.Mutex
		byID     = make(map[string]Chunk)
		searched int
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, variant := range variants {
		i, variant := i, variant
		g.Go(func() error {
			var embedded []float64
			if i == 0 {
				embedded = queryEmbedding
			} else {
				var err error
				embedded, err = r.embedder.EmbedQuery(gctx, variant)
				if err != nil {
					r.logger.Warn("variant embedding failed, skipping variant", zap.Error(err))
					return nil
				}
			}

			chunks, err := r.searcher.Search(gctx, kbID, embedded, matchCount)
			if err != nil {
				r.logger.Warn("vector search failed for variant", zap.Error(err))
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			searched++
			for _, c := range chunks {
				existing, ok := byID[c.ID]
				if !ok || c.Similarity > existing.Similarity {
					byID[c.ID] = c
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if searched == 0 {
		return nil, fmt.Errorf("vector search failed for all %d query variants", len(variants))
	}

	merged := make([]Chunk, 0, len(byID))
	for _, c := range byID {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})

	r.logger.Debug("multi-query retrieval merged",
		zap.Int("variants", len(variants)),
		zap.Int("unique_candidates", len(merged)))

	return merged, nil
}

// rerankStage 用交叉编码器对候选打分并截断到 min(2k, n)。
// 重排不可用或失败时退回相似度排序截断。
func (r *HybridRetriever) rerankStage(ctx context.Context, query string, candidates []Chunk, k int) []Chunk {
	keep := 2 * k
	if keep > len(candidates) {
		keep = len(candidates)
	}

	if !r.config.UseReranking || r.reranker == nil {
		return candidates[:keep]
	}

	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = c.Content
	}

	scores, err := r.reranker.Score(ctx, query, passages)
	if err != nil || len(scores) != len(candidates) {
		if err != nil {
			r.logger.Warn("reranking failed, keeping similarity order", zap.Error(err))
		} else {
			r.logger.Warn("reranker returned mismatched score count, keeping similarity order",
				zap.Int("expected", len(candidates)), zap.Int("got", len(scores)))
		}
		return candidates[:keep]
	}

	for i := range candidates {
		score := scores[i]
		candidates[i].RerankScore = &score
	}
	sort.Slice(candidates, func(i, j int) bool {
		return *candidates[i].RerankScore > *candidates[j].RerankScore
	})

	return candidates[:keep]
}

// ensureEmbeddings 为缺嵌入的候选按需补算嵌入。
func (r *HybridRetriever) ensureEmbeddings(ctx context.Context, candidates []Chunk) error {
	missing := make([]string, 0)
	missingIdx := make([]int, 0)
	for i, c := range candidates {
		if c.Embedding == nil {
			missing = append(missing, c.Content)
			missingIdx = append(missingIdx, i)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	embedded, err := r.embedder.EmbedDocuments(ctx, missing)
	if err != nil {
		return err
	}
	if len(embedded) != len(missing) {
		return fmt.Errorf("embedder returned %d vectors for %d texts", len(embedded), len(missing))
	}

	for j, idx := range missingIdx {
		candidates[idx].Embedding = embedded[j]
	}
	return nil
}

// basicSearch 单查询直接检索 top-k, 增强管线的兜底。
func (r *HybridRetriever) basicSearch(ctx context.Context, kbID, query string, k int) ([]Chunk, error) {
	queryEmbedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	chunks, err := r.searcher.Search(ctx, kbID, queryEmbedding, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return chunks, nil
}
