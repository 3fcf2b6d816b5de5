// Package kbrag provides a top-level convenience entry point for assembling
// the knowledge-base query engine with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/kbrag"
//
//	svc, err := kbrag.New(
//	    kbrag.WithVectorSearcher(mySearcher),
//	    kbrag.WithConfig(cfg),
//	)
//	resp := svc.QueryKB(ctx, "kb-1", "total sales by region")
//
// Collaborators not supplied are built from the configuration; the vector
// searcher has no default and must always be provided.
package kbrag

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/kbrag/config"
	"github.com/BaSui01/kbrag/internal/cache"
	"github.com/BaSui01/kbrag/internal/metrics"
	"github.com/BaSui01/kbrag/llm"
	"github.com/BaSui01/kbrag/llm/embedding"
	"github.com/BaSui01/kbrag/llm/rerank"
	"github.com/BaSui01/kbrag/rag"
	"github.com/BaSui01/kbrag/structured"
)

// Option configures the service created by [New].
type Option func(*options)

type options struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry prometheus.Registerer

	searcher    rag.VectorSearcher
	embedder    embedding.Provider
	reranker    rerank.Provider
	completion  rag.CompletionProvider
	descriptors structured.DescriptorSource
}

// WithConfig sets the full configuration. Defaults to config.DefaultConfig().
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithVectorSearcher sets the vector-search collaborator. Required.
func WithVectorSearcher(s rag.VectorSearcher) Option {
	return func(o *options) { o.searcher = s }
}

// WithEmbedder sets a pre-built embedding provider, bypassing config-based
// construction.
func WithEmbedder(p embedding.Provider) Option {
	return func(o *options) { o.embedder = p }
}

// WithReranker sets a pre-built rerank provider.
func WithReranker(p rerank.Provider) Option {
	return func(o *options) { o.reranker = p }
}

// WithCompletionProvider sets a pre-built completion provider.
func WithCompletionProvider(p rag.CompletionProvider) Option {
	return func(o *options) { o.completion = p }
}

// WithDescriptorSource sets the structured-data descriptor source,
// bypassing the config-based catalog store.
func WithDescriptorSource(s structured.DescriptorSource) Option {
	return func(o *options) { o.descriptors = s }
}

// WithMetricsRegistry sets the prometheus registry for the collector.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// Service 组装好的知识库问答服务, 持有引擎和需要统一关闭的资源。
type Service struct {
	engine  *rag.Engine
	pool    *structured.EnginePool
	catalog *structured.CatalogStore
	shared  *cache.Manager
	logger  *zap.Logger
}

// New assembles a Service from options and configuration.
func New(opts ...Option) (*Service, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.searcher == nil {
		return nil, fmt.Errorf("vector searcher is required: use WithVectorSearcher")
	}
	if o.cfg == nil {
		o.cfg = config.DefaultConfig()
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	cfg := o.cfg

	// 嵌入提供商
	embedder := o.embedder
	if embedder == nil {
		var err error
		embedder, err = buildEmbedder(cfg)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Embedding.CacheEnabled {
		embedder = embedding.NewCachedProvider(embedder, o.logger)
	}

	// 补全提供商（可缺省: 引擎降级为仅检索）
	completion := o.completion
	if completion == nil && cfg.LLM.APIKey != "" {
		completion = llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: float32(cfg.LLM.Temperature),
			Timeout:     cfg.LLM.Timeout,
		}, o.logger)
	}

	// 重排提供商（可缺省: 检索器按相似度排序）
	reranker := o.reranker
	if reranker == nil && cfg.Rerank.Enabled && cfg.Rerank.APIKey != "" {
		cohereCfg := rerank.DefaultCohereConfig()
		cohereCfg.APIKey = cfg.Rerank.APIKey
		if cfg.Rerank.BaseURL != "" {
			cohereCfg.BaseURL = cfg.Rerank.BaseURL
		}
		if cfg.Rerank.Model != "" {
			cohereCfg.Model = cfg.Rerank.Model
		}
		if cfg.Rerank.Timeout > 0 {
			cohereCfg.Timeout = cfg.Rerank.Timeout
		}
		reranker = rerank.NewCohereProvider(cohereCfg)
	}

	svc := &Service{logger: o.logger}

	// 指标
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, o.registry, o.logger)
	}

	// 结构化数据面
	var descriptorSource rag.DescriptorSource
	var sqlExec rag.SQLExecutor
	source := o.descriptors
	if source == nil && cfg.Catalog.DSN != "" {
		catalog, err := structured.NewCatalogStore(structured.CatalogStoreConfig{DSN: cfg.Catalog.DSN}, o.logger)
		if err != nil {
			return nil, err
		}
		svc.catalog = catalog
		source = catalog
	}
	if source != nil {
		if cfg.Redis.Enabled {
			shared, err := cache.NewManager(cache.Config{
				Addr:       cfg.Redis.Addr,
				Password:   cfg.Redis.Password,
				DB:         cfg.Redis.DB,
				PoolSize:   cfg.Redis.PoolSize,
				DefaultTTL: cfg.Retrieval.MetadataTTL,
			}, o.logger)
			if err != nil {
				return nil, err
			}
			svc.shared = shared
		}

		metaCfg := structured.DefaultMetadataCacheConfig()
		metaCfg.TTL = cfg.Retrieval.MetadataTTL
		descriptorSource = structured.NewMetadataCache(source, svc.shared, metaCfg, collector, o.logger)

		svc.pool = structured.NewEnginePool(o.logger)
		sqlExec = structured.NewSQLRunner(svc.pool, o.logger)
	}

	// 检索管线
	classifierCfg := rag.DefaultClassifierConfig()
	classifierCfg.Threshold = cfg.Retrieval.ClassifyThreshold
	classifier := rag.NewQueryClassifier(embedder, classifierCfg, o.logger)

	var expander *rag.QueryExpander
	if cfg.Retrieval.UseExpansion && completion != nil {
		expanderCfg := rag.DefaultExpanderConfig()
		expanderCfg.MaxParaphrases = cfg.Retrieval.MaxParaphrases
		expander = rag.NewQueryExpander(completion, expanderCfg, o.logger)
	}

	retrieverCfg := rag.DefaultHybridRetrieverConfig()
	retrieverCfg.TopK = cfg.Retrieval.TopK
	retrieverCfg.Lambda = cfg.Retrieval.Lambda
	retrieverCfg.UseExpansion = cfg.Retrieval.UseExpansion
	retrieverCfg.UseReranking = reranker != nil
	var rerankAdapter rag.Reranker
	if reranker != nil {
		rerankAdapter = rag.NewRerankAdapter(reranker)
	}
	retriever := rag.NewHybridRetriever(
		o.searcher, embedder, rerankAdapter, expander, retrieverCfg, o.logger)

	engineCfg := rag.DefaultEngineConfig()
	engineCfg.TopK = cfg.Retrieval.TopK
	engineCfg.EnableSQL = cfg.Retrieval.EnableSQL
	svc.engine = rag.NewEngine(
		classifier,
		retriever,
		rag.NewContextBuilder(o.logger),
		descriptorSource,
		sqlExec,
		completion,
		collector,
		engineCfg,
		o.logger,
	)

	return svc, nil
}

// buildEmbedder 按配置构造嵌入提供商。
func buildEmbedder(cfg *config.Config) (embedding.Provider, error) {
	switch cfg.Embedding.Provider {
	case "openai", "":
		openaiCfg := embedding.DefaultOpenAIConfig()
		openaiCfg.APIKey = cfg.Embedding.APIKey
		if cfg.Embedding.BaseURL != "" {
			openaiCfg.BaseURL = cfg.Embedding.BaseURL
		}
		if cfg.Embedding.Model != "" {
			openaiCfg.Model = cfg.Embedding.Model
		}
		if cfg.Embedding.Timeout > 0 {
			openaiCfg.Timeout = cfg.Embedding.Timeout
		}
		return embedding.NewOpenAIProvider(openaiCfg), nil
	case "jina":
		jinaCfg := embedding.DefaultJinaConfig()
		jinaCfg.APIKey = cfg.Embedding.APIKey
		if cfg.Embedding.BaseURL != "" {
			jinaCfg.BaseURL = cfg.Embedding.BaseURL
		}
		if cfg.Embedding.Model != "" {
			jinaCfg.Model = cfg.Embedding.Model
		}
		if cfg.Embedding.Timeout > 0 {
			jinaCfg.Timeout = cfg.Embedding.Timeout
		}
		return embedding.NewJinaProvider(jinaCfg), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

// Engine returns the underlying query engine.
func (s *Service) Engine() *rag.Engine {
	return s.engine
}

// QueryKB runs one end-to-end knowledge-base query.
func (s *Service) QueryKB(ctx context.Context, kbID, query string) *rag.Response {
	return s.engine.QueryKB(ctx, kbID, query)
}

// Close releases pooled engines and shared connections.
func (s *Service) Close() error {
	var firstErr error
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			firstErr = err
		}
	}
	if s.catalog != nil {
		if err := s.catalog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.shared != nil {
		if err := s.shared.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
