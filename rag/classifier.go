package rag

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ====== 语义查询分类 ======

// ClassifierConfig 配置查询分类器。
type ClassifierConfig struct {
	// Threshold 类别分数进入候选集的最低值, 取值 [0, 1]。
	// 多个类别过线 → hybrid; 无类别过线 → document_qa。
	// 显式的零按字面生效（所有类别过线）; 越界值回落到 0.6。
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// MaxWeight/MeanWeight 组合示例相似度的权重。
	// 纯 max 对单个巧合示例过于敏感, 纯 mean 会稀释明确命中。
	MaxWeight  float64 `json:"max_weight" yaml:"max_weight"`
	MeanWeight float64 `json:"mean_weight" yaml:"mean_weight"`

	// Exemplars 每个类别的示例查询集。
	Exemplars map[QueryType][]string `json:"-" yaml:"-"`
}

// DefaultClassifierConfig 返回默认分类配置。
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		Threshold:  0.6,
		MaxWeight:  0.7,
		MeanWeight: 0.3,
		Exemplars:  defaultExemplars(),
	}
}

// defaultExemplars 三个基础类别各 5 条示例查询。
// hybrid 不设示例集: 它由多类别同时过线推导得出。
func defaultExemplars() map[QueryType][]string {
	return map[QueryType][]string{
		QueryTypeDocumentQA: {
			"What does the report say about customer churn?",
			"Summarize the key findings of this document",
			"What is the definition of gross margin in the handbook?",
			"Which section discusses the refund policy?",
			"Explain the methodology described in the paper",
		},
		QueryTypeStructured: {
			"What is the total sales by region?",
			"Show the average order value per month",
			"How many rows have status equal to failed?",
			"List the top 10 customers by revenue",
			"Count the orders placed in March grouped by country",
		},
		QueryTypePredictive: {
			"Forecast next quarter's revenue",
			"Predict the sales for the next six months",
			"What will the demand look like next year?",
			"Project the user growth trend going forward",
			"Estimate future inventory needs based on history",
		},
	}
}

// QueryClassifier 用示例嵌入相似度决定查询走哪些下游处理路径。
// 分类失败永远不阻塞整体查询: 任何内部错误都降级为
// {document_qa, 0.0, 空分数表}。
type QueryClassifier struct {
	embedder Embedder
	config   ClassifierConfig
	logger   *zap.Logger

	// 示例嵌入懒加载一次, 之后只读。
	mu           sync.RWMutex
	exemplarVecs map[QueryType][][]float64
}

// NewQueryClassifier 创建查询分类器。
func NewQueryClassifier(embedder Embedder, config ClassifierConfig, logger *zap.Logger) *QueryClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Threshold < 0 || config.Threshold > 1 {
		config.Threshold = 0.6
	}
	if config.MaxWeight == 0 && config.MeanWeight == 0 {
		config.MaxWeight, config.MeanWeight = 0.7, 0.3
	}
	if config.Exemplars == nil {
		config.Exemplars = defaultExemplars()
	}

	return &QueryClassifier{
		embedder: embedder,
		config:   config,
		logger:   logger.With(zap.String("component", "query_classifier")),
	}
}

// fallbackClassification 分类失败时的安全默认值。
func fallbackClassification() Classification {
	return Classification{
		Type:       QueryTypeDocumentQA,
		Confidence: 0.0,
		Scores:     map[QueryType]float64{},
	}
}

// Classify 对查询做语义分类。永不返回错误。
func (c *QueryClassifier) Classify(ctx context.Context, query string) Classification {
	exemplars, err := c.exemplarEmbeddings(ctx)
	if err != nil {
		c.logger.Warn("exemplar embedding failed, using default classification", zap.Error(err))
		return fallbackClassification()
	}

	queryVec, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		c.logger.Warn("query embedding failed, using default classification", zap.Error(err))
		return fallbackClassification()
	}

	scores := make(map[QueryType]float64, len(exemplars))
	for qt, vecs := range exemplars {
		scores[qt] = c.categoryScore(queryVec, vecs)
	}

	var best QueryType
	bestScore := -1.0
	cleared := 0
	for qt, score := range scores {
		if score > bestScore {
			bestScore = score
			best = qt
		}
		if score >= c.config.Threshold {
			cleared++
		}
	}

	result := Classification{Confidence: bestScore, Scores: scores}
	switch {
	case cleared > 1:
		result.Type = QueryTypeHybrid
	case bestScore < c.config.Threshold:
		// 低置信度走最便宜也最通用的路径
		result.Type = QueryTypeDocumentQA
	default:
		result.Type = best
	}

	c.logger.Debug("query classified",
		zap.String("type", string(result.Type)),
		zap.Float64("confidence", result.Confidence))

	return result
}

// categoryScore = MaxWeight*max(sims) + MeanWeight*mean(sims)。
// 相似度先截断到 [0,1], 凸组合保证结果仍在 [0,1]。
func (c *QueryClassifier) categoryScore(queryVec []float64, exemplarVecs [][]float64) float64 {
	if len(exemplarVecs) == 0 {
		return 0.0
	}

	maxSim := 0.0
	sumSim := 0.0
	for _, vec := range exemplarVecs {
		sim := clamp01(cosineSimilarity(queryVec, vec))
		if sim > maxSim {
			maxSim = sim
		}
		sumSim += sim
	}
	mean := sumSim / float64(len(exemplarVecs))

	return c.config.MaxWeight*maxSim + c.config.MeanWeight*mean
}

// exemplarEmbeddings 懒加载示例嵌入, 双重检查加锁。
func (c *QueryClassifier) exemplarEmbeddings(ctx context.Context) (map[QueryType][][]float64, error) {
	c.mu.RLock()
	cached := c.exemplarVecs
	c.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exemplarVecs != nil {
		return c.exemplarVecs, nil
	}

	vecs := make(map[QueryType][][]float64, len(c.config.Exemplars))
	for qt, texts := range c.config.Exemplars {
		if len(texts) == 0 {
			continue
		}
		embedded, err := c.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, err
		}
		vecs[qt] = embedded
	}

	c.exemplarVecs = vecs
	return vecs, nil
}
