package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ====== 查询扩展 ======

// ExpanderConfig 配置查询扩展器。
type ExpanderConfig struct {
	// MaxParaphrases 除原始查询外最多生成的改写数。
	MaxParaphrases int `json:"max_paraphrases" yaml:"max_paraphrases"`

	// RatePerSecond/Burst 改写调用的限流参数。
	// 扩展是可选的召回增强, 不应与回答合成争抢 LLM 配额。
	RatePerSecond float64 `json:"rate_per_second" yaml:"rate_per_second"`
	Burst         int     `json:"burst" yaml:"burst"`
}

// DefaultExpanderConfig 返回默认扩展配置。
func DefaultExpanderConfig() ExpanderConfig {
	return ExpanderConfig{
		MaxParaphrases: 2,
		RatePerSecond:  5,
		Burst:          10,
	}
}

// QueryExpander 通过 LLM 生成语义等价的查询改写, 拓宽向量检索召回。
// 改写失败时退回只含原始查询的切片, 从不阻塞检索。
type QueryExpander struct {
	llm     CompletionProvider
	config  ExpanderConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewQueryExpander 创建查询扩展器。llm 为 nil 时扩展直接退化为原查询。
func NewQueryExpander(llm CompletionProvider, config ExpanderConfig, logger *zap.Logger) *QueryExpander {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxParaphrases <= 0 {
		config.MaxParaphrases = 2
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 5
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}

	return &QueryExpander{
		llm:     llm,
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst),
		logger:  logger.With(zap.String("component", "query_expander")),
	}
}

var lineNumberPrefix = regexp.MustCompile(`^\d+[\.\)]\s*`)

// Expand 返回查询变体, 原始查询永远是第一个元素。永不返回错误。
func (e *QueryExpander) Expand(ctx context.Context, query string) []string {
	variants := []string{query}

	if e.llm == nil {
		return variants
	}
	if !e.limiter.Allow() {
		e.logger.Debug("paraphrase call rate limited, using original query only")
		return variants
	}

	prompt := fmt.Sprintf(`Generate %d alternative phrasings of the following search query.
Each alternative must preserve the exact information need while varying the wording.
Return only the rephrased queries, one per line.

Original query: %s

Alternative queries:`, e.config.MaxParaphrases, query)

	response, err := e.llm.Complete(ctx, prompt)
	if err != nil {
		e.logger.Warn("paraphrase generation failed, using original query only", zap.Error(err))
		return variants
	}

	for _, line := range strings.Split(strings.TrimSpace(response), "\n") {
		line = strings.TrimSpace(line)
		line = lineNumberPrefix.ReplaceAllString(line, "")
		line = strings.Trim(line, `"`)
		if line == "" || strings.EqualFold(line, query) {
			continue
		}
		variants = append(variants, line)
		if len(variants) >= e.config.MaxParaphrases+1 {
			break
		}
	}

	e.logger.Debug("query expanded", zap.Int("variants", len(variants)))
	return variants
}
