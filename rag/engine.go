package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/kbrag/internal/metrics"
	"github.com/BaSui01/kbrag/structured"
)

// ====== 查询引擎门面 ======

// maxSourceExcerptChars 返回给调用方的来源摘录长度上限。
const maxSourceExcerptChars = 200

// Source 回答引用的一个来源片段。
type Source struct {
	ChunkID     string   `json:"chunk_id"`
	DocumentID  string   `json:"document_id"`
	Similarity  float64  `json:"similarity"`
	RerankScore *float64 `json:"rerank_score,omitempty"`
	Excerpt     string   `json:"excerpt"`
}

// Response 一次知识库查询的完整结果。
// Degraded 为 true 时 Error 说明哪一环失败了; 其余字段仍然良构。
type Response struct {
	ID                 string         `json:"id"`
	Query              string         `json:"query"`
	Answer             string         `json:"answer"`
	Sources            []Source       `json:"sources"`
	Classification     Classification `json:"classification"`
	SQL                string         `json:"sql,omitempty"`
	NeedsVisualization bool           `json:"needs_visualization"`
	Degraded           bool           `json:"degraded"`
	Error              string         `json:"error,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// DescriptorSource 数据集描述符来源, 通常是 structured.MetadataCache。
type DescriptorSource interface {
	Get(ctx context.Context, kbID string) ([]structured.DatasetDescriptor, error)
}

// SQLExecutor 有界只读 SQL 执行, 通常是 structured.SQLRunner。
type SQLExecutor interface {
	Query(ctx context.Context, storagePath, query string) (*structured.QueryResult, error)
}

// EngineConfig 引擎配置。
type EngineConfig struct {
	// TopK 检索返回的片段数。
	TopK int `json:"top_k" yaml:"top_k"`

	// EnableSQL 是否允许对结构化数据集生成并执行 SQL。
	EnableSQL bool `json:"enable_sql" yaml:"enable_sql"`
}

// DefaultEngineConfig 返回默认引擎配置。
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TopK:      5,
		EnableSQL: true,
	}
}

// Engine 知识库问答引擎。
//
// 单次查询按固定阶段推进: 分类 → 检索 → 描述符 → 条件化 SQL →
// 上下文拼装 → 合成 → 来源整理。每个外部调用失败只降级对应小节,
// 不中断整条查询; QueryKB 永不 panic、永不返回 error。
type Engine struct {
	classifier  *QueryClassifier
	retriever   *HybridRetriever
	builder     *ContextBuilder
	descriptors DescriptorSource   // 可为 nil: 纯文档知识库
	sqlExec     SQLExecutor        // 可为 nil
	llm         CompletionProvider // 可为 nil: 只返回检索结果
	collector   *metrics.Collector // 可为 nil
	config      EngineConfig
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewEngine 创建查询引擎。
func NewEngine(
	classifier *QueryClassifier,
	retriever *HybridRetriever,
	builder *ContextBuilder,
	descriptors DescriptorSource,
	sqlExec SQLExecutor,
	llm CompletionProvider,
	collector *metrics.Collector,
	config EngineConfig,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TopK <= 0 {
		config.TopK = 5
	}

	return &Engine{
		classifier:  classifier,
		retriever:   retriever,
		builder:     builder,
		descriptors: descriptors,
		sqlExec:     sqlExec,
		llm:         llm,
		collector:   collector,
		config:      config,
		logger:      logger.With(zap.String("component", "engine")),
		tracer:      otel.Tracer("kbrag/rag"),
	}
}

// QueryKB 对知识库执行一次端到端查询。永不 panic, 永不返回 error:
// 无法完整服务的查询返回带原因的降级 Response。
func (e *Engine) QueryKB(ctx context.Context, kbID, query string) (resp *Response) {
	start := time.Now()

	resp = &Response{
		ID:       uuid.NewString(),
		Query:    query,
		Sources:  []Source{},
		Metadata: map[string]any{"kb_id": kbID},
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("query panicked",
				zap.String("kb_id", kbID), zap.Any("panic", r))
			resp.Degraded = true
			resp.Error = fmt.Sprintf("query could not be completed: %v", r)
		}
		if e.collector != nil {
			e.collector.RecordQuery(string(resp.Classification.Type), resp.Degraded, time.Since(start))
		}
	}()

	ctx, span := e.tracer.Start(ctx, "engine.query_kb",
		trace.WithAttributes(attribute.String("kb_id", kbID)))
	defer span.End()

	if strings.TrimSpace(query) == "" {
		resp.Degraded = true
		resp.Error = "query is empty"
		return resp
	}

	// 1. 分类（内部降级, 永不失败）
	resp.Classification = e.runClassify(ctx, query)

	// 2. 文档检索（内部降级, 永不失败）
	chunks := e.runRetrieve(ctx, kbID, query)
	resp.Sources = formatSources(chunks)

	// 3. 结构化上下文: 描述符 + 条件化 SQL
	datasets, descriptors := e.fetchDatasets(ctx, kbID, resp)
	sqlResults := ""
	if e.shouldRunSQL(resp.Classification, descriptors) {
		sqlResults = e.runStructuredQuery(ctx, query, descriptors, resp)
	}

	// 4. 可视化需求启发式
	resp.NeedsVisualization = detectVisualizationNeed(query)
	if resp.Classification.Type == QueryTypePredictive || resp.Classification.Type == QueryTypeHybrid {
		resp.Metadata["predictive_score"] = resp.Classification.Scores[QueryTypePredictive]
	}

	// 5. 上下文拼装 + 合成
	contextText := e.builder.Build(chunks, datasets, sqlResults)
	resp.Metadata["context_tokens"] = e.builder.EstimateTokens(contextText)

	e.synthesize(ctx, query, contextText, resp)

	span.SetAttributes(
		attribute.String("query_type", string(resp.Classification.Type)),
		attribute.Int("sources", len(resp.Sources)),
		attribute.Bool("degraded", resp.Degraded),
	)

	return resp
}

func (e *Engine) runClassify(ctx context.Context, query string) Classification {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.classify")
	defer span.End()

	classification := e.classifier.Classify(ctx, query)
	if e.collector != nil {
		e.collector.RecordPhase("classify", time.Since(start))
	}
	return classification
}

func (e *Engine) runRetrieve(ctx context.Context, kbID, query string) []Chunk {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.retrieve")
	defer span.End()

	chunks := e.retriever.Search(ctx, kbID, query, e.config.TopK)
	if e.collector != nil {
		e.collector.RecordPhase("retrieve", time.Since(start))
	}
	return chunks
}

// fetchDatasets 读取数据集描述符。失败只意味着结构化小节为空。
func (e *Engine) fetchDatasets(ctx context.Context, kbID string, resp *Response) ([]DatasetInfo, []structured.DatasetDescriptor) {
	if e.descriptors == nil {
		return nil, nil
	}

	descriptors, err := e.descriptors.Get(ctx, kbID)
	if err != nil {
		e.logger.Warn("descriptor fetch failed, omitting structured context",
			zap.String("kb_id", kbID), zap.Error(err))
		resp.Metadata["structured_context"] = "unavailable"
		return nil, nil
	}

	datasets := make([]DatasetInfo, len(descriptors))
	for i, d := range descriptors {
		datasets[i] = DatasetInfo{
			Filename: d.Filename,
			Columns:  d.ColumnNames,
			RowCount: d.RowCount,
		}
	}
	return datasets, descriptors
}

// shouldRunSQL 只有分类指向结构化路径且确有数据集时才生成 SQL。
func (e *Engine) shouldRunSQL(classification Classification, descriptors []structured.DatasetDescriptor) bool {
	if !e.config.EnableSQL || e.sqlExec == nil || e.llm == nil || len(descriptors) == 0 {
		return false
	}
	return classification.Type == QueryTypeStructured || classification.Type == QueryTypeHybrid
}

// runStructuredQuery 生成并执行 SQL, 返回格式化结果。
// 任何一步失败都只返回空串, 结构化小节整体省略。
func (e *Engine) runStructuredQuery(ctx context.Context, query string, descriptors []structured.DatasetDescriptor, resp *Response) string {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.structured_query")
	defer span.End()

	target := pickDataset(query, descriptors)

	sqlText, err := e.generateSQL(ctx, query, target)
	if err != nil {
		e.logger.Warn("sql generation failed, omitting structured results", zap.Error(err))
		return ""
	}
	resp.SQL = sqlText

	result, err := e.sqlExec.Query(ctx, target.StoragePath, sqlText)
	if e.collector != nil {
		e.collector.RecordSQLQuery(err, time.Since(start))
	}
	if err != nil {
		e.logger.Warn("structured query failed, omitting structured results",
			zap.String("storage_path", target.StoragePath), zap.Error(err))
		return ""
	}

	return result.Format()
}

// pickDataset 选择 SQL 目标数据集: 查询里点名的文件优先, 否则取第一个。
func pickDataset(query string, descriptors []structured.DatasetDescriptor) structured.DatasetDescriptor {
	lowered := strings.ToLower(query)
	for _, d := range descriptors {
		base := strings.TrimSuffix(d.Filename, ".csv")
		base = strings.TrimSuffix(base, ".xlsx")
		if base != "" && strings.Contains(lowered, strings.ToLower(base)) {
			return d
		}
	}
	return descriptors[0]
}

var fencedSQL = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")

// generateSQL 让 LLM 针对目标数据集生成一条 SELECT。
// 严格解析围栏代码块, 解析不出就放弃结构化小节, 绝不猜测半截结构。
func (e *Engine) generateSQL(ctx context.Context, query string, target structured.DatasetDescriptor) (string, error) {
	// 入库流程把每个数据集写进各自 sqlite 文件的 data 表
	prompt := fmt.Sprintf(`You are given a SQLite table named "data" from the dataset %q with %d rows.
Columns: %s

Write a single SELECT statement that answers the question below.
Return only the SQL inside a fenced code block.

Question: %s`,
		target.Filename, target.RowCount, strings.Join(target.ColumnNames, ", "), query)

	llmStart := time.Now()
	response, err := e.llm.Complete(ctx, prompt)
	if e.collector != nil {
		e.collector.RecordLLMRequest("sql", err, time.Since(llmStart))
	}
	if err != nil {
		return "", fmt.Errorf("sql generation call: %w", err)
	}

	match := fencedSQL.FindStringSubmatch(response)
	if match == nil {
		return "", fmt.Errorf("no fenced sql block in model output")
	}

	sqlText := strings.TrimSpace(match[1])
	if sqlText == "" {
		return "", fmt.Errorf("empty sql block in model output")
	}
	return sqlText, nil
}

// synthesize 调用 LLM 合成最终回答。失败时返回带原因的降级回答,
// 已检索到的来源仍然保留。
func (e *Engine) synthesize(ctx context.Context, query, contextText string, resp *Response) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.synthesize")
	defer span.End()

	if e.llm == nil {
		resp.Answer = ""
		resp.Degraded = true
		resp.Error = "no completion provider configured"
		return
	}

	if strings.TrimSpace(contextText) == "" {
		resp.Answer = "No relevant information was found in this knowledge base for your question."
		resp.Degraded = true
		resp.Error = "retrieval produced no context"
		return
	}

	prompt := fmt.Sprintf(`Answer the question using only the context below.
If the context does not contain the answer, say so.

%s

Question: %s`, contextText, query)

	answer, err := e.llm.Complete(ctx, prompt)
	if e.collector != nil {
		e.collector.RecordLLMRequest("synthesis", err, time.Since(start))
		e.collector.RecordPhase("synthesize", time.Since(start))
	}
	if err != nil {
		e.logger.Error("answer synthesis failed", zap.Error(err))
		resp.Answer = "The retrieved information could not be synthesized into an answer."
		resp.Degraded = true
		resp.Error = fmt.Sprintf("synthesis failed: %v", err)
		return
	}

	resp.Answer = strings.TrimSpace(answer)
}

// formatSources 把检索片段整理为调用方可展示的来源列表。
func formatSources(chunks []Chunk) []Source {
	sources := make([]Source, len(chunks))
	for i, c := range chunks {
		excerpt := truncateExcerpt(c.Content, maxSourceExcerptChars)
		sources[i] = Source{
			ChunkID:     c.ID,
			DocumentID:  c.DocumentID,
			Similarity:  c.Similarity,
			RerankScore: c.RerankScore,
			Excerpt:     excerpt,
		}
	}
	return sources
}

var visualizationKeywords = []string{
	"chart", "plot", "graph", "visualiz", "visualis",
	"diagram", "histogram", "trend line", "bar chart", "pie chart",
}

// detectVisualizationNeed 关键词启发式; 渲染本身由上层服务负责。
func detectVisualizationNeed(query string) bool {
	lowered := strings.ToLower(query)
	for _, kw := range visualizationKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}
