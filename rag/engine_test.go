package rag

import (
	"context"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/kbrag/structured"
)

// ====== 引擎测试脚手架 ======

type fakeDescriptorSource struct {
	descriptors []structured.DatasetDescriptor
	err         error
	calls       int
}

func (f *fakeDescriptorSource) Get(ctx context.Context, kbID string) ([]structured.DatasetDescriptor, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.descriptors, nil
}

type panickyDescriptorSource struct{}

func (panickyDescriptorSource) Get(ctx context.Context, kbID string) ([]structured.DatasetDescriptor, error) {
	panic("descriptor store corrupted")
}

type fakeSQLExec struct {
	mu       sync.Mutex
	result   *structured.QueryResult
	err      error
	calls    int
	gotPath  string
	gotQuery string
}

func (f *fakeSQLExec) Query(ctx context.Context, storagePath, query string) (*structured.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotPath = storagePath
	f.gotQuery = query
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func testDescriptor(filename, storagePath string, columns ...string) structured.DatasetDescriptor {
	return structured.DatasetDescriptor{
		ID:              "ds-" + filename,
		KnowledgeBaseID: "kb-1",
		Filename:        filename,
		StoragePath:     storagePath,
		ColumnNames:     columns,
		RowCount:        100,
	}
}

func engineChunks() []Chunk {
	return []Chunk{
		{ID: "c1", DocumentID: "d1", Content: "revenue grew last quarter", Embedding: []float64{0.9, 0.1, 0}, Similarity: 0.91},
		{ID: "c2", DocumentID: "d1", Content: "churn held steady", Embedding: []float64{0.8, 0.2, 0}, Similarity: 0.84},
	}
}

// newTestEngine 按查询向量控制分类结果; 检索、分类共用同一个
// mock 嵌入器, 查询走 fallback 向量。
func newTestEngine(queryVec []float64, chunks []Chunk, descriptors DescriptorSource, sqlExec SQLExecutor, llm CompletionProvider) *Engine {
	embedder := testClassifierEmbedder(queryVec)
	classifier := NewQueryClassifier(embedder, testClassifierConfig(), zap.NewNop())
	searcher := &mockSearcher{results: map[float64][]Chunk{queryVec[0]: chunks}}
	retriever := NewHybridRetriever(searcher, embedder, nil, nil, DefaultHybridRetrieverConfig(), zap.NewNop())
	builder := NewContextBuilder(zap.NewNop())

	return NewEngine(classifier, retriever, builder, descriptors, sqlExec, llm, nil,
		DefaultEngineConfig(), zap.NewNop())
}

var docQAVec = []float64{1, 0.05, 0}
var structuredVec = []float64{0.05, 1, 0}

// ====== 端到端路径 ======

func TestQueryKB_DocumentQuery(t *testing.T) {
	llm := &mockLLM{response: "Revenue grew while churn held steady."}
	engine := newTestEngine(docQAVec, engineChunks(), nil, nil, llm)

	resp := engine.QueryKB(context.Background(), "kb-1", "how did the business do")

	if resp.Degraded {
		t.Fatalf("unexpected degradation: %s", resp.Error)
	}
	if resp.ID == "" {
		t.Error("response must carry an id")
	}
	if resp.Answer != "Revenue grew while churn held steady." {
		t.Errorf("unexpected answer: %q", resp.Answer)
	}
	if resp.Classification.Type != QueryTypeDocumentQA {
		t.Errorf("expected document_qa, got %s", resp.Classification.Type)
	}
	if len(resp.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(resp.Sources))
	}
	if resp.Sources[0].ChunkID != "c1" || resp.Sources[0].Excerpt == "" {
		t.Errorf("malformed source: %+v", resp.Sources[0])
	}
	if resp.SQL != "" {
		t.Errorf("document_qa query must not generate sql, got %q", resp.SQL)
	}
	if _, ok := resp.Metadata["context_tokens"]; !ok {
		t.Error("metadata missing context_tokens")
	}
}

func TestQueryKB_StructuredPathExecutesSQL(t *testing.T) {
	const wantSQL = "SELECT region, SUM(amount) FROM data GROUP BY region"

	llm := &mockLLM{respond: func(prompt string) (string, error) {
		if strings.Contains(prompt, "SELECT statement") {
			return "Here you go:\n```sql\n" + wantSQL + "\n```", nil
		}
		return "EMEA leads with 42.", nil
	}}
	descriptors := &fakeDescriptorSource{descriptors: []structured.DatasetDescriptor{
		testDescriptor("weather.csv", "/data/weather.db", "city", "temp"),
		testDescriptor("sales.csv", "/data/sales.db", "region", "amount"),
	}}
	sqlExec := &fakeSQLExec{result: &structured.QueryResult{
		Columns: []string{"region", "total"},
		Rows:    [][]string{{"EMEA", "42"}},
	}}

	engine := newTestEngine(structuredVec, engineChunks(), descriptors, sqlExec, llm)

	resp := engine.QueryKB(context.Background(), "kb-1", "total sales amount per region")

	if resp.Degraded {
		t.Fatalf("unexpected degradation: %s", resp.Error)
	}
	if resp.Classification.Type != QueryTypeStructured {
		t.Fatalf("expected structured_query, got %s", resp.Classification.Type)
	}
	if resp.SQL != wantSQL {
		t.Errorf("expected sql %q, got %q", wantSQL, resp.SQL)
	}
	if sqlExec.calls != 1 {
		t.Fatalf("expected 1 sql execution, got %d", sqlExec.calls)
	}
	// 查询点名了 sales, 必须路由到 sales.csv 的存储文件
	if sqlExec.gotPath != "/data/sales.db" {
		t.Errorf("sql routed to %q, want /data/sales.db", sqlExec.gotPath)
	}
	if resp.Answer != "EMEA leads with 42." {
		t.Errorf("unexpected answer: %q", resp.Answer)
	}
}

func TestQueryKB_UnparseableSQLSkipsExecution(t *testing.T) {
	llm := &mockLLM{respond: func(prompt string) (string, error) {
		if strings.Contains(prompt, "SELECT statement") {
			return "I think you should just sum the amount column.", nil
		}
		return "Answer without structured help.", nil
	}}
	descriptors := &fakeDescriptorSource{descriptors: []structured.DatasetDescriptor{
		testDescriptor("sales.csv", "/data/sales.db", "region", "amount"),
	}}
	sqlExec := &fakeSQLExec{}

	engine := newTestEngine(structuredVec, engineChunks(), descriptors, sqlExec, llm)

	resp := engine.QueryKB(context.Background(), "kb-1", "total amount per region")

	if sqlExec.calls != 0 {
		t.Errorf("unparseable model output must not reach the executor, got %d calls", sqlExec.calls)
	}
	if resp.SQL != "" {
		t.Errorf("expected empty sql, got %q", resp.SQL)
	}
	if resp.Degraded {
		t.Errorf("sql parse failure must not degrade the answer: %s", resp.Error)
	}
	if resp.Answer != "Answer without structured help." {
		t.Errorf("unexpected answer: %q", resp.Answer)
	}
}

func TestQueryKB_SQLExecutionFailureStillAnswers(t *testing.T) {
	llm := &mockLLM{respond: func(prompt string) (string, error) {
		if strings.Contains(prompt, "SELECT statement") {
			return "```sql\nSELECT * FROM data\n```", nil
		}
		return "Partial answer.", nil
	}}
	descriptors := &fakeDescriptorSource{descriptors: []structured.DatasetDescriptor{
		testDescriptor("sales.csv", "/data/sales.db", "region", "amount"),
	}}
	sqlExec := &fakeSQLExec{err: context.DeadlineExceeded}

	engine := newTestEngine(structuredVec, engineChunks(), descriptors, sqlExec, llm)

	resp := engine.QueryKB(context.Background(), "kb-1", "total amount per region")

	if resp.Degraded {
		t.Errorf("sql execution failure must not degrade the answer: %s", resp.Error)
	}
	// 生成的 SQL 仍然回显给调用方, 便于排查
	if resp.SQL != "SELECT * FROM data" {
		t.Errorf("expected generated sql echoed, got %q", resp.SQL)
	}
	if resp.Answer != "Partial answer." {
		t.Errorf("unexpected answer: %q", resp.Answer)
	}
}

func TestQueryKB_HybridCarriesPredictiveScore(t *testing.T) {
	llm := &mockLLM{response: "both worlds"}
	engine := newTestEngine([]float64{0.9, 0.9, 0}, engineChunks(), nil, nil, llm)

	resp := engine.QueryKB(context.Background(), "kb-1", "summarize and total everything")

	if resp.Classification.Type != QueryTypeHybrid {
		t.Fatalf("expected hybrid, got %s", resp.Classification.Type)
	}
	if _, ok := resp.Metadata["predictive_score"]; !ok {
		t.Error("hybrid response missing predictive_score metadata")
	}
}

// ====== 降级路径 ======

func TestQueryKB_EmptyQuery(t *testing.T) {
	engine := newTestEngine(docQAVec, engineChunks(), nil, nil, &mockLLM{response: "x"})

	resp := engine.QueryKB(context.Background(), "kb-1", "   ")

	if !resp.Degraded {
		t.Fatal("empty query must degrade")
	}
	if resp.Error != "query is empty" {
		t.Errorf("unexpected error: %q", resp.Error)
	}
	if resp.ID == "" {
		t.Error("degraded response still needs an id")
	}
}

func TestQueryKB_NoCompletionProvider(t *testing.T) {
	engine := newTestEngine(docQAVec, engineChunks(), nil, nil, nil)

	resp := engine.QueryKB(context.Background(), "kb-1", "how did the business do")

	if !resp.Degraded {
		t.Fatal("missing llm must degrade")
	}
	if resp.Error != "no completion provider configured" {
		t.Errorf("unexpected error: %q", resp.Error)
	}
	// 检索到的来源照常返回
	if len(resp.Sources) != 2 {
		t.Errorf("expected sources despite missing llm, got %d", len(resp.Sources))
	}
}

func TestQueryKB_NoContextFound(t *testing.T) {
	llm := &mockLLM{response: "should never be used"}
	engine := newTestEngine(docQAVec, nil, nil, nil, llm)

	resp := engine.QueryKB(context.Background(), "kb-1", "anything at all")

	if !resp.Degraded {
		t.Fatal("empty context must degrade")
	}
	if resp.Error != "retrieval produced no context" {
		t.Errorf("unexpected error: %q", resp.Error)
	}
	if resp.Answer == "" {
		t.Error("degraded response still needs a user-facing answer")
	}
	if len(llm.prompts) != 0 {
		t.Errorf("llm must not be called without context, got %d calls", len(llm.prompts))
	}
}

func TestQueryKB_SynthesisFailure(t *testing.T) {
	llm := &mockLLM{failAll: true}
	engine := newTestEngine(docQAVec, engineChunks(), nil, nil, llm)

	resp := engine.QueryKB(context.Background(), "kb-1", "how did the business do")

	if !resp.Degraded {
		t.Fatal("synthesis failure must degrade")
	}
	if !strings.Contains(resp.Error, "synthesis failed") {
		t.Errorf("unexpected error: %q", resp.Error)
	}
	if resp.Answer == "" {
		t.Error("degraded response still needs a fallback answer")
	}
	if len(resp.Sources) != 2 {
		t.Errorf("sources must survive synthesis failure, got %d", len(resp.Sources))
	}
}

func TestQueryKB_DescriptorFailureOmitsStructuredContext(t *testing.T) {
	llm := &mockLLM{response: "answer from documents only"}
	descriptors := &fakeDescriptorSource{err: context.DeadlineExceeded}
	sqlExec := &fakeSQLExec{}

	engine := newTestEngine(structuredVec, engineChunks(), descriptors, sqlExec, llm)

	resp := engine.QueryKB(context.Background(), "kb-1", "total amount per region")

	if resp.Degraded {
		t.Errorf("descriptor failure must not degrade the answer: %s", resp.Error)
	}
	if resp.Metadata["structured_context"] != "unavailable" {
		t.Errorf("expected structured_context=unavailable, got %v", resp.Metadata["structured_context"])
	}
	if sqlExec.calls != 0 {
		t.Errorf("no descriptors means no sql, got %d calls", sqlExec.calls)
	}
}

func TestQueryKB_RecoversFromPanic(t *testing.T) {
	llm := &mockLLM{response: "x"}
	engine := newTestEngine(docQAVec, engineChunks(), panickyDescriptorSource{}, nil, llm)

	resp := engine.QueryKB(context.Background(), "kb-1", "how did the business do")

	if !resp.Degraded {
		t.Fatal("panic must surface as a degraded response")
	}
	if !strings.Contains(resp.Error, "descriptor store corrupted") {
		t.Errorf("error should carry the panic value, got %q", resp.Error)
	}
}

// ====== 局部行为 ======

func TestQueryKB_TruncatesSourceExcerpts(t *testing.T) {
	long := strings.Repeat("y", 300)
	chunks := []Chunk{{ID: "c1", Content: long, Embedding: []float64{1, 0, 0}, Similarity: 0.9}}
	engine := newTestEngine(docQAVec, chunks, nil, nil, &mockLLM{response: "ok"})

	resp := engine.QueryKB(context.Background(), "kb-1", "question")

	if len(resp.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(resp.Sources))
	}
	want := strings.Repeat("y", 200) + "..."
	if resp.Sources[0].Excerpt != want {
		t.Errorf("excerpt not truncated to 200 chars: len=%d", len(resp.Sources[0].Excerpt))
	}
}

func TestQueryKB_MultibyteExcerptsStayValidUTF8(t *testing.T) {
	long := strings.Repeat("销", 300)
	chunks := []Chunk{{ID: "c1", Content: long, Embedding: []float64{1, 0, 0}, Similarity: 0.9}}
	engine := newTestEngine(docQAVec, chunks, nil, nil, &mockLLM{response: "ok"})

	resp := engine.QueryKB(context.Background(), "kb-1", "question")

	if len(resp.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(resp.Sources))
	}
	got := resp.Sources[0].Excerpt
	if !utf8.ValidString(got) {
		t.Fatal("source excerpt contains invalid UTF-8")
	}
	if want := strings.Repeat("销", 200) + "..."; got != want {
		t.Errorf("excerpt not truncated to 200 runes: rune len=%d", utf8.RuneCountInString(got))
	}
}

func TestDetectVisualizationNeed(t *testing.T) {
	cases := []struct {
		query string
		want  bool
	}{
		{"show me a bar chart of sales", true},
		{"plot revenue over time", true},
		{"can you visualize the trend", true},
		{"Visualise regional spread", true},
		{"draw a histogram of ages", true},
		{"what was total revenue", false},
		{"summarize the report", false},
	}
	for _, tc := range cases {
		if got := detectVisualizationNeed(tc.query); got != tc.want {
			t.Errorf("detectVisualizationNeed(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}

func TestPickDataset(t *testing.T) {
	descriptors := []structured.DatasetDescriptor{
		testDescriptor("weather.csv", "/data/weather.db", "city"),
		testDescriptor("sales.xlsx", "/data/sales.db", "region"),
	}

	if got := pickDataset("how is the SALES data looking", descriptors); got.Filename != "sales.xlsx" {
		t.Errorf("expected filename match, got %s", got.Filename)
	}
	if got := pickDataset("anything else", descriptors); got.Filename != "weather.csv" {
		t.Errorf("expected first descriptor fallback, got %s", got.Filename)
	}
}
