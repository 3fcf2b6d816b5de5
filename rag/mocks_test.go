package rag

import (
	"context"
	"fmt"
	"sync"
)

// 测试共用的协作者模拟实现。

// mockEmbedder 按文本查表返回固定向量, 未登记的文本返回默认向量。
type mockEmbedder struct {
	mu       sync.Mutex
	vectors  map[string][]float64
	fallback []float64
	failAll  bool
	calls    int
}

func newMockEmbedder(vectors map[string][]float64, fallback []float64) *mockEmbedder {
	return &mockEmbedder{vectors: vectors, fallback: fallback}
}

func (m *mockEmbedder) embed(text string) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, fmt.Errorf("embedding backend unavailable")
	}
	m.calls++
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	return m.fallback, nil
}

func (m *mockEmbedder) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	return m.embed(query)
}

func (m *mockEmbedder) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	out := make([][]float64, len(documents))
	for i, d := range documents {
		v, err := m.embed(d)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// mockSearcher 按查询嵌入查表返回候选。key 用嵌入的第一个分量。
type mockSearcher struct {
	mu      sync.Mutex
	results map[float64][]Chunk
	failAll bool
	calls   int
}

func (m *mockSearcher) Search(ctx context.Context, kbID string, queryEmbedding []float64, matchCount int) ([]Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failAll {
		return nil, fmt.Errorf("vector index unavailable")
	}
	chunks := m.results[queryEmbedding[0]]
	if matchCount > len(chunks) {
		matchCount = len(chunks)
	}
	out := make([]Chunk, matchCount)
	copy(out, chunks[:matchCount])
	return out, nil
}

// mockReranker 按片段内容查表打分。
type mockReranker struct {
	scores  map[string]float64
	failAll bool
	short   bool // 返回长度不匹配的分数切片
}

func (m *mockReranker) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if m.failAll {
		return nil, fmt.Errorf("reranker unavailable")
	}
	if m.short {
		return []float64{0.5}, nil
	}
	out := make([]float64, len(passages))
	for i, p := range passages {
		out[i] = m.scores[p]
	}
	return out, nil
}

// mockLLM 固定返回 response, 或固定失败。
type mockLLM struct {
	mu       sync.Mutex
	response string
	respond  func(prompt string) (string, error)
	failAll  bool
	prompts  []string
}

func (m *mockLLM) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.failAll {
		return "", fmt.Errorf("completion backend unavailable")
	}
	if m.respond != nil {
		return m.respond(prompt)
	}
	return m.response, nil
}
