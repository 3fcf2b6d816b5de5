package rag

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// ====== 上下文拼装 ======

const (
	// maxExcerptChars 单个文档片段写入上下文的最大字符数。
	maxExcerptChars = 500

	// maxColumnNames 单个数据集列出的最大列数。
	maxColumnNames = 10
)

// DatasetInfo 一个可用结构化数据集的摘要, 供上下文拼装使用。
type DatasetInfo struct {
	Filename string   `json:"filename"`
	Columns  []string `json:"columns"`
	RowCount int64    `json:"row_count"`
}

// ContextBuilder 把检索片段、数据集元信息和 SQL 结果拼装为
// prompt 就绪的上下文。Build 是纯函数: 相同输入永远产出相同字符串。
type ContextBuilder struct {
	encodingName string
	logger       *zap.Logger

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// NewContextBuilder 创建上下文拼装器。
func NewContextBuilder(logger *zap.Logger) *ContextBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextBuilder{
		encodingName: "cl100k_base",
		logger:       logger.With(zap.String("component", "context_builder")),
	}
}

// Build 按固定顺序拼装三个小节: 文档片段、可用数据集、结构化查询结果。
// 输入为空的小节整体省略。
func (b *ContextBuilder) Build(chunks []Chunk, datasets []DatasetInfo, sqlResults string) string {
	var sections []string

	if len(chunks) > 0 {
		sections = append(sections, b.buildExcerptSection(chunks))
	}
	if len(datasets) > 0 {
		sections = append(sections, b.buildDatasetSection(datasets))
	}
	if strings.TrimSpace(sqlResults) != "" {
		sections = append(sections, "## Structured Query Results\n\n"+sqlResults)
	}

	return strings.Join(sections, "\n\n")
}

func (b *ContextBuilder) buildExcerptSection(chunks []Chunk) string {
	var sb strings.Builder
	sb.WriteString("## Document Excerpts\n")

	for i, c := range chunks {
		content := truncateExcerpt(c.Content, maxExcerptChars)
		fmt.Fprintf(&sb, "\n[%d] (similarity: %.3f)\n%s\n", i+1, c.Similarity, content)
	}

	return strings.TrimRight(sb.String(), "\n")
}

func (b *ContextBuilder) buildDatasetSection(datasets []DatasetInfo) string {
	var sb strings.Builder
	sb.WriteString("## Available Datasets\n")

	for _, d := range datasets {
		columns := d.Columns
		suffix := ""
		if len(columns) > maxColumnNames {
			columns = columns[:maxColumnNames]
			suffix = ", ..."
		}
		fmt.Fprintf(&sb, "\n- %s (%d rows): %s%s", d.Filename, d.RowCount, strings.Join(columns, ", "), suffix)
	}

	return sb.String()
}

// truncateExcerpt 按 rune 截断文本, 多字节字符不会被切出非法 UTF-8。
func truncateExcerpt(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// EstimateTokens 估算上下文的 token 数。tiktoken 编码不可用时
// 退回 len/4 的粗略估计。
func (b *ContextBuilder) EstimateTokens(text string) int {
	b.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(b.encodingName)
		if err != nil {
			b.logger.Warn("tiktoken encoding unavailable, using character heuristic",
				zap.String("encoding", b.encodingName), zap.Error(err))
			return
		}
		b.enc = enc
	})

	if b.enc == nil {
		return len(text) / 4
	}
	return len(b.enc.Encode(text, nil, nil))
}
