package structured

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// =============================================================================
// 🎯 有界 SQL 执行
// =============================================================================

// maxResultRows 单次查询最多读取的行数。结果只是 LLM 上下文的一节,
// 超出的行不会提升回答质量, 只会吃掉 prompt 预算。
const maxResultRows = 100

// QueryResult 一次 SQL 查询的有界结果。
type QueryResult struct {
	Columns   []string   `json:"columns"`
	Rows      [][]string `json:"rows"`
	Truncated bool       `json:"truncated"`
}

// Format 把结果渲染为上下文可用的文本。纯函数。
func (r *QueryResult) Format() string {
	if r == nil || len(r.Rows) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(r.Columns, " | "))
	sb.WriteString("\n")
	for _, row := range r.Rows {
		sb.WriteString(strings.Join(row, " | "))
		sb.WriteString("\n")
	}
	if r.Truncated {
		fmt.Fprintf(&sb, "(showing first %d rows)\n", maxResultRows)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// SQLRunner 在池化引擎上执行只读查询。
type SQLRunner struct {
	pool   *EnginePool
	logger *zap.Logger
}

// NewSQLRunner 创建 SQL 执行器。
func NewSQLRunner(pool *EnginePool, logger *zap.Logger) *SQLRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLRunner{
		pool:   pool,
		logger: logger.With(zap.String("component", "sql_runner")),
	}
}

// Query 在指定数据集上执行查询, 至多返回 maxResultRows 行。
// 只接受 SELECT/WITH 语句: SQL 由 LLM 生成, 不可信任。
func (r *SQLRunner) Query(ctx context.Context, storagePath, query string) (*QueryResult, error) {
	if err := validateReadOnly(query); err != nil {
		return nil, err
	}

	engine, err := r.pool.GetEngine(storagePath)
	if err != nil {
		return nil, err
	}

	rows, err := engine.WithContext(ctx).Raw(query).Rows()
	if err != nil {
		return nil, fmt.Errorf("query failed on %s: %w", storagePath, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	result := &QueryResult{Columns: columns}
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if len(result.Rows) >= maxResultRows {
			result.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make([]string, len(columns))
		for i, v := range values {
			row[i] = renderValue(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}

	r.logger.Debug("structured query executed",
		zap.String("storage_path", storagePath),
		zap.Int("rows", len(result.Rows)),
		zap.Bool("truncated", result.Truncated))

	return result, nil
}

// validateReadOnly 拒绝一切非只读语句。
func validateReadOnly(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return fmt.Errorf("empty query")
	}

	first := strings.ToUpper(strings.Fields(trimmed)[0])
	if first != "SELECT" && first != "WITH" {
		return fmt.Errorf("only SELECT queries are allowed, got %s", first)
	}
	return nil
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
