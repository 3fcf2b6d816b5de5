package structured

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newDatasetFile 建一个入库流程产出样式的数据集文件:
// 单表 data, 每行一条记录。
func newDatasetFile(t *testing.T, rows int) (string, *EnginePool) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sales.db")
	pool := NewEnginePool(zap.NewNop())
	t.Cleanup(func() { pool.Close() })

	engine, err := pool.GetEngine(path)
	require.NoError(t, err)

	require.NoError(t, engine.Exec(`CREATE TABLE data (region TEXT, amount INTEGER)`).Error)
	for i := 0; i < rows; i++ {
		require.NoError(t, engine.Exec(
			`INSERT INTO data (region, amount) VALUES (?, ?)`,
			fmt.Sprintf("region-%03d", i), i*10,
		).Error)
	}
	return path, pool
}

func TestSQLRunner_Query(t *testing.T) {
	path, pool := newDatasetFile(t, 3)
	runner := NewSQLRunner(pool, zap.NewNop())

	result, err := runner.Query(context.Background(), path,
		`SELECT region, amount FROM data ORDER BY amount`)
	require.NoError(t, err)

	assert.Equal(t, []string{"region", "amount"}, result.Columns)
	require.Len(t, result.Rows, 3)
	assert.Equal(t, []string{"region-000", "0"}, result.Rows[0])
	assert.False(t, result.Truncated)
}

func TestSQLRunner_CapsResultRows(t *testing.T) {
	path, pool := newDatasetFile(t, 150)
	runner := NewSQLRunner(pool, zap.NewNop())

	result, err := runner.Query(context.Background(), path, `SELECT * FROM data`)
	require.NoError(t, err)

	assert.Len(t, result.Rows, 100)
	assert.True(t, result.Truncated)
	assert.Contains(t, result.Format(), "(showing first 100 rows)")
}

func TestSQLRunner_AllowsCTE(t *testing.T) {
	path, pool := newDatasetFile(t, 5)
	runner := NewSQLRunner(pool, zap.NewNop())

	result, err := runner.Query(context.Background(), path,
		`WITH totals AS (SELECT SUM(amount) AS total FROM data) SELECT total FROM totals`)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "100", result.Rows[0][0])
}

func TestSQLRunner_RejectsNonReadOnly(t *testing.T) {
	path, pool := newDatasetFile(t, 1)
	runner := NewSQLRunner(pool, zap.NewNop())

	cases := []string{
		`DROP TABLE data`,
		`DELETE FROM data`,
		`UPDATE data SET amount = 0`,
		`INSERT INTO data VALUES ('x', 1)`,
		`  `,
	}
	for _, query := range cases {
		_, err := runner.Query(context.Background(), path, query)
		assert.Error(t, err, "query %q must be rejected", query)
	}

	// 被拒绝的语句不能碰到数据
	result, err := runner.Query(context.Background(), path, `SELECT COUNT(*) FROM data`)
	require.NoError(t, err)
	assert.Equal(t, "1", result.Rows[0][0])
}

func TestSQLRunner_QueryErrorSurfacesPath(t *testing.T) {
	path, pool := newDatasetFile(t, 1)
	runner := NewSQLRunner(pool, zap.NewNop())

	_, err := runner.Query(context.Background(), path, `SELECT nope FROM data`)
	assert.ErrorContains(t, err, path)
}

func TestSQLRunner_RendersNullValues(t *testing.T) {
	path, pool := newDatasetFile(t, 0)
	runner := NewSQLRunner(pool, zap.NewNop())

	engine, err := pool.GetEngine(path)
	require.NoError(t, err)
	require.NoError(t, engine.Exec(`INSERT INTO data (region, amount) VALUES (NULL, NULL)`).Error)

	result, err := runner.Query(context.Background(), path, `SELECT region, amount FROM data`)
	require.NoError(t, err)
	assert.Equal(t, []string{"NULL", "NULL"}, result.Rows[0])
}

func TestQueryResult_Format(t *testing.T) {
	empty := &QueryResult{Columns: []string{"a"}}
	assert.Equal(t, "", empty.Format())

	result := &QueryResult{
		Columns: []string{"region", "total"},
		Rows:    [][]string{{"EMEA", "42"}, {"APAC", "17"}},
	}
	assert.Equal(t, "region | total\nEMEA | 42\nAPAC | 17", result.Format())
}
