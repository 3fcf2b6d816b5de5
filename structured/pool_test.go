package structured

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEnginePool_ReusesEnginePerPath(t *testing.T) {
	pool := NewEnginePool(zap.NewNop())
	defer pool.Close()

	path := filepath.Join(t.TempDir(), "sales.db")

	first, err := pool.GetEngine(path)
	require.NoError(t, err)
	second, err := pool.GetEngine(path)
	require.NoError(t, err)

	assert.Same(t, first, second, "same path must return the same engine handle")
	assert.Equal(t, 1, pool.Size())
}

func TestEnginePool_SeparateEnginesPerPath(t *testing.T) {
	pool := NewEnginePool(zap.NewNop())
	defer pool.Close()

	dir := t.TempDir()
	a, err := pool.GetEngine(filepath.Join(dir, "a.db"))
	require.NoError(t, err)
	b, err := pool.GetEngine(filepath.Join(dir, "b.db"))
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, 2, pool.Size())
}

func TestEnginePool_ConcurrentGetSamePath(t *testing.T) {
	pool := NewEnginePool(zap.NewNop())
	defer pool.Close()

	path := filepath.Join(t.TempDir(), "shared.db")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine, err := pool.GetEngine(path)
			assert.NoError(t, err)
			assert.NotNil(t, engine)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, pool.Size(), "concurrent access must not create duplicate engines")
}

func TestEnginePool_Close(t *testing.T) {
	pool := NewEnginePool(zap.NewNop())

	_, err := pool.GetEngine(filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	assert.Equal(t, 0, pool.Size())

	// 关闭后拒绝新请求
	_, err = pool.GetEngine(filepath.Join(t.TempDir(), "y.db"))
	assert.ErrorContains(t, err, "closed")

	// 重复关闭无害
	assert.NoError(t, pool.Close())
}
