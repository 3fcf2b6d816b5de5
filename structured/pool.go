package structured

import (
	"fmt"
	"sync"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// =============================================================================
// 🗄️ 数据集引擎池
// =============================================================================

// EnginePool 按存储路径复用数据集关系引擎。
// 引擎创建有不可忽略的启动成本; 高并发下每查询新建会拖慢延迟
// 并耗尽文件句柄。同一路径在池的生命周期内至多存在一个引擎,
// 引擎从不单独关闭, 只随池整体销毁。
type EnginePool struct {
	logger *zap.Logger

	mu      sync.RWMutex
	engines map[string]*gorm.DB
	closed  bool
}

// NewEnginePool 创建引擎池。
func NewEnginePool(logger *zap.Logger) *EnginePool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnginePool{
		logger:  logger.With(zap.String("component", "engine_pool")),
		engines: make(map[string]*gorm.DB),
	}
}

// GetEngine 返回指定存储路径的引擎, 首次访问时创建。
// 双重检查加锁: 同一路径两次调用返回同一个句柄。
func (p *EnginePool) GetEngine(storagePath string) (*gorm.DB, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, fmt.Errorf("engine pool is closed")
	}
	if engine, ok := p.engines[storagePath]; ok {
		p.mu.RUnlock()
		return engine, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("engine pool is closed")
	}
	if engine, ok := p.engines[storagePath]; ok {
		return engine, nil
	}

	engine, err := p.openEngine(storagePath)
	if err != nil {
		return nil, err
	}
	p.engines[storagePath] = engine

	p.logger.Info("dataset engine created",
		zap.String("storage_path", storagePath),
		zap.Int("pool_size", len(p.engines)))

	return engine, nil
}

// openEngine 打开一个数据集 sqlite 引擎。busy_timeout 让并发查询
// 在锁竞争时等待而不是立即报错。
func (p *EnginePool) openEngine(storagePath string) (*gorm.DB, error) {
	dsn := storagePath + "?_pragma=busy_timeout(5000)"

	engine, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset engine %s: %w", storagePath, err)
	}

	return engine, nil
}

// Size 返回当前池中引擎数。
func (p *EnginePool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.engines)
}

// Close 关闭池中全部引擎。只在服务整体销毁时调用。
func (p *EnginePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var firstErr error
	for path, engine := range p.engines {
		sqlDB, err := engine.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close engine %s: %w", path, err)
		}
	}
	p.engines = make(map[string]*gorm.DB)

	p.logger.Info("engine pool closed")
	return firstErr
}
