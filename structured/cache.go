package structured

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/kbrag/internal/cache"
	"github.com/BaSui01/kbrag/internal/metrics"
)

// =============================================================================
// 💾 描述符缓存
// =============================================================================

// MetadataCacheConfig 描述符缓存配置。
type MetadataCacheConfig struct {
	// TTL 条目的存活时间。过期条目绝不返回, 下次访问强制回源。
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultMetadataCacheConfig 返回默认缓存配置。
func DefaultMetadataCacheConfig() MetadataCacheConfig {
	return MetadataCacheConfig{
		TTL: 300 * time.Second,
	}
}

// cacheEntry 一个知识库的描述符快照。写入后不可变,
// 刷新通过整体替换完成, 不做部分更新。
type cacheEntry struct {
	descriptors []DatasetDescriptor
	fetchedAt   time.Time
}

// MetadataCache 按知识库缓存数据集描述符, TTL 过期。
// 知识库数量远小于查询量, 不做 TTL 之外的淘汰。
// 可选挂一层共享 redis L2（多实例部署时减少目录库回源）。
type MetadataCache struct {
	source    DescriptorSource
	shared    *cache.Manager     // 可为 nil
	collector *metrics.Collector // 可为 nil
	config    MetadataCacheConfig
	logger    *zap.Logger

	mu      sync.RWMutex
	entries map[string]cacheEntry

	// now 可注入, 测试里推进虚拟时钟。
	now func() time.Time
}

// NewMetadataCache 创建描述符缓存。shared 和 collector 均可为 nil。
func NewMetadataCache(source DescriptorSource, shared *cache.Manager, config MetadataCacheConfig, collector *metrics.Collector, logger *zap.Logger) *MetadataCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TTL <= 0 {
		config.TTL = 300 * time.Second
	}

	return &MetadataCache{
		source:    source,
		shared:    shared,
		collector: collector,
		config:    config,
		logger:    logger.With(zap.String("component", "metadata_cache")),
		entries:   make(map[string]cacheEntry),
		now:       time.Now,
	}
}

// Get 返回知识库的描述符。本地条目未过期直接返回;
// 否则依次尝试共享层和目录库, 成功后整体覆盖本地条目。
func (m *MetadataCache) Get(ctx context.Context, kbID string) ([]DatasetDescriptor, error) {
	m.mu.RLock()
	entry, ok := m.entries[kbID]
	m.mu.RUnlock()

	if ok && m.now().Sub(entry.fetchedAt) < m.config.TTL {
		if m.collector != nil {
			m.collector.RecordCacheHit("descriptor")
		}
		return entry.descriptors, nil
	}
	if m.collector != nil {
		m.collector.RecordCacheMiss("descriptor")
	}

	if m.shared != nil {
		var descriptors []DatasetDescriptor
		err := m.shared.GetJSON(ctx, m.sharedKey(kbID), &descriptors)
		if err == nil {
			m.store(kbID, descriptors)
			return descriptors, nil
		}
		if !cache.IsCacheMiss(err) {
			m.logger.Warn("shared descriptor cache read failed", zap.String("kb_id", kbID), zap.Error(err))
		}
	}

	descriptors, err := m.source.ListDescriptors(ctx, kbID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch descriptors for kb %s: %w", kbID, err)
	}

	m.store(kbID, descriptors)

	if m.shared != nil {
		if err := m.shared.SetJSON(ctx, m.sharedKey(kbID), descriptors, m.config.TTL); err != nil {
			m.logger.Warn("shared descriptor cache write failed", zap.String("kb_id", kbID), zap.Error(err))
		}
	}

	m.logger.Debug("descriptors refreshed",
		zap.String("kb_id", kbID),
		zap.Int("count", len(descriptors)))

	return descriptors, nil
}

// Invalidate 丢弃指定知识库的本地条目, 数据集变更后调用。
func (m *MetadataCache) Invalidate(kbID string) {
	m.mu.Lock()
	delete(m.entries, kbID)
	m.mu.Unlock()
}

func (m *MetadataCache) store(kbID string, descriptors []DatasetDescriptor) {
	m.mu.Lock()
	m.entries[kbID] = cacheEntry{descriptors: descriptors, fetchedAt: m.now()}
	m.mu.Unlock()
}

func (m *MetadataCache) sharedKey(kbID string) string {
	return "kbrag:descriptors:" + kbID
}
