package structured

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// =============================================================================
// 🗄️ 描述符目录
// =============================================================================

// DescriptorSource 数据集描述符来源。MetadataCache 在缓存未命中时
// 通过它回源; CatalogStore 是生产实现。
type DescriptorSource interface {
	ListDescriptors(ctx context.Context, kbID string) ([]DatasetDescriptor, error)
}

// CatalogStoreConfig 目录库配置。
type CatalogStoreConfig struct {
	// DSN PostgreSQL 连接串。
	DSN string `yaml:"dsn" json:"dsn"`
}

// CatalogStore 基于 PostgreSQL 的描述符目录。
type CatalogStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewCatalogStore 打开目录库连接。
func NewCatalogStore(config CatalogStoreConfig, logger *zap.Logger) (*CatalogStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(postgres.Open(config.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	logger.Info("catalog store initialized")

	return &CatalogStore{
		db:     db,
		logger: logger.With(zap.String("component", "catalog_store")),
	}, nil
}

// NewCatalogStoreWithDB 用已有的 gorm 连接构建目录库, 测试用。
func NewCatalogStoreWithDB(db *gorm.DB, logger *zap.Logger) *CatalogStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogStore{
		db:     db,
		logger: logger.With(zap.String("component", "catalog_store")),
	}
}

// ListDescriptors 返回指定知识库的全部数据集描述符。
func (s *CatalogStore) ListDescriptors(ctx context.Context, kbID string) ([]DatasetDescriptor, error) {
	var descriptors []DatasetDescriptor
	err := s.db.WithContext(ctx).
		Where("knowledge_base_id = ?", kbID).
		Order("filename").
		Find(&descriptors).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list descriptors for kb %s: %w", kbID, err)
	}
	return descriptors, nil
}

// SaveDescriptor 写入或更新一条描述符。入库流程（本库范围外）在
// 数据集落盘后调用。
func (s *CatalogStore) SaveDescriptor(ctx context.Context, d *DatasetDescriptor) error {
	if err := s.db.WithContext(ctx).Save(d).Error; err != nil {
		return fmt.Errorf("failed to save descriptor %s: %w", d.ID, err)
	}
	return nil
}

// Migrate 建表。
func (s *CatalogStore) Migrate() error {
	return s.db.AutoMigrate(&DatasetDescriptor{})
}

// Close 关闭底层连接。
func (s *CatalogStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Close()
}
