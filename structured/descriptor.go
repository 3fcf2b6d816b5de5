package structured

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ColumnList 有序列名序列, 在目录库中以 JSON 存储。
type ColumnList []string

// Value 实现 driver.Valuer。
func (c ColumnList) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal column list: %w", err)
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner。
func (c *ColumnList) Scan(value any) error {
	if value == nil {
		*c = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported column list type %T", value)
	}

	return json.Unmarshal(data, c)
}

// DatasetDescriptor 一个知识库可用的表格数据集的元信息。
// 由目录库持有, 读取后在 MetadataCache 中按 TTL 缓存。
type DatasetDescriptor struct {
	ID              string     `json:"id" gorm:"primaryKey;type:varchar(64)"`
	KnowledgeBaseID string     `json:"knowledge_base_id" gorm:"index;type:varchar(64);not null"`
	Filename        string     `json:"filename" gorm:"type:varchar(255);not null"`
	StoragePath     string     `json:"storage_path" gorm:"type:varchar(512);not null"`
	ColumnNames     ColumnList `json:"column_names" gorm:"type:text"`
	RowCount        int64      `json:"row_count"`
}

// TableName 指定目录表名。
func (DatasetDescriptor) TableName() string {
	return "dataset_descriptors"
}
