// 软件包 rerank 提供统一的重排提供者接口和实现.
// 重排是可选的质量增强: 提供者不可用时, 上层必须退回相似度排序.
package rerank

import (
	"context"
	"time"
)

// RerankRequest 代表一次重排请求.
type RerankRequest struct {
	Query           string     `json:"query"`
	Documents       []Document `json:"documents"`
	Model           string     `json:"model,omitempty"`
	TopN            int        `json:"top_n,omitempty"`            // Return top N results
	ReturnDocuments bool       `json:"return_documents,omitempty"` // Include document text in response
}

// Document 代表待重排的文档.
type Document struct {
	Text string `json:"text"`
	ID   string `json:"id,omitempty"`
}

// RerankResponse 代表重排请求的响应.
type RerankResponse struct {
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	Results   []RerankResult `json:"results"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// RerankResult 代表单个重排结果.
type RerankResult struct {
	Index          int      `json:"index"`           // Original index in input
	RelevanceScore float64  `json:"relevance_score"` // Higher = more relevant
	Document       Document `json:"document,omitempty"`
}

// Provider 定义统一的重排提供者接口.
type Provider interface {
	// Rerank 根据与查询的相关性重排文档.
	Rerank(ctx context.Context, req *RerankRequest) (*RerankResponse, error)

	// RerankSimple 是简单重排的便捷方法.
	RerankSimple(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error)

	// Name 返回提供者名称.
	Name() string

	// MaxDocuments 返回支持的最大文档数.
	MaxDocuments() int
}
