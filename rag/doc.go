// Copyright 2025-2026 kbrag Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package rag 实现知识库问答的混合检索核心。

该包覆盖从用户查询到 prompt 就绪上下文的全部阶段：语义查询分类、
查询改写扩展、多查询向量检索、交叉编码器重排、MMR 多样性选择，
以及把文档片段、数据集元信息和 SQL 查询结果拼装为统一上下文。

# 核心接口/类型

  - VectorSearcher — 向量相似度检索的外部协作者接口
  - Embedder — 查询/文档嵌入的窄接口（llm/embedding.Provider 天然满足）
  - Reranker — 查询-片段对相关性打分接口
  - CompletionProvider — 文本补全接口（改写、SQL 生成、回答合成）
  - QueryClassifier — 基于示例嵌入相似度的查询类型分类器
  - QueryExpander — LLM 查询改写扩展器
  - HybridRetriever — 扩展 → 多查询检索 → 去重 → 重排 → MMR 管线
  - ContextBuilder — 确定性的 prompt 上下文拼装器
  - Engine — query_kb 门面，逐阶段降级，永不向调用方抛出

# 降级契约

管线中每个外部调用（嵌入、向量检索、重排、LLM）失败时都退回到更简单
的前一阶段输出；公开入口返回良构的降级结果而不是错误。
*/
package rag
