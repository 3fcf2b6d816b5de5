// Copyright 2025-2026 kbrag Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 metrics 提供基于 Prometheus 的检索管线指标采集。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标。注册器可注入:
生产传 nil 走默认 Registry, 测试传独立 Registry 避免重复注册冲突。
所有指标按 namespace 隔离, 支持多维度 label 分组。

# 指标维度

  - 查询指标: 查询总数（按分类类型与是否降级）、端到端耗时、
    各管线阶段（classify/retrieve/sql/synthesize）耗时。
  - LLM 指标: 调用总数与耗时, 按用途（paraphrase/sql/synthesis）分组。
  - 缓存指标: 命中与未命中计数, 按 cache_type 分组。
  - 结构化查询指标: SQL 执行耗时, 按成功/失败分组。
*/
package metrics
