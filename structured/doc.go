// Copyright 2025-2026 kbrag Authors. All rights reserved.
// Use of this source code is governed by the project license.

// Package structured 管理知识库的结构化数据面:
// 数据集描述符目录、带 TTL 的描述符缓存、按存储路径复用的
// 关系引擎池, 以及有界的只读 SQL 执行器。
package structured
