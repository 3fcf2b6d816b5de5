// Copyright 2025-2026 kbrag Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 cache 提供可选的共享 Redis 缓存层。

# 概述

本包封装 go-redis 客户端, 为描述符缓存等组件提供跨实例的共享层。
多实例部署时用它分摊目录库的回源压力; 单实例场景可以完全不配,
上层组件把 nil Manager 视为"无共享层"。

# 核心类型

  - Manager: 缓存管理器, 提供 Get/Set/Delete 基础操作
    以及 GetJSON/SetJSON 便捷序列化方法。
  - Config: 缓存配置, 包含地址、密码、连接池大小与默认 TTL。

# 错误语义

未命中返回哨兵错误 ErrCacheMiss, 用 IsCacheMiss 判断;
其余错误一律视为共享层故障, 调用方应降级到本地缓存或直接回源。
*/
package cache
