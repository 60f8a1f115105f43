// 版权所有 2024 VoxelForge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的字节缓存，用于缓存内容生成器的响应。

# 核心类型

  - Manager：缓存管理器，持有 go-redis 客户端，提供 Get/Set/Delete/Ping。
  - Config：地址、密码、键前缀、默认 TTL、连接池大小、健康检查间隔与可选 TLS。

# 主要能力

  - 键值读写：值为原始字节，键统一加前缀，TTL 为 0 时使用默认值。
  - 健康检查：后台定时 Ping，异常时通过 zap 日志告警，Close 时退出。
  - 错误语义：ErrCacheMiss 哨兵错误与 IsCacheMiss 判断函数。
*/
package cache
