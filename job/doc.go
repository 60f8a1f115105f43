// Copyright (c) VoxelForge Authors.
// Licensed under the MIT License.

/*
Package job 提供作业注册表与可持久化的作业清单（manifest）。

# 概述

Registry 是作业记录的唯一所有者：创建、查询、追加进度、挂载计划与产物、
完成与失败。每个作业的变更在各自的互斥锁下串行执行，并在返回前通过
Backend 原子持久化。状态只能沿 queued → running → completed|failed
单调推进，终态作业拒绝任何变更，未知 id 的变更为空操作。

# 后端

  - FileBackend：<artifacts>/manifests/<jobId>.json，临时文件 + rename
  - RedisBackend：go-redis，文档 + 活跃作业集合，事务流水线写入
  - DatabaseBackend：GORM，job_manifests 表 upsert（sqlite / postgres / mysql）
  - MemoryBackend：测试与临时运行

# 恢复

进程重启后 Recoverable 列出仍处于 queued / running 的作业，Resume 重新
派发；running 作业保持状态并追加一条恢复进度。
*/
package job
