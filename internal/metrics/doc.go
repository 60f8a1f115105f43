// 版权所有 2024 VoxelForge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的体素生成流水线指标采集能力，覆盖
HTTP、作业、流水线阶段、内容生成器与工作池五个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，默认注册到全局 Registry，也可通过 NewCollectorWith
指定独立 Registry。所有指标按 namespace 隔离。nil *Collector 的
所有记录方法均为空操作，调用方无需判空。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、响应体大小，按 method/path/status 分组。
  - 作业指标：提交数、终态计数（status/code）、执行耗时、执行中作业数。
  - 流水线指标：各阶段（plan/synthesize/assemble/export）耗时，
    部件片段来源计数，每个 LOD 的体素数量，制品导出结果。
  - 生成器指标：请求数、请求耗时与程序化回退次数。
  - 工作池指标：活跃 worker 数与排队任务数。
*/
package metrics
