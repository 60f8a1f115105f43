// Copyright (c) VoxelForge Authors.
// Licensed under the MIT License.

/*
Package main 提供 VoxelForge 服务端程序入口。

# 概述

cmd/voxelforge 是体素资产生成服务的可执行入口，提供 HTTP API 服务、
生成计划预览、健康检查和版本查询等子命令。程序支持 YAML 配置文件与
dotenv 加载、结构化日志（zap）、Prometheus 指标、OpenTelemetry 追踪，
并在启动时恢复上次进程遗留的作业。

# 核心类型

  - Server：主服务器，装配作业流水线并管理 HTTP、Metrics 双端口
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、plan（打印生成计划）、version、health
  - 中间件链：Recovery、RealIP、RequestID、OTelTracing、SecurityHeaders、
    RequestLogger、MetricsMiddleware、CORS、RateLimiter（基于 IP）
  - 清单后端：file / memory / redis / database，按配置选择
  - 优雅关闭：信号 → 关闭 HTTP → 等待作业 → 关闭工作池 → 关闭 Metrics → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
