// 版权所有 2024 VoxelForge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理，支持非阻塞启动、
优雅关闭与异步错误传播。

# 概述

本包通过 Manager 封装 net/http.Server，统一管理监听、服务、
关闭与错误传播流程。API 端口与 metrics 端口各持有一个 Manager，
信号处理由调用方通过 signal.NotifyContext 完成。

# 核心类型

  - Manager：HTTP 服务器管理器，持有 http.Server、net.Listener
    与异步错误通道，提供 Start/Shutdown/Errors 等生命周期方法。
  - Config：服务器配置，包含监听地址、读写超时、空闲超时、
    请求头读取超时、最大请求头大小、优雅关闭超时与可选 TLS 配置。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务，主线程不阻塞。
  - 优雅关闭：Shutdown 在配置的超时内完成请求排空，超时后强制关闭剩余连接。
  - 连接追踪：通过 ConnState 统计活跃连接，ActiveConns 返回当前数量。
  - 错误传播：Errors() 返回异步错误通道，供调用方监控服务异常。
  - TLS 支持：Config.TLS 非空时以 tlsutil 加固配置包装监听器。
  - 状态查询：IsRunning/Addr 提供运行状态与监听地址查询。
*/
package server
