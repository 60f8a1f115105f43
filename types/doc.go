// Copyright (c) VoxelForge Authors.
// Licensed under the MIT License.

/*
Package types 提供 VoxelForge 的全局共享错误类型。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 job、runner、artifact、
api 等上层模块提供统一的错误契约，避免循环依赖。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - 错误工具链：NewError / WithCause / GetErrorCode / IsRetryable
  - 状态码映射：HTTPStatusFor 将错误码映射为默认 HTTP 状态码
*/
package types
