// Copyright (c) VoxelForge Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 VoxelForge HTTP API 的请求处理器实现。

# 概述

handlers 包实现了资产生成作业的提交、作业清单查询、体素制品下载
以及健康检查端点，并提供统一的响应/错误处理。所有 Handler 均遵循
标准 net/http 接口，路由参数通过 chi 读取。

# 核心类型

  - AssetHandler：POST /api/v1/assets、GET /api/v1/jobs/{jobID}、
    GET /artifacts/voxels/{file}
  - HealthHandler：服务健康检查（/health, /healthz, /ready, /version）
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码与字节数
  - HealthCheck：可插拔健康检查接口，PingCheck 用于作业清单后端

# 主要能力

  - 统一响应格式：WriteSuccess / WriteData / WriteError / WriteJSON
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码映射（types.HTTPStatusFor）
  - 制品文件名校验，拒绝路径穿越
*/
package handlers
