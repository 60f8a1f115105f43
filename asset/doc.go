// Copyright (c) VoxelForge Authors.
// Licensed under the MIT License.

/*
Package asset 提供体素资产的数据模型与生成核心：规划、部件合成与装配。

# 概述

asset 不做任何 I/O。Planner 将提示词确定性地分解为 GenerationPlan（部件
模板 + LOD 阶梯），Synthesizer 在单个 LOD 上为单个部件生成体素片段，
Assemble 按计划顺序合并片段并去重（先写者胜）。

# 核心类型

  - GenerationPlan / PartSpec / FracBox：计划与按 LOD 缩放的部件包围盒
  - Planner / Template：模板匹配与 LOD 阶梯裁剪
  - Synthesizer / StrategyTable / Builder：生成器优先、程序化兜底的部件合成
  - ContentGenerator：外部内容生成器边界，输出经 JSON Schema 严格校验
  - VoxelSet / Fragment / Voxel：装配结果与中间片段

# 主要能力

  - 确定性规划：相同输入产出逐字节相同的计划
  - 策略表：按部件类型注册程序化形状，可扩展
  - 体素上限：每个部件的输出受 DefaultMaxVoxels 限制
*/
package asset
