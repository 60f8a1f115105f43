// Package config 提供 VoxelForge 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → dotenv 文件 → 环境变量 的顺序叠加，
// 环境变量统一使用 VOXELFORGE_ 前缀，嵌套字段以下划线连接，
// 例如 VOXELFORGE_PIPELINE_WORKERS、VOXELFORGE_GENERATOR_ENABLED。
package config
