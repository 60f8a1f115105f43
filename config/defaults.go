// =============================================================================
// 📦 VoxelForge 默认配置
// =============================================================================
package config

import (
	"runtime"
	"time"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Pipeline:  DefaultPipelineConfig(),
		Generator: DefaultGeneratorConfig(),
		Storage:   DefaultStorageConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}

// DefaultPipelineConfig 返回默认流水线配置
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Workers:           runtime.NumCPU(),
		QueueSize:         256,
		MaxConcurrentJobs: 4,
		PartTimeout:       60 * time.Second,
		MaxVoxelsPerPart:  200000,
		LODCap:            2048,
		RecoverOnStart:    true,
	}
}

// DefaultGeneratorConfig 返回默认内容生成器配置
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Enabled:           false,
		Provider:          "chat",
		BaseURL:           "https://api.openai.com",
		Model:             "gpt-4o-mini",
		Temperature:       0.2,
		Timeout:           90 * time.Second,
		MaxRetries:        2,
		RequestsPerSecond: 2,
		Burst:             4,
		CacheEnabled:      false,
		CacheTTL:          24 * time.Hour,
	}
}

// DefaultStorageConfig 返回默认存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		ArtifactsDir:    "artifacts",
		ManifestBackend: "file",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		PoolSize:  10,
		KeyPrefix: "voxelforge:",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "voxelforge",
		Name:            "voxelforge.db",
		SSLMode:         "disable",
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "voxelforge",
		SampleRate:   0.1,
	}
}
