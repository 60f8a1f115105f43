package config

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, PipelineConfig{}, cfg.Pipeline)
	assert.NotEqual(t, GeneratorConfig{}, cfg.Generator)
	assert.NotEqual(t, StorageConfig{}, cfg.Storage)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
}

func TestDefaultPipelineConfig(t *testing.T) {
	cfg := DefaultPipelineConfig()
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Equal(t, 4, cfg.MaxConcurrentJobs)
	assert.Equal(t, 60*time.Second, cfg.PartTimeout)
	assert.Equal(t, 200000, cfg.MaxVoxelsPerPart)
	assert.Equal(t, 2048, cfg.LODCap)
}

func TestDefaultGeneratorConfig(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	assert.False(t, cfg.Enabled, "generator is off by default")
	assert.Equal(t, "chat", cfg.Provider)
	assert.Positive(t, cfg.RequestsPerSecond)
}

func TestDefaultStorageConfig(t *testing.T) {
	cfg := DefaultStorageConfig()
	assert.Equal(t, "artifacts", cfg.ArtifactsDir)
	assert.Equal(t, "file", cfg.ManifestBackend)
}

func TestDefaultConfig_Validates(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}
