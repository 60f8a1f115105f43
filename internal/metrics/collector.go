// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Pipeline stages recorded by RecordStage.
const (
	StagePlan       = "plan"
	StageSynthesize = "synthesize"
	StageAssemble   = "assemble"
	StageExport     = "export"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。nil *Collector 的所有方法均为空操作。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 作业指标
	jobsSubmitted prometheus.Counter
	jobsFinished  *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobsInFlight  prometheus.Gauge

	// 流水线指标
	stageDuration  *prometheus.HistogramVec
	partsTotal     *prometheus.CounterVec
	lodVoxels      *prometheus.HistogramVec
	exportsTotal   *prometheus.CounterVec
	generatorCalls *prometheus.CounterVec
	generatorTime  *prometheus.HistogramVec
	fallbacksTotal *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec

	// 工作池指标
	poolActive prometheus.Gauge
	poolQueued prometheus.Gauge
}

// NewCollector 创建注册到默认 registry 的指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, namespace, logger)
}

// NewCollectorWith 创建注册到 reg 的指标收集器
func NewCollectorWith(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{}

	// HTTP 指标
	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	c.httpResponseSize = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 作业指标
	c.jobsSubmitted = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_submitted_total",
		Help:      "Total number of submitted generation jobs",
	})
	c.jobsFinished = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs that reached a terminal state",
		},
		[]string{"status", "code"},
	)
	c.jobDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job execution time in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"status"},
	)
	c.jobsInFlight = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_in_flight",
		Help:      "Number of jobs currently executing",
	})

	// 流水线指标
	c.stageDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"stage", "lod"},
	)
	c.partsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parts_synthesized_total",
			Help:      "Total number of synthesized part fragments by source",
		},
		[]string{"source", "kind"},
	)
	c.lodVoxels = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lod_voxels",
			Help:      "Voxel count of each assembled LOD",
			Buckets:   prometheus.ExponentialBuckets(100, 4, 10),
		},
		[]string{"lod"},
	)
	c.exportsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_exports_total",
			Help:      "Total number of artifact exports",
		},
		[]string{"status"},
	)
	c.generatorCalls = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generator_requests_total",
			Help:      "Total number of content generator requests",
		},
		[]string{"generator", "status"},
	)
	c.generatorTime = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generator_request_duration_seconds",
			Help:      "Content generator request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"generator"},
	)
	c.fallbacksTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generator_fallbacks_total",
			Help:      "Total number of parts that fell back to procedural synthesis",
		},
		[]string{"part"},
	)

	c.cacheLookups = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generator_cache_lookups_total",
			Help:      "Total number of generator response cache lookups",
		},
		[]string{"generator", "result"},
	)

	// 工作池指标
	c.poolActive = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_active_workers",
		Help:      "Number of workers executing a synthesis task",
	})
	c.poolQueued = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_queued_tasks",
		Help:      "Number of synthesis tasks waiting for a worker",
	})

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🧊 作业与流水线指标记录
// =============================================================================

// JobSubmitted 记录一次作业提交
func (c *Collector) JobSubmitted() {
	if c == nil {
		return
	}
	c.jobsSubmitted.Inc()
}

// JobStarted 记录作业开始执行
func (c *Collector) JobStarted() {
	if c == nil {
		return
	}
	c.jobsInFlight.Inc()
}

// JobFinished 记录作业结束，code 为空表示成功
func (c *Collector) JobFinished(status, code string, duration time.Duration) {
	if c == nil {
		return
	}
	c.jobsInFlight.Dec()
	c.jobsFinished.WithLabelValues(status, code).Inc()
	c.jobDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStage 记录流水线阶段耗时
func (c *Collector) RecordStage(stage string, lod int, duration time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage, lodLabel(lod)).Observe(duration.Seconds())
}

// RecordPart 记录一个部件片段的来源
func (c *Collector) RecordPart(source, kind string) {
	if c == nil {
		return
	}
	c.partsTotal.WithLabelValues(source, kind).Inc()
}

// RecordLOD 记录组装后的体素数量
func (c *Collector) RecordLOD(lod, voxels int) {
	if c == nil {
		return
	}
	c.lodVoxels.WithLabelValues(lodLabel(lod)).Observe(float64(voxels))
}

// RecordExport 记录制品导出结果
func (c *Collector) RecordExport(err error) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.exportsTotal.WithLabelValues(status).Inc()
}

// RecordGeneratorRequest 记录内容生成器调用
func (c *Collector) RecordGeneratorRequest(generator string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.generatorCalls.WithLabelValues(generator, status).Inc()
	c.generatorTime.WithLabelValues(generator).Observe(duration.Seconds())
}

// RecordFallback 记录一次程序化回退
func (c *Collector) RecordFallback(partID string) {
	if c == nil {
		return
	}
	c.fallbacksTotal.WithLabelValues(partID).Inc()
}

// RecordCacheLookup 记录生成器缓存查询结果（hit/miss/error）
func (c *Collector) RecordCacheLookup(generator, result string) {
	if c == nil {
		return
	}
	c.cacheLookups.WithLabelValues(generator, result).Inc()
}

// RecordPool 记录工作池负载
func (c *Collector) RecordPool(active, queued int) {
	if c == nil {
		return
	}
	c.poolActive.Set(float64(active))
	c.poolQueued.Set(float64(queued))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func lodLabel(lod int) string {
	if lod <= 0 {
		return "none"
	}
	return strconv.Itoa(lod)
}
