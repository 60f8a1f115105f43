package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/voxelforge/api"
)

// readyTimeout 就绪检查总超时
const readyTimeout = 5 * time.Second

// 健康状态
const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthCheck 依赖检查
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

type registeredCheck struct {
	check    HealthCheck
	optional bool
}

// HealthHandler 服务存活、就绪与版本端点
type HealthHandler struct {
	logger  *zap.Logger
	version api.VersionInfo

	mu     sync.RWMutex
	checks []registeredCheck
	stats  func() api.PipelineStats
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(version api.VersionInfo, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger.With(zap.String("component", "health")),
		version: version,
	}
}

// RegisterCheck 注册关键依赖，失败时 /ready 返回 503
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.register(check, false)
}

// RegisterOptionalCheck 注册可选依赖，失败时状态降级但仍就绪
func (h *HealthHandler) RegisterOptionalCheck(check HealthCheck) {
	h.register(check, true)
}

func (h *HealthHandler) register(check HealthCheck, optional bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, registeredCheck{check: check, optional: optional})
}

// SetPipelineStats 设置工作池负载来源，/health 与 /ready 会附带该信息
func (h *HealthHandler) SetPipelineStats(fn func() api.PipelineStats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats = fn
}

func (h *HealthHandler) pipeline() *api.PipelineStats {
	h.mu.RLock()
	fn := h.stats
	h.mu.RUnlock()
	if fn == nil {
		return nil
	}
	s := fn()
	return &s
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 请求，不执行依赖检查
// @Summary 健康检查
// @Tags 健康
// @Produce json
// @Success 200 {object} api.ServiceHealthResponse "服务正常"
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, api.ServiceHealthResponse{
		Status:    statusHealthy,
		Timestamp: time.Now(),
		Version:   h.version.Version,
		Pipeline:  h.pipeline(),
	})
}

// HandleHealthz 处理 /healthz 请求（活跃度探针，只检查进程存活）
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, api.ServiceHealthResponse{
		Status:    statusHealthy,
		Timestamp: time.Now(),
	})
}

// HandleReady 处理 /ready 请求，并发执行所有注册的检查。
// 关键依赖失败返回 503，仅可选依赖失败时返回 200 与 degraded。
// @Summary 就绪检查
// @Tags 健康
// @Produce json
// @Success 200 {object} api.ServiceHealthResponse "服务已准备就绪"
// @Failure 503 {object} api.ServiceHealthResponse "服务尚未准备好"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]registeredCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	results := make([]api.CheckResult, len(checks))
	var g errgroup.Group
	for i, rc := range checks {
		g.Go(func() error {
			results[i] = h.run(ctx, rc)
			return nil
		})
	}
	_ = g.Wait()

	resp := api.ServiceHealthResponse{
		Status:    statusHealthy,
		Timestamp: time.Now(),
		Version:   h.version.Version,
		Pipeline:  h.pipeline(),
		Checks:    make(map[string]api.CheckResult, len(checks)),
	}
	for i, rc := range checks {
		res := results[i]
		resp.Checks[rc.check.Name()] = res
		if res.Status == "pass" {
			continue
		}
		if rc.optional {
			if resp.Status == statusHealthy {
				resp.Status = statusDegraded
			}
			continue
		}
		resp.Status = statusUnhealthy
	}

	code := http.StatusOK
	if resp.Status == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, resp)
}

func (h *HealthHandler) run(ctx context.Context, rc registeredCheck) api.CheckResult {
	start := time.Now()
	err := rc.check.Check(ctx)
	latency := time.Since(start)

	res := api.CheckResult{Status: "pass", Latency: latency.String(), Optional: rc.optional}
	if err != nil {
		res.Status = "fail"
		res.Message = err.Error()
		h.logger.Warn("health check failed",
			zap.String("check", rc.check.Name()),
			zap.Bool("optional", rc.optional),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
	}
	return res
}

// HandleVersion 处理 /version 请求
func (h *HealthHandler) HandleVersion(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, h.version)
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// PingCheck 以 ping 函数实现的健康检查
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建 ping 健康检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }
