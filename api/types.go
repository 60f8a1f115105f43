package api

import "time"

// =============================================================================
// 资产生成请求
// =============================================================================

// GenerateAssetRequest 资产生成请求。
// @Description 资产生成请求结构
type GenerateAssetRequest struct {
	// 主体描述（例如 dragon、knight）
	Subject string `json:"subject" example:"dragon" binding:"required"`
	// 风格
	Style string `json:"style,omitempty" example:"low-poly"`
	// 姿态
	Pose string `json:"pose,omitempty" example:"flying"`
	// 随机种子
	Seed int64 `json:"seed,omitempty" example:"42"`
	// 目标分辨率，0 表示默认 64
	Resolution int `json:"resolution,omitempty" example:"256"`
	// 生成模式，目前只支持 voxel
	Mode string `json:"mode,omitempty" example:"voxel"`
}

// JobAccepted 作业已受理响应。
// @Description 作业已受理
type JobAccepted struct {
	// 作业 ID
	JobID string `json:"jobId" example:"job_0123456789ab"`
	// 作业状态
	Status string `json:"status" example:"queued"`
}

// =============================================================================
// 健康检查类型
// =============================================================================

// ServiceHealthResponse 服务健康状态响应。
// @Description 服务健康状态
type ServiceHealthResponse struct {
	// healthy / degraded / unhealthy
	Status    string                 `json:"status" example:"healthy"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty" example:"1.0.0"`
	Pipeline  *PipelineStats         `json:"pipeline,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// PipelineStats 合成工作池负载。
type PipelineStats struct {
	Workers       int   `json:"workers" example:"8"`
	ActiveWorkers int   `json:"activeWorkers" example:"3"`
	QueuedTasks   int   `json:"queuedTasks" example:"12"`
	PanickedTasks int64 `json:"panickedTasks,omitempty"`
}

// CheckResult 单个检查结果。
type CheckResult struct {
	// pass / fail
	Status  string `json:"status" example:"pass"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty" example:"1.2ms"`
	// 可选依赖失败只降级，不影响就绪
	Optional bool `json:"optional,omitempty"`
}

// VersionInfo 版本信息。
type VersionInfo struct {
	Version   string `json:"version" example:"1.0.0"`
	BuildTime string `json:"build_time,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
}

// =============================================================================
// 错误类型
// =============================================================================

// ErrorDetail 表示错误详细信息。
// @Description 错误详细结构
type ErrorDetail struct {
	// 错误代码
	Code string `json:"code" example:"JOB_NOT_FOUND"`
	// 人类可读的错误消息
	Message string `json:"message" example:"job not found"`
	// 请求是否可以重试
	Retryable bool `json:"retryable,omitempty" example:"false"`
}
