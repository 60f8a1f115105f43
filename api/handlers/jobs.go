package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/BaSui01/voxelforge/api"
	"github.com/BaSui01/voxelforge/artifact"
	"github.com/BaSui01/voxelforge/job"
	"github.com/BaSui01/voxelforge/types"
)

// Submitter 启动生成作业，由 runner.Runner 实现
type Submitter interface {
	Submit(ctx context.Context, prompt job.Prompt) (string, error)
}

// JobReader 读取作业清单，由 job.Registry 实现
type JobReader interface {
	Get(ctx context.Context, id string) (*job.Job, bool)
}

// ArtifactResolver 将制品文件名解析为磁盘路径，由 artifact.Store 实现
type ArtifactResolver interface {
	Resolve(name string) (string, error)
}

// =============================================================================
// 🧊 资产作业 Handler
// =============================================================================

// AssetHandler 处理资产生成提交、作业查询与制品下载
type AssetHandler struct {
	submitter Submitter
	jobs      JobReader
	artifacts ArtifactResolver
	logger    *zap.Logger
}

// NewAssetHandler 创建资产作业处理器
func NewAssetHandler(submitter Submitter, jobs JobReader, artifacts ArtifactResolver, logger *zap.Logger) *AssetHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssetHandler{
		submitter: submitter,
		jobs:      jobs,
		artifacts: artifacts,
		logger:    logger.With(zap.String("component", "asset_handler")),
	}
}

// Routes 挂载 /api/v1 下的作业路由
func (h *AssetHandler) Routes(r chi.Router) {
	r.Post("/assets", h.HandleSubmit)
	r.Get("/jobs/{jobID}", h.HandleGetJob)
}

// HandleSubmit 处理 POST /api/v1/assets
// @Summary 提交资产生成作业
// @Tags 资产
// @Accept json
// @Produce json
// @Param request body api.GenerateAssetRequest true "生成请求"
// @Success 202 {object} Response "作业已受理"
// @Failure 400 {object} Response "请求无效"
// @Router /api/v1/assets [post]
func (h *AssetHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := ValidateContentType(r); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	var req api.GenerateAssetRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	id, err := h.submitter.Submit(r.Context(), job.Prompt{
		Subject:    req.Subject,
		Style:      req.Style,
		Pose:       req.Pose,
		Seed:       req.Seed,
		Resolution: req.Resolution,
		Mode:       req.Mode,
	})
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	h.logger.Info("asset job accepted", zap.String("job_id", id), zap.String("subject", req.Subject))
	w.Header().Set("Location", "/api/v1/jobs/"+id)
	WriteData(w, r, http.StatusAccepted, api.JobAccepted{JobID: id, Status: string(job.StatusQueued)})
}

// HandleGetJob 处理 GET /api/v1/jobs/{jobID}
// @Summary 查询作业清单
// @Tags 资产
// @Produce json
// @Param jobID path string true "作业 ID"
// @Success 200 {object} Response "作业清单"
// @Failure 404 {object} Response "作业不存在"
// @Router /api/v1/jobs/{jobID} [get]
func (h *AssetHandler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	j, ok := h.jobs.Get(r.Context(), id)
	if !ok {
		WriteError(w, r, types.NewError(types.ErrJobNotFound, "job "+id+" not found"), h.logger)
		return
	}
	WriteSuccess(w, r, j)
}

// HandleArtifact 处理 GET /artifacts/voxels/{file}
// @Summary 下载体素制品
// @Tags 资产
// @Produce json
// @Param file path string true "制品文件名"
// @Success 200 {file} file "体素文档"
// @Failure 404 {object} Response "制品不存在"
// @Router /artifacts/voxels/{file} [get]
func (h *AssetHandler) HandleArtifact(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "file")
	path, err := h.artifacts.Resolve(name)
	if err != nil {
		switch {
		case errors.Is(err, artifact.ErrInvalidName):
			WriteError(w, r, types.NewError(types.ErrInvalidRequest, "invalid artifact name").WithCause(err), h.logger)
		case errors.Is(err, artifact.ErrNotFound):
			WriteError(w, r, types.NewError(types.ErrArtifactNotFound, "artifact "+name+" not found"), h.logger)
		default:
			WriteError(w, r, types.NewError(types.ErrStorage, "failed to read artifact").WithCause(err), h.logger)
		}
		return
	}

	// 内容寻址，文件名不变则内容不变
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeFile(w, r, path)
}
