package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"talent-match-go/internal/storage"
	"talent-match-go/internal/tracing"
	"talent-match-go/internal/tracking"
	"talent-match-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// TrackingHandler 负责候选人招聘阶段状态的更新。
type TrackingHandler struct {
	db      *storage.MySQL
	tracker *tracking.StateTracker
	logger  zerolog.Logger
}

// NewTrackingHandler 创建一个新的 TrackingHandler 实例。
func NewTrackingHandler(db *storage.MySQL, tracker *tracking.StateTracker, logger zerolog.Logger) *TrackingHandler {
	return &TrackingHandler{
		db:      db,
		tracker: tracker,
		logger:  logger,
	}
}

// trackingUpdateRequest 是状态更新请求体
type trackingUpdateRequest struct {
	Status        string   `json:"status"`
	UpdatedBy     string   `json:"updated_by,omitempty"`
	RateConfirmed *float64 `json:"rate_confirmed,omitempty"`
	InterviewDate *string  `json:"interview_date,omitempty"` // RFC3339
	Notes         string   `json:"notes,omitempty"`
}

// HandleUpdateTracking 处理候选人状态更新请求。
// PUT /api/v1/jobs/:job_id/candidates/:file_name/tracking
func (h *TrackingHandler) HandleUpdateTracking(ctx context.Context, c *app.RequestContext) {
	ctx, span := handlerTracer.Start(ctx, "handler.UpdateTracking")
	defer span.End()

	jobID := c.Param("job_id")
	fileName := c.Param("file_name")
	if jobID == "" || fileName == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "job_id 和 file_name 不能为空"})
		return
	}
	span.SetAttributes(
		attribute.String("job.id", jobID),
		attribute.String("file_name", fileName),
	)

	var req trackingUpdateRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
		return
	}

	update := tracking.UpdateRequest{
		Status:        types.CandidateStatus(req.Status).Normalize(),
		UpdatedBy:     req.UpdatedBy,
		RateConfirmed: req.RateConfirmed,
		Notes:         req.Notes,
	}
	if req.InterviewDate != nil {
		parsed, err := time.Parse(time.RFC3339, *req.InterviewDate)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeValidation)
			c.JSON(consts.StatusBadRequest, utils.H{"error": "interview_date 必须是RFC3339格式"})
			return
		}
		update.InterviewDate = &parsed
	}

	// 先取当前状态用于转换检查
	candidateModel, err := h.db.GetCandidate(ctx, jobID, fileName)
	if err != nil {
		if errors.Is(err, storage.ErrCandidateNotFound) {
			c.JSON(consts.StatusNotFound, utils.H{"error": "候选人不存在"})
			return
		}
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}

	var current *types.Tracking
	if candidate, convErr := storage.CandidateToDomain(candidateModel); convErr == nil {
		current = candidate.Tracking
	}

	result, err := h.tracker.Transition(ctx, jobID, fileName, current, update)
	if err != nil {
		h.logger.Error().Err(err).
			Str("job_id", jobID).
			Str("file_name", fileName).
			Str("status", req.Status).
			Msg("候选人状态更新失败")
		switch {
		case errors.Is(err, tracking.ErrInvalidStatus):
			tracing.RecordError(span, err, tracing.ErrorTypeValidation)
			c.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
		case errors.Is(err, tracking.ErrInvalidTransition):
			tracing.RecordError(span, err, tracing.ErrorTypeValidation)
			c.JSON(consts.StatusConflict, utils.H{"error": err.Error()})
		case errors.Is(err, storage.ErrCandidateNotFound):
			c.JSON(consts.StatusNotFound, utils.H{"error": "候选人不存在"})
		default:
			tracing.RecordError(span, err, tracing.ErrorTypeDB)
			c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		}
		return
	}

	c.JSON(consts.StatusOK, utils.H{
		"job_id":    jobID,
		"file_name": fileName,
		"tracking":  result,
	})
}

// HandleGetTracking 查询单个候选人的状态。
// GET /api/v1/jobs/:job_id/candidates/:file_name/tracking
func (h *TrackingHandler) HandleGetTracking(ctx context.Context, c *app.RequestContext) {
	ctx, span := handlerTracer.Start(ctx, "handler.GetTracking")
	defer span.End()

	jobID := c.Param("job_id")
	fileName := c.Param("file_name")
	if jobID == "" || fileName == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "job_id 和 file_name 不能为空"})
		return
	}

	candidateModel, err := h.db.GetCandidate(ctx, jobID, fileName)
	if err != nil {
		if errors.Is(err, storage.ErrCandidateNotFound) {
			c.JSON(consts.StatusNotFound, utils.H{"error": "候选人不存在"})
			return
		}
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}

	candidate, err := storage.CandidateToDomain(candidateModel)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}

	c.JSON(consts.StatusOK, utils.H{
		"job_id":    jobID,
		"file_name": fileName,
		"tracking":  candidate.Tracking,
	})
}
