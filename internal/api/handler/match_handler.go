package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"talent-match-go/internal/config"
	"talent-match-go/internal/matcher"
	"talent-match-go/internal/processor"
	"talent-match-go/internal/storage"
	"talent-match-go/internal/tracing"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var handlerTracer = otel.Tracer("talent-match-go/api/handler")

// MatchHandler 负责处理匹配评估相关的请求。
type MatchHandler struct {
	cfg     *config.Config
	storage *storage.Storage
	service processor.MatchService
	logger  zerolog.Logger
}

// NewMatchHandler 创建一个新的 MatchHandler 实例。
func NewMatchHandler(cfg *config.Config, storageManager *storage.Storage, service processor.MatchService, logger zerolog.Logger) *MatchHandler {
	return &MatchHandler{
		cfg:     cfg,
		storage: storageManager,
		service: service,
		logger:  logger,
	}
}

// batchMatchRequest 是批量评估请求体
type batchMatchRequest struct {
	// FileNames 为空表示评估全部候选人
	FileNames []string `json:"file_names,omitempty"`
	// Sync 为true时同步执行并返回结果，否则投递到队列
	Sync        bool   `json:"sync,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// HandleScoreCandidate 处理单个候选人的评估请求。
// POST /api/v1/jobs/:job_id/candidates/:file_name/match
func (h *MatchHandler) HandleScoreCandidate(ctx context.Context, c *app.RequestContext) {
	ctx, span := handlerTracer.Start(ctx, "handler.ScoreCandidate")
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

	result, err := h.service.ScoreCandidate(ctx, jobID, fileName)
	if err != nil {
		h.writeMatchError(c, span, jobID, fileName, err)
		return
	}

	c.JSON(consts.StatusOK, utils.H{
		"job_id": jobID,
		"result": result,
	})
}

// HandleBatchMatch 处理整个岗位的批量评估请求。
// POST /api/v1/jobs/:job_id/match
func (h *MatchHandler) HandleBatchMatch(ctx context.Context, c *app.RequestContext) {
	ctx, span := handlerTracer.Start(ctx, "handler.BatchMatch")
	defer span.End()

	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "job_id 不能为空"})
		return
	}
	span.SetAttributes(attribute.String("job.id", jobID))

	var req batchMatchRequest
	if len(c.Request.Body()) > 0 {
		if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeValidation)
			c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
			return
		}
	}

	// 同步模式或者队列不可用时直接执行
	if req.Sync || h.storage.RabbitMQ == nil {
		results, err := h.service.RankJobCandidates(ctx, jobID, req.FileNames)
		if err != nil {
			h.writeMatchError(c, span, jobID, "", err)
			return
		}
		c.JSON(consts.StatusOK, utils.H{
			"job_id":  jobID,
			"count":   len(results),
			"results": results,
		})
		return
	}

	task := storage.MatchTaskMessage{
		JobID:       jobID,
		FileNames:   req.FileNames,
		RequestedBy: req.RequestedBy,
		SubmittedAt: time.Now().Unix(),
	}
	if err := h.service.SubmitMatchTask(ctx, task); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "投递评估任务失败"})
		return
	}

	c.JSON(consts.StatusAccepted, utils.H{
		"job_id":  jobID,
		"status":  "queued",
		"message": "评估任务已提交，请稍后查询结果",
	})
}

// HandleListCandidates 返回岗位下去重后的候选人列表。
// GET /api/v1/jobs/:job_id/candidates
func (h *MatchHandler) HandleListCandidates(ctx context.Context, c *app.RequestContext) {
	ctx, span := handlerTracer.Start(ctx, "handler.ListCandidates")
	defer span.End()

	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "job_id 不能为空"})
		return
	}
	span.SetAttributes(attribute.String("job.id", jobID))

	candidates, err := h.service.ListRankedCandidates(ctx, jobID)
	if err != nil {
		h.writeMatchError(c, span, jobID, "", err)
		return
	}

	// 可选的状态过滤
	if statusFilter := c.Query("status"); statusFilter != "" {
		filtered := candidates[:0]
		for _, candidate := range candidates {
			if candidate.Tracking != nil && string(candidate.Tracking.Status) == statusFilter {
				filtered = append(filtered, candidate)
			}
		}
		candidates = filtered
	}

	c.JSON(consts.StatusOK, utils.H{
		"job_id":     jobID,
		"count":      len(candidates),
		"candidates": candidates,
	})
}

// writeMatchError 将服务层错误映射为HTTP响应
func (h *MatchHandler) writeMatchError(c *app.RequestContext, span trace.Span, jobID, fileName string, err error) {
	h.logger.Error().Err(err).
		Str("job_id", jobID).
		Str("file_name", fileName).
		Msg("匹配请求处理失败")

	switch {
	case errors.Is(err, storage.ErrJobNotFound), errors.Is(err, storage.ErrCandidateNotFound):
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		c.JSON(consts.StatusNotFound, utils.H{"error": err.Error()})
	case errors.Is(err, matcher.ErrInvalidInput):
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		c.JSON(consts.StatusUnprocessableEntity, utils.H{"error": err.Error()})
	case errors.Is(err, matcher.ErrModelParse):
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		c.JSON(consts.StatusBadGateway, utils.H{"error": "模型返回结果不可用", "detail": err.Error()})
	case errors.Is(err, matcher.ErrModelCall):
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		c.JSON(consts.StatusBadGateway, utils.H{"error": "模型调用失败", "detail": err.Error()})
	default:
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
	}
}

// StartMatchTaskConsumer 启动评估任务消费者。
// 消费失败的消息会nack重新入队，由RabbitMQ重试。
func (h *MatchHandler) StartMatchTaskConsumer(ctx context.Context) (<-chan struct{}, error) {
	mq := h.storage.RabbitMQ
	if mq == nil {
		return nil, errors.New("消息队列未初始化")
	}

	cfg := &h.cfg.RabbitMQ
	if err := mq.EnsureExchange(cfg.MatchEventsExchange, "direct", true); err != nil {
		return nil, err
	}
	if err := mq.EnsureQueue(cfg.MatchTaskQueue, true); err != nil {
		return nil, err
	}
	if err := mq.BindQueue(cfg.MatchTaskQueue, cfg.MatchEventsExchange, cfg.MatchNeededKey); err != nil {
		return nil, err
	}

	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 5
	}

	return mq.StartConsumer(ctx, cfg.MatchTaskQueue, prefetch, func(body []byte) bool {
		var task storage.MatchTaskMessage
		if err := json.Unmarshal(body, &task); err != nil {
			// 消息体损坏，重新入队也无法恢复
			h.logger.Error().Err(err).Msg("评估任务消息反序列化失败，丢弃")
			return true
		}

		if err := h.service.ProcessMatchTask(ctx, task); err != nil {
			h.logger.Error().Err(err).Str("job_id", task.JobID).Msg("评估任务处理失败")
			return false
		}
		return true
	})
}
