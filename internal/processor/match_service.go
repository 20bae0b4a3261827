package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"talent-match-go/internal/agent"
	"talent-match-go/internal/config"
	"talent-match-go/internal/constants"
	"talent-match-go/internal/matcher"
	"talent-match-go/internal/storage"
	"talent-match-go/internal/storage/models"
	"talent-match-go/internal/types"
	"talent-match-go/pkg/ratelimit"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrStorageNotInit = errors.New("storage is not initialized")
	ErrScorerNotInit  = errors.New("scorer is not initialized")
	ErrNoCandidates   = errors.New("no candidates registered for job")
)

var tracer = otel.Tracer("talent-match-go/processor")

// 单次模型调用可以覆盖的最大批量；更大的批量走worker池逐个评估
const singleCallBatchLimit = 8

// matchServiceImpl 是MatchService的实现
// 采用Facade模式，内部持有所有需要的组件，但不暴露给外部
type matchServiceImpl struct {
	components Components
	config     *config.Config
	logger     zerolog.Logger
}

// ServiceOption 配置MatchService
type ServiceOption func(*matchServiceImpl)

// WithScorer 注入自定义评估器（测试用）
func WithScorer(s Scorer) ServiceOption {
	return func(svc *matchServiceImpl) {
		svc.components.Scorer = s
	}
}

// WithRanker 注入自定义批量排序器（测试用）
func WithRanker(r Ranker) ServiceOption {
	return func(svc *matchServiceImpl) {
		svc.components.Ranker = r
	}
}

// NewMatchService 创建匹配评估服务实例
func NewMatchService(cfg *config.Config, storageManager *storage.Storage, logger zerolog.Logger, options ...ServiceOption) (MatchService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	if storageManager == nil {
		return nil, ErrStorageNotInit
	}
	// NewStorage容忍部分组件初始化失败，但匹配服务离不开MySQL
	if storageManager.MySQL == nil {
		return nil, fmt.Errorf("%w: MySQL不可用", ErrStorageNotInit)
	}

	svc := &matchServiceImpl{
		components: Components{Storage: storageManager},
		config:     cfg,
		logger:     logger,
	}

	for _, opt := range options {
		opt(svc)
	}

	// 未注入评估组件时，按配置构建LLM评估链
	if svc.components.Scorer == nil || svc.components.Ranker == nil {
		if cfg.LLM.APIKey == "" {
			return nil, fmt.Errorf("LLM API key未配置")
		}

		modelName := cfg.GetModelForTask("match_scoring")
		chatModel, err := agent.NewOpenAIChatModel(cfg.LLM.APIKey, modelName, cfg.LLM.APIURL, cfg.Matcher.Temperature)
		if err != nil {
			return nil, fmt.Errorf("创建聊天模型失败: %w", err)
		}

		retryWait := time.Duration(cfg.Matcher.RetryWaitSecond) * time.Second
		limited := ratelimit.NewLLMWithRateLimit(chatModel, modelName, cfg.ModelQPMLimits,
			cfg.Matcher.QPM, cfg.Matcher.MaxRetries, retryWait)

		if svc.components.Scorer == nil {
			svc.components.Scorer = matcher.NewLLMMatchScorer(limited, logger)
		}
		if svc.components.Ranker == nil {
			svc.components.Ranker = matcher.NewBatchRanker(limited, logger,
				matcher.WithRankThreshold(cfg.Matcher.RankThreshold))
		}
	}

	return svc, nil
}

// evalTimeout 单次模型调用的超时
func (s *matchServiceImpl) evalTimeout() time.Duration {
	return config.GetDuration(s.config.Matcher.EvalTimeout, 60*time.Second)
}

// ScoreCandidate 评估单个候选人并持久化结果
func (s *matchServiceImpl) ScoreCandidate(ctx context.Context, jobID, fileName string) (*types.MatchResult, error) {
	ctx, span := tracer.Start(ctx, "processor.ScoreCandidate")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", jobID),
		attribute.String("file_name", fileName),
	)

	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	resume, err := s.loadResume(ctx, jobID, fileName)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.evalTimeout())
	defer cancel()

	result, err := s.components.Scorer.ScoreMatch(callCtx, *job, *resume)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scoring failed")
		return nil, err
	}

	if err := s.persistResult(ctx, jobID, *resume, result); err != nil {
		span.RecordError(err)
		return nil, err
	}

	// 评估结果变化后，旧的排序缓存不再可信
	if s.components.Storage.Redis != nil {
		if err := s.components.Storage.Redis.InvalidateRankedCandidates(ctx, jobID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("使排序缓存失效失败")
		}
	}

	span.SetStatus(codes.Ok, "")
	return result, nil
}

// RankJobCandidates 评估岗位下的候选人并返回排序结果。
// fileNames为空时评估全部已登记候选人。小批量走单次模型调用，
// 大批量走有界worker池逐个评估；两条路径都在本地重新过滤排序。
func (s *matchServiceImpl) RankJobCandidates(ctx context.Context, jobID string, fileNames []string) ([]types.MatchResult, error) {
	ctx, span := tracer.Start(ctx, "processor.RankJobCandidates")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	// 分布式锁避免同一岗位的并发重复评估
	var lockValue string
	if s.components.Storage.Redis != nil {
		lockKey := fmt.Sprintf(constants.KeyMatchLock, jobID)
		var err error
		lockValue, err = s.components.Storage.Redis.AcquireLock(ctx, lockKey, constants.MatchLockDuration)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("获取匹配锁失败，继续执行")
		} else if lockValue == "" {
			return nil, fmt.Errorf("岗位 %s 的评估正在进行中", jobID)
		}
		if lockValue != "" {
			defer func() {
				if _, err := s.components.Storage.Redis.ReleaseLock(context.WithoutCancel(ctx), lockKey, lockValue); err != nil {
					s.logger.Warn().Err(err).Str("job_id", jobID).Msg("释放匹配锁失败")
				}
			}()
		}
	}

	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	resumes, err := s.loadResumes(ctx, jobID, fileNames)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(resumes) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCandidates, jobID)
	}
	span.SetAttributes(attribute.Int("resume.count", len(resumes)))

	var results []types.MatchResult
	if len(resumes) <= singleCallBatchLimit {
		results, err = s.rankSingleCall(ctx, *job, resumes)
	} else {
		results, err = s.rankWithWorkerPool(ctx, *job, resumes)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ranking failed")
		return nil, err
	}

	resumeIndex := make(map[string]types.ResumeProfile, len(resumes))
	for _, r := range resumes {
		resumeIndex[r.FileName] = r
	}
	if err := s.components.Storage.MySQL.SaveMatchResults(ctx, jobID, resumeIndex, results); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.enqueueRankedEvent(ctx, jobID, results)

	// 缓存完整排序结果作为本轮评估的golden set
	if s.components.Storage.Redis != nil && len(results) > 0 {
		if err := s.components.Storage.Redis.CacheRankedCandidates(ctx, jobID, results, constants.RankedSetCacheDuration); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("缓存排序结果失败")
		}
	}

	span.SetAttributes(attribute.Int("ranked.count", len(results)))
	span.SetStatus(codes.Ok, "")
	return results, nil
}

// rankSingleCall 单次模型调用完成整批评估
func (s *matchServiceImpl) rankSingleCall(ctx context.Context, job types.JobProfile, resumes []types.ResumeProfile) ([]types.MatchResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.evalTimeout())
	defer cancel()
	return s.components.Ranker.RankCandidates(callCtx, job, resumes)
}

// rankWithWorkerPool 有界worker池逐个评估。单个候选人失败只记录
// 日志并跳过，不影响其余候选人；全部失败时返回错误而不是空列表。
func (s *matchServiceImpl) rankWithWorkerPool(ctx context.Context, job types.JobProfile, resumes []types.ResumeProfile) ([]types.MatchResult, error) {
	concurrency := s.config.Matcher.MaxConcurrent
	if concurrency <= 0 {
		concurrency = 4
	}

	semaphore := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	results := make([]types.MatchResult, 0, len(resumes))
	var failures int

	for _, resume := range resumes {
		wg.Add(1)
		semaphore <- struct{}{}
		go func(resume types.ResumeProfile) {
			defer wg.Done()
			defer func() { <-semaphore }()

			callCtx, cancel := context.WithTimeout(ctx, s.evalTimeout())
			defer cancel()

			result, err := s.components.Scorer.ScoreMatch(callCtx, job, resume)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				s.logger.Warn().Err(err).
					Str("job_id", job.JobID).
					Str("file_name", resume.FileName).
					Msg("候选人评估失败，跳过")
				return
			}
			results = append(results, *result)
		}(resume)
	}
	wg.Wait()

	if len(results) == 0 {
		return nil, fmt.Errorf("%w: 全部 %d 个候选人评估失败", matcher.ErrModelCall, failures)
	}

	// 本地应用阈值、排序和名次
	threshold := s.config.Matcher.RankThreshold
	if threshold <= 0 {
		threshold = constants.DefaultRankThreshold
	}
	kept := results[:0]
	for _, r := range results {
		if r.MatchPercentage >= threshold {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].MatchPercentage > kept[j].MatchPercentage
	})
	for i := range kept {
		kept[i].Ranking = i + 1
	}

	return kept, nil
}

// ListRankedCandidates 读取去重后的排序结果，缓存优先
func (s *matchServiceImpl) ListRankedCandidates(ctx context.Context, jobID string) ([]types.Candidate, error) {
	ctx, span := tracer.Start(ctx, "processor.ListRankedCandidates")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	candidateModels, err := s.components.Storage.MySQL.ListCandidates(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	candidates := make([]types.Candidate, 0, len(candidateModels))
	for i := range candidateModels {
		candidate, err := storage.CandidateToDomain(&candidateModels[i])
		if err != nil {
			s.logger.Warn().Err(err).Str("file_name", candidateModels[i].FileName).Msg("候选人记录损坏，跳过")
			continue
		}
		candidates = append(candidates, candidate)
	}

	// 读取路径上合并重复投递，保留高分副本
	deduped := matcher.FilterDuplicates(candidates)

	// 本轮评估的golden set还在缓存中时，按其名次排列
	s.applyCachedRanking(ctx, jobID, deduped)

	span.SetAttributes(
		attribute.Int("candidates.total", len(candidates)),
		attribute.Int("candidates.deduped", len(deduped)),
	)
	return deduped, nil
}

// applyCachedRanking 用缓存的排序结果覆盖列表顺序，缓存未命中时保持
// 数据库的分数降序。不在golden set里的候选人排在末尾。
func (s *matchServiceImpl) applyCachedRanking(ctx context.Context, jobID string, candidates []types.Candidate) {
	if s.components.Storage.Redis == nil {
		return
	}
	cached, err := s.components.Storage.Redis.GetRankedCandidates(ctx, jobID)
	if err != nil || len(cached) == 0 {
		return
	}

	ranking := make(map[string]int, len(cached))
	for _, r := range cached {
		ranking[r.FileName] = r.Ranking
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ri, iOK := ranking[candidates[i].FileName]
		rj, jOK := ranking[candidates[j].FileName]
		if iOK && jOK {
			return ri < rj
		}
		return iOK && !jOK
	})
}

// SubmitMatchTask 将评估任务投递到消息队列
func (s *matchServiceImpl) SubmitMatchTask(ctx context.Context, task storage.MatchTaskMessage) error {
	if s.components.Storage.RabbitMQ == nil {
		return fmt.Errorf("消息队列未初始化")
	}
	if task.SubmittedAt == 0 {
		task.SubmittedAt = time.Now().Unix()
	}
	return s.components.Storage.RabbitMQ.PublishJSON(ctx,
		s.config.RabbitMQ.MatchEventsExchange,
		s.config.RabbitMQ.MatchNeededKey,
		task, true)
}

// ProcessMatchTask 消费一条评估任务
func (s *matchServiceImpl) ProcessMatchTask(ctx context.Context, task storage.MatchTaskMessage) error {
	if task.JobID == "" {
		return fmt.Errorf("评估任务缺少job_id")
	}

	s.logger.Info().
		Str("job_id", task.JobID).
		Int("file_count", len(task.FileNames)).
		Msg("开始处理评估任务")

	_, err := s.RankJobCandidates(ctx, task.JobID, task.FileNames)
	return err
}

// persistResult 落库单次评估结果并登记outbox事件
func (s *matchServiceImpl) persistResult(ctx context.Context, jobID string, resume types.ResumeProfile, result *types.MatchResult) error {
	if err := s.components.Storage.MySQL.SaveMatchResult(ctx, jobID, resume, result); err != nil {
		return err
	}

	event := storage.MatchCompletedEvent{
		JobID:           jobID,
		FileName:        result.FileName,
		MatchPercentage: result.MatchPercentage,
		Ranking:         result.Ranking,
		EvaluatedAt:     result.EvaluatedAt,
	}
	s.enqueueOutboxEvent(ctx, jobID, storage.EventTypeMatchCompleted, event)
	return nil
}

func (s *matchServiceImpl) enqueueRankedEvent(ctx context.Context, jobID string, results []types.MatchResult) {
	for i := range results {
		event := storage.MatchCompletedEvent{
			JobID:           jobID,
			FileName:        results[i].FileName,
			MatchPercentage: results[i].MatchPercentage,
			Ranking:         results[i].Ranking,
			EvaluatedAt:     results[i].EvaluatedAt,
		}
		s.enqueueOutboxEvent(ctx, jobID, storage.EventTypeBatchRanked, event)
	}
}

// enqueueOutboxEvent 将事件写入outbox表，由relay异步发布。
// 事件投递失败不能让评估结果丢失，所以只记日志。
func (s *matchServiceImpl) enqueueOutboxEvent(ctx context.Context, jobID, eventType string, event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("序列化事件失败")
		return
	}

	msg := &models.OutboxMessage{
		AggregateID:      jobID,
		EventType:        eventType,
		Payload:          string(payload),
		TargetExchange:   s.config.RabbitMQ.MatchEventsExchange,
		TargetRoutingKey: s.config.RabbitMQ.MatchDoneKey,
	}
	if err := s.components.Storage.MySQL.EnqueueOutboxMessage(ctx, msg); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("写入outbox失败")
	}
}

// loadJob 加载岗位，描述全文优先走Redis缓存
func (s *matchServiceImpl) loadJob(ctx context.Context, jobID string) (*types.JobProfile, error) {
	job, err := s.components.Storage.MySQL.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if s.components.Storage.Redis == nil {
		return job, nil
	}

	if job.Description == "" {
		// 描述全文可能只存在对象存储，读穿Redis缓存
		if text, err := s.components.Storage.Redis.GetJobDescriptionText(ctx, jobID); err == nil && text != "" {
			job.Description = text
		}
	} else {
		if err := s.components.Storage.Redis.SetJobDescriptionText(ctx, jobID, job.Description); err != nil {
			s.logger.Debug().Err(err).Str("job_id", jobID).Msg("缓存岗位描述失败")
		}
	}
	return job, nil
}

// loadResume 加载单个候选人的解析简历，MySQL缺失时回退MinIO解析文本
func (s *matchServiceImpl) loadResume(ctx context.Context, jobID, fileName string) (*types.ResumeProfile, error) {
	candidate, err := s.components.Storage.MySQL.GetCandidate(ctx, jobID, fileName)
	if err != nil {
		return nil, err
	}

	domain, err := storage.CandidateToDomain(candidate)
	if err != nil {
		return nil, err
	}

	resume := domain.Resume
	resume.FileName = fileName
	if resume.Name == "" {
		resume.Name = candidate.Name
	}
	if resume.Email == "" {
		resume.Email = candidate.Email
	}
	if len(resume.KeySkills) == 0 {
		resume.KeySkills = domain.Skills
	}

	// 结构化简历为空时回退到对象存储里的解析文本
	if len(resume.KeySkills) == 0 && s.components.Storage.MinIO != nil {
		objectName := storage.ParsedTextObjectName(jobID, fileName)
		if text, minioErr := s.components.Storage.MinIO.GetParsedText(ctx, objectName); minioErr == nil && text != "" {
			var parsed types.ResumeProfile
			if jsonErr := json.Unmarshal([]byte(text), &parsed); jsonErr == nil {
				parsed.FileName = fileName
				return &parsed, nil
			}
		}
	}

	return &resume, nil
}

// loadResumes 加载待评估的候选人简历
func (s *matchServiceImpl) loadResumes(ctx context.Context, jobID string, fileNames []string) ([]types.ResumeProfile, error) {
	if len(fileNames) > 0 {
		resumes := make([]types.ResumeProfile, 0, len(fileNames))
		for _, fileName := range fileNames {
			resume, err := s.loadResume(ctx, jobID, fileName)
			if err != nil {
				s.logger.Warn().Err(err).Str("file_name", fileName).Msg("加载候选人简历失败，跳过")
				continue
			}
			resumes = append(resumes, *resume)
		}
		return resumes, nil
	}

	candidateModels, err := s.components.Storage.MySQL.ListCandidates(ctx, jobID)
	if err != nil {
		return nil, err
	}

	resumes := make([]types.ResumeProfile, 0, len(candidateModels))
	for i := range candidateModels {
		domain, err := storage.CandidateToDomain(&candidateModels[i])
		if err != nil {
			s.logger.Warn().Err(err).Str("file_name", candidateModels[i].FileName).Msg("候选人记录损坏，跳过")
			continue
		}
		resume := domain.Resume
		resume.FileName = domain.FileName
		if resume.Name == "" {
			resume.Name = domain.Name
		}
		if resume.Email == "" {
			resume.Email = domain.Email
		}
		if len(resume.KeySkills) == 0 {
			resume.KeySkills = domain.Skills
		}
		resumes = append(resumes, resume)
	}
	return resumes, nil
}
