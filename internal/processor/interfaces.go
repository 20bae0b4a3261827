package processor

import (
	"context"

	"talent-match-go/internal/storage"
	"talent-match-go/internal/types"
)

// Scorer evaluates one job-resume pair.
type Scorer interface {
	ScoreMatch(ctx context.Context, job types.JobProfile, resume types.ResumeProfile) (*types.MatchResult, error)
}

// Ranker evaluates a batch of resumes against a job in one model call.
type Ranker interface {
	RankCandidates(ctx context.Context, job types.JobProfile, resumes []types.ResumeProfile) ([]types.MatchResult, error)
}

// MatchService 定义匹配评估服务的接口
// 提供统一的服务层接口，隐藏内部实现细节
type MatchService interface {
	// ScoreCandidate 评估单个候选人并持久化结果
	ScoreCandidate(ctx context.Context, jobID, fileName string) (*types.MatchResult, error)

	// RankJobCandidates 评估岗位下的候选人并返回排序结果
	RankJobCandidates(ctx context.Context, jobID string, fileNames []string) ([]types.MatchResult, error)

	// ListRankedCandidates 读取去重后的排序结果（缓存优先）
	ListRankedCandidates(ctx context.Context, jobID string) ([]types.Candidate, error)

	// SubmitMatchTask 将评估任务投递到消息队列
	SubmitMatchTask(ctx context.Context, task storage.MatchTaskMessage) error

	// ProcessMatchTask 消费一条评估任务
	ProcessMatchTask(ctx context.Context, task storage.MatchTaskMessage) error
}

// Components 聚合服务依赖的所有组件
type Components struct {
	Storage *storage.Storage
	Scorer  Scorer
	Ranker  Ranker
}
