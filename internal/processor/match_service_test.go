package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"talent-match-go/internal/config"
	"talent-match-go/internal/matcher"
	"talent-match-go/internal/storage"
	"talent-match-go/internal/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubScorer scores by a fixed table and records peak concurrency.
type stubScorer struct {
	scores     map[string]int
	failFiles  map[string]bool
	inFlight   int32
	maxSeen    int32
	totalCalls int32
}

func (s *stubScorer) ScoreMatch(ctx context.Context, job types.JobProfile, resume types.ResumeProfile) (*types.MatchResult, error) {
	current := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	atomic.AddInt32(&s.totalCalls, 1)

	for {
		seen := atomic.LoadInt32(&s.maxSeen)
		if current <= seen || atomic.CompareAndSwapInt32(&s.maxSeen, seen, current) {
			break
		}
	}

	if s.failFiles[resume.FileName] {
		return nil, fmt.Errorf("%w: simulated outage", matcher.ErrModelCall)
	}
	return &types.MatchResult{
		FileName:          resume.FileName,
		MatchPercentage:   s.scores[resume.FileName],
		OverallAssessment: "stub",
	}, nil
}

func serviceForTest(t *testing.T, scorer Scorer, maxConcurrent int) *matchServiceImpl {
	t.Helper()
	cfg := &config.Config{}
	cfg.Matcher.MaxConcurrent = maxConcurrent
	cfg.Matcher.RankThreshold = 50
	cfg.Matcher.EvalTimeout = "5s"

	return &matchServiceImpl{
		components: Components{Scorer: scorer},
		config:     cfg,
		logger:     zerolog.Nop(),
	}
}

func poolResumes(n int) []types.ResumeProfile {
	resumes := make([]types.ResumeProfile, n)
	for i := range resumes {
		resumes[i] = types.ResumeProfile{
			FileName:  fmt.Sprintf("r%d.pdf", i),
			Name:      fmt.Sprintf("Person %d", i),
			KeySkills: []string{"Go"},
		}
	}
	return resumes
}

func TestNewMatchServiceRequiresMySQL(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.APIKey = "test_api_key"

	_, err := NewMatchService(cfg, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrStorageNotInit)

	// 部分初始化的Storage（MySQL缺失）必须在启动时被拒绝，
	// 而不是在第一次评估时才空指针崩溃
	_, err = NewMatchService(cfg, &storage.Storage{}, zerolog.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageNotInit)
}

func TestRankWithWorkerPoolOrdersAndFilters(t *testing.T) {
	scorer := &stubScorer{scores: map[string]int{
		"r0.pdf": 40, "r1.pdf": 90, "r2.pdf": 70, "r3.pdf": 55,
	}}
	svc := serviceForTest(t, scorer, 2)

	results, err := svc.rankWithWorkerPool(context.Background(), types.JobProfile{JobID: "job-1"}, poolResumes(4))
	require.NoError(t, err)

	// r0 is below the threshold and dropped
	require.Len(t, results, 3)
	assert.Equal(t, "r1.pdf", results[0].FileName)
	assert.Equal(t, 1, results[0].Ranking)
	assert.Equal(t, "r2.pdf", results[1].FileName)
	assert.Equal(t, "r3.pdf", results[2].FileName)
	assert.Equal(t, 3, results[2].Ranking)
}

func TestRankWithWorkerPoolBoundsConcurrency(t *testing.T) {
	scorer := &stubScorer{scores: map[string]int{}}
	for i := 0; i < 12; i++ {
		scorer.scores[fmt.Sprintf("r%d.pdf", i)] = 60
	}
	svc := serviceForTest(t, scorer, 3)

	_, err := svc.rankWithWorkerPool(context.Background(), types.JobProfile{JobID: "job-1"}, poolResumes(12))
	require.NoError(t, err)

	assert.Equal(t, int32(12), scorer.totalCalls)
	assert.LessOrEqual(t, scorer.maxSeen, int32(3))
}

func TestRankWithWorkerPoolFailSoft(t *testing.T) {
	scorer := &stubScorer{
		scores:    map[string]int{"r0.pdf": 80, "r1.pdf": 75, "r2.pdf": 65},
		failFiles: map[string]bool{"r1.pdf": true},
	}
	svc := serviceForTest(t, scorer, 2)

	results, err := svc.rankWithWorkerPool(context.Background(), types.JobProfile{JobID: "job-1"}, poolResumes(3))
	require.NoError(t, err)

	// the failed candidate is skipped, the rest still rank
	require.Len(t, results, 2)
	assert.Equal(t, "r0.pdf", results[0].FileName)
	assert.Equal(t, "r2.pdf", results[1].FileName)
}

func TestRankWithWorkerPoolAllFailuresIsError(t *testing.T) {
	scorer := &stubScorer{
		scores:    map[string]int{},
		failFiles: map[string]bool{"r0.pdf": true, "r1.pdf": true},
	}
	svc := serviceForTest(t, scorer, 2)

	results, err := svc.rankWithWorkerPool(context.Background(), types.JobProfile{JobID: "job-1"}, poolResumes(2))
	require.Error(t, err)
	assert.Nil(t, results)
	assert.ErrorIs(t, err, matcher.ErrModelCall)
}

// stubRanker returns canned batch results.
type stubRanker struct {
	results []types.MatchResult
	err     error
	mu      sync.Mutex
	calls   int
}

func (r *stubRanker) RankCandidates(ctx context.Context, job types.JobProfile, resumes []types.ResumeProfile) ([]types.MatchResult, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.results, nil
}

func TestRankSingleCallDelegatesToRanker(t *testing.T) {
	ranker := &stubRanker{results: []types.MatchResult{
		{FileName: "r0.pdf", MatchPercentage: 77, Ranking: 1},
	}}
	svc := serviceForTest(t, &stubScorer{}, 2)
	svc.components.Ranker = ranker

	results, err := svc.rankSingleCall(context.Background(), types.JobProfile{JobID: "job-1"}, poolResumes(1))
	require.NoError(t, err)
	assert.Equal(t, 1, ranker.calls)
	require.Len(t, results, 1)
	assert.Equal(t, 77, results[0].MatchPercentage)
}

func TestRankSingleCallPropagatesTypedError(t *testing.T) {
	ranker := &stubRanker{err: fmt.Errorf("%w: timeout", matcher.ErrModelCall)}
	svc := serviceForTest(t, &stubScorer{}, 2)
	svc.components.Ranker = ranker

	_, err := svc.rankSingleCall(context.Background(), types.JobProfile{JobID: "job-1"}, poolResumes(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, matcher.ErrModelCall)
	assert.False(t, errors.Is(err, matcher.ErrModelParse))
}
