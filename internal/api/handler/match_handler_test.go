package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"talent-match-go/internal/api/handler"
	"talent-match-go/internal/config"
	"talent-match-go/internal/matcher"
	"talent-match-go/internal/storage"
	"talent-match-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/route/param"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubMatchService 模拟服务层，按需返回预设结果或错误
type stubMatchService struct {
	scoreResult *types.MatchResult
	scoreErr    error
	rankResults []types.MatchResult
	rankErr     error
	candidates  []types.Candidate
	listErr     error
	submitted   []storage.MatchTaskMessage
}

func (s *stubMatchService) ScoreCandidate(ctx context.Context, jobID, fileName string) (*types.MatchResult, error) {
	return s.scoreResult, s.scoreErr
}

func (s *stubMatchService) RankJobCandidates(ctx context.Context, jobID string, fileNames []string) ([]types.MatchResult, error) {
	return s.rankResults, s.rankErr
}

func (s *stubMatchService) ListRankedCandidates(ctx context.Context, jobID string) ([]types.Candidate, error) {
	return s.candidates, s.listErr
}

func (s *stubMatchService) SubmitMatchTask(ctx context.Context, task storage.MatchTaskMessage) error {
	s.submitted = append(s.submitted, task)
	return nil
}

func (s *stubMatchService) ProcessMatchTask(ctx context.Context, task storage.MatchTaskMessage) error {
	return nil
}

func newTestMatchHandler(service *stubMatchService) *handler.MatchHandler {
	cfg := &config.Config{}
	// Storage的RabbitMQ为nil，批量评估走同步路径
	return handler.NewMatchHandler(cfg, &storage.Storage{}, service, zerolog.Nop())
}

func requestWithParams(pairs ...string) *app.RequestContext {
	c := app.NewContext(16)
	for i := 0; i+1 < len(pairs); i += 2 {
		c.Params = append(c.Params, param.Param{Key: pairs[i], Value: pairs[i+1]})
	}
	return c
}

func TestHandleScoreCandidateSuccess(t *testing.T) {
	service := &stubMatchService{
		scoreResult: &types.MatchResult{
			FileName:          "resume_001.pdf",
			MatchPercentage:   82,
			MatchingSkills:    []string{"Go", "MySQL"},
			OverallAssessment: "strong backend fit",
		},
	}
	h := newTestMatchHandler(service)

	c := requestWithParams("job_id", "job-1", "file_name", "resume_001.pdf")
	h.HandleScoreCandidate(context.Background(), c)

	require.Equal(t, consts.StatusOK, c.Response.StatusCode())

	var body struct {
		JobID  string            `json:"job_id"`
		Result types.MatchResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(c.Response.Body(), &body))
	assert.Equal(t, "job-1", body.JobID)
	assert.Equal(t, 82, body.Result.MatchPercentage)
	assert.Equal(t, "resume_001.pdf", body.Result.FileName)
}

func TestHandleScoreCandidateMissingParams(t *testing.T) {
	h := newTestMatchHandler(&stubMatchService{})

	c := requestWithParams("job_id", "job-1") // 缺少file_name
	h.HandleScoreCandidate(context.Background(), c)

	assert.Equal(t, consts.StatusBadRequest, c.Response.StatusCode())
}

func TestHandleScoreCandidateErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"model call failure", fmt.Errorf("call llm: %w", matcher.ErrModelCall), consts.StatusBadGateway},
		{"model parse failure", fmt.Errorf("parse reply: %w", matcher.ErrModelParse), consts.StatusBadGateway},
		{"invalid input", fmt.Errorf("empty skills: %w", matcher.ErrInvalidInput), consts.StatusUnprocessableEntity},
		{"job not found", storage.ErrJobNotFound, consts.StatusNotFound},
		{"candidate not found", storage.ErrCandidateNotFound, consts.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestMatchHandler(&stubMatchService{scoreErr: tc.err})
			c := requestWithParams("job_id", "job-1", "file_name", "r.pdf")
			h.HandleScoreCandidate(context.Background(), c)
			assert.Equal(t, tc.wantStatus, c.Response.StatusCode())
		})
	}
}

func TestHandleBatchMatchSyncWithoutQueue(t *testing.T) {
	service := &stubMatchService{
		rankResults: []types.MatchResult{
			{FileName: "a.pdf", MatchPercentage: 90, Ranking: 1},
			{FileName: "b.pdf", MatchPercentage: 75, Ranking: 2},
		},
	}
	h := newTestMatchHandler(service)

	c := requestWithParams("job_id", "job-1")
	c.Request.SetBody([]byte(`{"file_names":["a.pdf","b.pdf"]}`))
	h.HandleBatchMatch(context.Background(), c)

	require.Equal(t, consts.StatusOK, c.Response.StatusCode())

	var body struct {
		Count   int                 `json:"count"`
		Results []types.MatchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(c.Response.Body(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, 1, body.Results[0].Ranking)
}

func TestHandleBatchMatchBadBody(t *testing.T) {
	h := newTestMatchHandler(&stubMatchService{})

	c := requestWithParams("job_id", "job-1")
	c.Request.SetBody([]byte(`{"file_names": not-json`))
	h.HandleBatchMatch(context.Background(), c)

	assert.Equal(t, consts.StatusBadRequest, c.Response.StatusCode())
}

func TestHandleListCandidatesStatusFilter(t *testing.T) {
	service := &stubMatchService{
		candidates: []types.Candidate{
			{FileName: "a.pdf", Tracking: &types.Tracking{Status: types.StatusShortlisted}},
			{FileName: "b.pdf", Tracking: &types.Tracking{Status: types.StatusMatched}},
			{FileName: "c.pdf", Tracking: &types.Tracking{Status: types.StatusShortlisted}},
		},
	}
	h := newTestMatchHandler(service)

	c := requestWithParams("job_id", "job-1")
	c.QueryArgs().Add("status", "shortlisted")
	h.HandleListCandidates(context.Background(), c)

	require.Equal(t, consts.StatusOK, c.Response.StatusCode())

	var body struct {
		Count      int               `json:"count"`
		Candidates []types.Candidate `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(c.Response.Body(), &body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "a.pdf", body.Candidates[0].FileName)
	assert.Equal(t, "c.pdf", body.Candidates[1].FileName)
}
