package matcher

import (
	"context"
	"errors"
	"testing"

	"talent-match-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockChatModel implements model.ToolCallingChatModel for tests.
type mockChatModel struct {
	mockResponse string
	mockErr      error
	lastMessages []*schema.Message
}

func (m *mockChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	m.lastMessages = messages
	if m.mockErr != nil {
		return nil, m.mockErr
	}
	return &schema.Message{
		Role:    schema.Assistant,
		Content: m.mockResponse,
	}, nil
}

func (m *mockChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, nil
}

func (m *mockChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func testJob() types.JobProfile {
	return types.JobProfile{
		JobID:          "job-backend-001",
		Title:          "Senior Backend Engineer",
		Description:    "Build and operate high-throughput Go services.",
		SkillsRequired: []string{"Go", "MySQL", "Redis"},
		Experience:     "5+ years",
		Requirements:   []string{"5+ years backend experience", "Production Go experience"},
	}
}

func testResume() types.ResumeProfile {
	return types.ResumeProfile{
		FileName:  "alice_chen.pdf",
		Name:      "Alice Chen",
		Email:     "alice.chen@example.com",
		KeySkills: []string{"Go", "MySQL", "Kafka"},
		WorkHistory: []types.WorkEntry{
			{Company: "Acme", Title: "Backend Engineer", Dates: "2019-2024"},
		},
		Education: []string{"BSc Computer Science"},
	}
}

const validScoreReply = `{
	"match_percentage": 82,
	"matching_skills": ["Go", "MySQL"],
	"missing_requirements": ["Redis"],
	"experience_match": true,
	"education_match": true,
	"overall_assessment": "Strong backend background with most required skills."
}`

func TestScoreMatchSuccess(t *testing.T) {
	mockLLM := &mockChatModel{mockResponse: validScoreReply}
	scorer := NewLLMMatchScorer(mockLLM, zerolog.Nop())

	result, err := scorer.ScoreMatch(context.Background(), testJob(), testResume())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 82, result.MatchPercentage)
	assert.Equal(t, "alice_chen.pdf", result.FileName)
	assert.ElementsMatch(t, []string{"Go", "MySQL"}, result.MatchingSkills)
	assert.True(t, result.ExperienceMatch)
	assert.NotZero(t, result.EvaluatedAt)

	// the prompt must carry both sides of the comparison
	require.Len(t, mockLLM.lastMessages, 2)
	assert.Contains(t, mockLLM.lastMessages[1].Content, "Senior Backend Engineer")
	assert.Contains(t, mockLLM.lastMessages[1].Content, "Alice Chen")
}

func TestScoreMatchStripsMarkdownFence(t *testing.T) {
	mockLLM := &mockChatModel{mockResponse: "```json\n" + validScoreReply + "\n```"}
	scorer := NewLLMMatchScorer(mockLLM, zerolog.Nop())

	result, err := scorer.ScoreMatch(context.Background(), testJob(), testResume())
	require.NoError(t, err)
	assert.Equal(t, 82, result.MatchPercentage)
}

func TestScoreMatchStripsLeadingBOM(t *testing.T) {
	mockLLM := &mockChatModel{mockResponse: "\uFEFF" + validScoreReply}
	scorer := NewLLMMatchScorer(mockLLM, zerolog.Nop())

	result, err := scorer.ScoreMatch(context.Background(), testJob(), testResume())
	require.NoError(t, err)
	assert.Equal(t, 82, result.MatchPercentage)
}

func TestScoreMatchExtractsJSONFromChatter(t *testing.T) {
	mockLLM := &mockChatModel{
		mockResponse: "Here is my assessment:\n" + validScoreReply + "\nHope this helps!",
	}
	scorer := NewLLMMatchScorer(mockLLM, zerolog.Nop())

	result, err := scorer.ScoreMatch(context.Background(), testJob(), testResume())
	require.NoError(t, err)
	assert.Equal(t, 82, result.MatchPercentage)
}

func TestScoreMatchModelCallFailure(t *testing.T) {
	mockLLM := &mockChatModel{mockErr: errors.New("connection reset by peer")}
	scorer := NewLLMMatchScorer(mockLLM, zerolog.Nop())

	result, err := scorer.ScoreMatch(context.Background(), testJob(), testResume())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrModelCall)
	assert.NotErrorIs(t, err, ErrModelParse)
}

func TestScoreMatchUnparseableReply(t *testing.T) {
	mockLLM := &mockChatModel{mockResponse: "I am unable to produce a score for this resume."}
	scorer := NewLLMMatchScorer(mockLLM, zerolog.Nop())

	result, err := scorer.ScoreMatch(context.Background(), testJob(), testResume())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrModelParse)
}

func TestScoreMatchRejectsOutOfRangePercentage(t *testing.T) {
	mockLLM := &mockChatModel{mockResponse: `{
		"match_percentage": 140,
		"matching_skills": ["Go"],
		"missing_requirements": [],
		"experience_match": true,
		"education_match": true,
		"overall_assessment": "Implausibly good."
	}`}
	scorer := NewLLMMatchScorer(mockLLM, zerolog.Nop())

	_, err := scorer.ScoreMatch(context.Background(), testJob(), testResume())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelParse)
}

func TestScoreMatchInvalidInput(t *testing.T) {
	scorer := NewLLMMatchScorer(&mockChatModel{mockResponse: validScoreReply}, zerolog.Nop())

	emptyJob := testJob()
	emptyJob.SkillsRequired = nil
	_, err := scorer.ScoreMatch(context.Background(), emptyJob, testResume())
	assert.ErrorIs(t, err, ErrInvalidInput)

	emptyResume := testResume()
	emptyResume.KeySkills = nil
	_, err = scorer.ScoreMatch(context.Background(), testJob(), emptyResume)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestScoreMatchCustomPromptAndFewShot(t *testing.T) {
	mockLLM := &mockChatModel{mockResponse: validScoreReply}
	scorer := NewLLMMatchScorer(mockLLM, zerolog.Nop(),
		WithCustomPromptTemplate("JOB:%s RESUME:%s"),
		WithFewShotExamples("Example: a DBA resume against a frontend role scores 15."),
	)

	_, err := scorer.ScoreMatch(context.Background(), testJob(), testResume())
	require.NoError(t, err)

	require.Len(t, mockLLM.lastMessages, 2)
	assert.Contains(t, mockLLM.lastMessages[0].Content, "a DBA resume")
	assert.Contains(t, mockLLM.lastMessages[1].Content, "JOB:")
}

func TestParseMatchResultSanitizesBrokenQuotes(t *testing.T) {
	// interior unescaped quotes, repairable by sanitizeJSON
	broken := `{"match_percentage": 60, "matching_skills": [], "missing_requirements": [], "experience_match": false, "education_match": true, "overall_assessment": "Worked on the "Phoenix" migration project."}`

	result, err := parseMatchResult(broken)
	require.NoError(t, err)
	assert.Equal(t, 60, result.MatchPercentage)
	assert.Contains(t, result.OverallAssessment, "Phoenix")
}
