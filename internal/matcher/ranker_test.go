package matcher

import (
	"context"
	"errors"
	"testing"

	"talent-match-go/internal/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResumeBatch() []types.ResumeProfile {
	return []types.ResumeProfile{
		{
			FileName:  "r1.pdf",
			Name:      "Alice Chen",
			Email:     "alice.chen@example.com",
			KeySkills: []string{"Go", "MySQL"},
		},
		{
			FileName:  "r2.pdf",
			Name:      "Bob Osei",
			Email:     "bob.osei@example.com",
			KeySkills: []string{"Java", "Spring"},
		},
		{
			FileName:  "r3.pdf",
			Name:      "Carol Díaz",
			Email:     "carol.diaz@example.com",
			KeySkills: []string{"Go", "Redis", "Kubernetes"},
		},
	}
}

func TestRankCandidatesSortsAndNumbersLocally(t *testing.T) {
	// the model's ordering and ranking numbers are deliberately wrong
	mockLLM := &mockChatModel{mockResponse: `[
		{"file_name": "r1.pdf", "match_percentage": 70, "matching_skills": ["Go"], "missing_requirements": [], "experience_match": true, "education_match": true, "overall_assessment": "Good fit.", "ranking": 1},
		{"file_name": "r3.pdf", "match_percentage": 90, "matching_skills": ["Go", "Redis"], "missing_requirements": [], "experience_match": true, "education_match": true, "overall_assessment": "Excellent fit.", "ranking": 2}
	]`}
	ranker := NewBatchRanker(mockLLM, zerolog.Nop())

	results, err := ranker.RankCandidates(context.Background(), testJob(), testResumeBatch())
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "r3.pdf", results[0].FileName)
	assert.Equal(t, 1, results[0].Ranking)
	assert.Equal(t, "r1.pdf", results[1].FileName)
	assert.Equal(t, 2, results[1].Ranking)
}

func TestRankCandidatesStripsLeadingBOM(t *testing.T) {
	mockLLM := &mockChatModel{mockResponse: "\uFEFF[" +
		`{"file_name": "r1.pdf", "match_percentage": 80, "matching_skills": ["Go"], "missing_requirements": [], "experience_match": true, "education_match": true, "overall_assessment": "Good fit.", "ranking": 1}` +
		"]"}
	ranker := NewBatchRanker(mockLLM, zerolog.Nop())

	results, err := ranker.RankCandidates(context.Background(), testJob(), testResumeBatch())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r1.pdf", results[0].FileName)
}

func TestRankCandidatesEnforcesThresholdLocally(t *testing.T) {
	// the model kept a below-cutoff candidate; the ranker must cut it
	mockLLM := &mockChatModel{mockResponse: `[
		{"file_name": "r1.pdf", "match_percentage": 65, "matching_skills": ["Go"], "missing_requirements": [], "experience_match": true, "education_match": true, "overall_assessment": "Good fit.", "ranking": 1},
		{"file_name": "r2.pdf", "match_percentage": 45, "matching_skills": [], "missing_requirements": ["Go"], "experience_match": false, "education_match": true, "overall_assessment": "Wrong stack.", "ranking": 2}
	]`}
	ranker := NewBatchRanker(mockLLM, zerolog.Nop(), WithRankThreshold(60))

	results, err := ranker.RankCandidates(context.Background(), testJob(), testResumeBatch())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r1.pdf", results[0].FileName)
}

func TestRankCandidatesDropsUnknownAndOutOfRangeEntries(t *testing.T) {
	mockLLM := &mockChatModel{mockResponse: `[
		{"file_name": "hallucinated.pdf", "match_percentage": 99, "overall_assessment": "Made up.", "ranking": 1},
		{"file_name": "r1.pdf", "match_percentage": 250, "overall_assessment": "Broken score.", "ranking": 2},
		{"file_name": "r3.pdf", "match_percentage": 75, "overall_assessment": "Real entry.", "ranking": 3}
	]`}
	ranker := NewBatchRanker(mockLLM, zerolog.Nop())

	results, err := ranker.RankCandidates(context.Background(), testJob(), testResumeBatch())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r3.pdf", results[0].FileName)
	assert.Equal(t, 1, results[0].Ranking)
}

func TestRankCandidatesDropsRepeatedFileNames(t *testing.T) {
	// the model listed r1.pdf twice; only the first valid entry survives
	mockLLM := &mockChatModel{mockResponse: `[
		{"file_name": "r1.pdf", "match_percentage": 85, "overall_assessment": "First entry.", "ranking": 1},
		{"file_name": "r1.pdf", "match_percentage": 60, "overall_assessment": "Duplicate entry.", "ranking": 2},
		{"file_name": "r2.pdf", "match_percentage": 70, "overall_assessment": "Distinct entry.", "ranking": 3}
	]`}
	ranker := NewBatchRanker(mockLLM, zerolog.Nop())

	results, err := ranker.RankCandidates(context.Background(), testJob(), testResumeBatch())
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "r1.pdf", results[0].FileName)
	assert.Equal(t, 85, results[0].MatchPercentage)
	assert.Equal(t, 1, results[0].Ranking)
	assert.Equal(t, "r2.pdf", results[1].FileName)
	assert.Equal(t, 2, results[1].Ranking)
}

func TestRankCandidatesEmptyShortlist(t *testing.T) {
	mockLLM := &mockChatModel{mockResponse: `[]`}
	ranker := NewBatchRanker(mockLLM, zerolog.Nop())

	results, err := ranker.RankCandidates(context.Background(), testJob(), testResumeBatch())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRankCandidatesModelFailureIsTyped(t *testing.T) {
	mockLLM := &mockChatModel{mockErr: errors.New("dial tcp: i/o timeout")}
	ranker := NewBatchRanker(mockLLM, zerolog.Nop())

	results, err := ranker.RankCandidates(context.Background(), testJob(), testResumeBatch())
	require.Error(t, err)
	assert.Nil(t, results)
	assert.ErrorIs(t, err, ErrModelCall)
}

func TestRankCandidatesUnparseableReply(t *testing.T) {
	mockLLM := &mockChatModel{mockResponse: "the candidates all look fine to me"}
	ranker := NewBatchRanker(mockLLM, zerolog.Nop())

	_, err := ranker.RankCandidates(context.Background(), testJob(), testResumeBatch())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelParse)
}

func TestRankCandidatesRejectsEmptyBatch(t *testing.T) {
	ranker := NewBatchRanker(&mockChatModel{}, zerolog.Nop())

	_, err := ranker.RankCandidates(context.Background(), testJob(), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRankCandidatesPromptContainsEveryFileName(t *testing.T) {
	mockLLM := &mockChatModel{mockResponse: `[]`}
	ranker := NewBatchRanker(mockLLM, zerolog.Nop())

	_, err := ranker.RankCandidates(context.Background(), testJob(), testResumeBatch())
	require.NoError(t, err)

	require.Len(t, mockLLM.lastMessages, 2)
	prompt := mockLLM.lastMessages[1].Content
	for _, name := range []string{"r1.pdf", "r2.pdf", "r3.pdf"} {
		assert.Contains(t, prompt, name)
	}
}
