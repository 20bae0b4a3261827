package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"talent-match-go/internal/constants"
	"talent-match-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const rankerSystemMessage = "You are a senior technical recruiter who ranks candidate resumes against a job posting. You respond with strictly formatted JSON and nothing else."

// BatchRanker evaluates many resumes against one job in a single
// model call and returns a ranked shortlist.
type BatchRanker struct {
	llmModel       model.ToolCallingChatModel
	promptTemplate string
	threshold      int // minimum match_percentage kept in the shortlist
	logger         zerolog.Logger
}

// RankerOption configures a BatchRanker.
type RankerOption func(*BatchRanker)

// WithRankThreshold overrides the default shortlist cutoff.
func WithRankThreshold(threshold int) RankerOption {
	return func(r *BatchRanker) {
		if threshold >= 0 && threshold <= 100 {
			r.threshold = threshold
		}
	}
}

// WithRankerPromptTemplate overrides the default batch prompt. The
// template must keep %d (threshold) and the two %s slots (job block,
// resume blocks).
func WithRankerPromptTemplate(template string) RankerOption {
	return func(r *BatchRanker) {
		r.promptTemplate = template
	}
}

// NewBatchRanker creates a ranker bound to llmModel.
func NewBatchRanker(llmModel model.ToolCallingChatModel, logger zerolog.Logger, options ...RankerOption) *BatchRanker {
	ranker := &BatchRanker{
		llmModel:  llmModel,
		threshold: constants.DefaultRankThreshold,
		logger:    logger,
	}

	ranker.generatePromptTemplate()

	for _, opt := range options {
		opt(ranker)
	}

	return ranker
}

func (r *BatchRanker) generatePromptTemplate() {
	r.promptTemplate = `Evaluate each of the following candidate resumes against the job posting, then rank the ones scoring at least %d.

Respond with exactly one JSON array and nothing outside it. Each element has this shape:
{
  "file_name": "<the candidate's file_name, copied verbatim>",
  "match_percentage": <integer 0-100>,
  "matching_skills": [<skills from the posting the candidate has>],
  "missing_requirements": [<requirements the resume does not cover>],
  "experience_match": <true/false>,
  "education_match": <true/false>,
  "overall_assessment": "<2-3 sentence summary of fit>",
  "ranking": <1 for the best match, 2 for the next, and so on>
}

Rules:
- Include only candidates with match_percentage of %d or higher, sorted best first.
- Every file_name in the output must be one of the file_name values given below, copied exactly.
- If no candidate reaches the cutoff, respond with [].
- Do not wrap the JSON in markdown fences and do not add commentary.

[JOB POSTING]
"""
%s
"""

[CANDIDATE RESUMES]
%s`
}

// buildResumeBatchBlock renders all resumes tagged by file_name.
func buildResumeBatchBlock(resumes []types.ResumeProfile) string {
	var sb strings.Builder
	for i, resume := range resumes {
		sb.WriteString(fmt.Sprintf("--- candidate %d, file_name: %s ---\n", i+1, resume.FileName))
		sb.WriteString(buildResumeBlock(resume))
		sb.WriteString("\n")
	}
	return sb.String()
}

// RankCandidates scores and ranks resumes in one model call. The
// model's own filtering and ordering are not trusted: the reply is
// re-filtered against the threshold, re-sorted, and re-numbered
// locally before it is returned. A failed call or unusable reply
// returns a typed error, never a silent empty shortlist.
func (r *BatchRanker) RankCandidates(ctx context.Context, job types.JobProfile, resumes []types.ResumeProfile) ([]types.MatchResult, error) {
	if r.llmModel == nil {
		return nil, fmt.Errorf("BatchRanker: llmModel is not initialized")
	}
	if len(resumes) == 0 {
		return nil, fmt.Errorf("%w: no resumes to rank", ErrInvalidInput)
	}
	if len(job.SkillsRequired) == 0 && len(job.Requirements) == 0 {
		return nil, fmt.Errorf("%w: job %s has no skills or requirements", ErrInvalidInput, job.JobID)
	}

	ctx, span := matcherTracer.Start(ctx, "matcher.RankCandidates")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.JobID),
		attribute.Int("resume.count", len(resumes)),
	)

	userMsgContent := fmt.Sprintf(r.promptTemplate, r.threshold, r.threshold,
		buildJobBlock(job), buildResumeBatchBlock(resumes))

	messages := []*einoschema.Message{
		einoschema.SystemMessage(rankerSystemMessage),
		einoschema.UserMessage(userMsgContent),
	}

	r.logger.Debug().
		Str("job_id", job.JobID).
		Int("resume_count", len(resumes)).
		Int("threshold", r.threshold).
		Msg("ranking candidate batch")

	response, err := r.llmModel.Generate(ctx, messages)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm call failed")
		return nil, fmt.Errorf("%w: %v", ErrModelCall, err)
	}
	if response == nil || response.Content == "" {
		span.SetStatus(codes.Error, "empty llm response")
		return nil, fmt.Errorf("%w: empty response", ErrModelCall)
	}

	results, err := parseRankedResults(response.Content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm reply not parseable")
		return nil, err
	}

	ranked := r.enforceRanking(results, resumes)
	span.SetAttributes(attribute.Int("ranked.count", len(ranked)))

	return ranked, nil
}

// parseRankedResults turns a raw model reply into match results.
func parseRankedResults(content string) ([]types.MatchResult, error) {
	processed := strings.TrimPrefix(content, "\uFEFF")
	processed = stripCodeFence(processed)

	jsonStr := extractJSONArray(processed)
	if jsonStr == "" {
		return nil, fmt.Errorf("%w: no JSON array in reply: %.200s", ErrModelParse, processed)
	}

	if !utf8.ValidString(jsonStr) {
		jsonStr = strings.ToValidUTF8(jsonStr, "")
	}

	var results []types.MatchResult
	if err := json.Unmarshal([]byte(jsonStr), &results); err != nil {
		fixed := sanitizeJSON(jsonStr)
		if jsonErr := json.Unmarshal([]byte(fixed), &results); jsonErr != nil {
			return nil, fmt.Errorf("%w: %v (after sanitization: %v)", ErrModelParse, err, jsonErr)
		}
	}

	return results, nil
}

// enforceRanking applies the threshold, ordering, and file_name
// checks locally. Entries naming unknown files are dropped, repeated
// file names keep only the first valid entry, entries below the
// threshold are cut even if the model kept them, and the ranking
// numbers are reassigned from the local sort.
func (r *BatchRanker) enforceRanking(results []types.MatchResult, resumes []types.ResumeProfile) []types.MatchResult {
	known := make(map[string]bool, len(resumes))
	for _, resume := range resumes {
		known[resume.FileName] = true
	}

	now := time.Now().Unix()
	seen := make(map[string]bool, len(results))
	kept := make([]types.MatchResult, 0, len(results))
	for _, result := range results {
		if !known[result.FileName] {
			r.logger.Warn().Str("file_name", result.FileName).Msg("dropping ranked entry for unknown file")
			continue
		}
		if seen[result.FileName] {
			r.logger.Warn().Str("file_name", result.FileName).Msg("dropping repeated ranked entry")
			continue
		}
		if result.MatchPercentage < 0 || result.MatchPercentage > 100 {
			r.logger.Warn().
				Str("file_name", result.FileName).
				Int("match_percentage", result.MatchPercentage).
				Msg("dropping ranked entry with out-of-range score")
			continue
		}
		if result.MatchPercentage < r.threshold {
			continue
		}
		result.EvaluatedAt = now
		seen[result.FileName] = true
		kept = append(kept, result)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].MatchPercentage > kept[j].MatchPercentage
	})
	for i := range kept {
		kept[i].Ranking = i + 1
	}

	return kept
}
