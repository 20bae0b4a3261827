package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"talent-match-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var matcherTracer = otel.Tracer("talent-match-go/matcher")

const scorerSystemMessage = "You are a senior technical recruiter who evaluates how well a candidate's resume fits a job posting. You respond with strictly formatted JSON and nothing else."

// LLMMatchScorer scores one job against one resume through the
// external chat model.
type LLMMatchScorer struct {
	llmModel        model.ToolCallingChatModel
	promptTemplate  string // single-match prompt; see generatePromptTemplate
	fewShotExamples string // optional calibration examples prepended to the system message
	logger          zerolog.Logger
}

// ScorerOption configures an LLMMatchScorer.
type ScorerOption func(*LLMMatchScorer)

// WithCustomPromptTemplate overrides the default single-match prompt.
// The template must keep the two %s slots (job block, resume block).
func WithCustomPromptTemplate(template string) ScorerOption {
	return func(s *LLMMatchScorer) {
		s.promptTemplate = template
	}
}

// WithFewShotExamples sets calibration examples for the system message.
func WithFewShotExamples(examples string) ScorerOption {
	return func(s *LLMMatchScorer) {
		s.fewShotExamples = examples
	}
}

// NewLLMMatchScorer creates a scorer bound to llmModel.
func NewLLMMatchScorer(llmModel model.ToolCallingChatModel, logger zerolog.Logger, options ...ScorerOption) *LLMMatchScorer {
	scorer := &LLMMatchScorer{
		llmModel: llmModel,
		logger:   logger,
	}

	scorer.generatePromptTemplate()

	for _, opt := range options {
		opt(scorer)
	}

	return scorer
}

func (s *LLMMatchScorer) generatePromptTemplate() {
	s.promptTemplate = `Compare the following job posting with the candidate's resume and produce a match assessment.

Respond with exactly one JSON object in this shape, and nothing outside it:
{
  "match_percentage": <integer 0-100, overall compatibility>,
  "matching_skills": [<required or relevant skills the candidate demonstrably has>],
  "missing_requirements": [<requirements from the posting the resume does not cover>],
  "experience_match": <true if the work history satisfies the experience requirement>,
  "education_match": <true if the education satisfies the posting>,
  "overall_assessment": "<2-3 sentence summary of fit>"
}

Formatting rules:
- The whole output must be one valid JSON object.
- All field names and string values use double quotes; quotes inside strings are escaped with a backslash.
- Do not wrap the JSON in markdown fences and do not add commentary.

Scoring guidance:
- Hard requirements stated as "must have" dominate: a clear miss caps match_percentage below 40.
- Weigh demonstrated, hands-on use of the required skills over keyword mentions.
- 85-100 excellent fit, 70-84 good fit worth interviewing, 50-69 partial fit, below 50 weak fit.

[JOB POSTING]
"""
%s
"""

[CANDIDATE RESUME]
"""
%s
"""`
}

// buildJobBlock renders the job fields embedded in the prompt.
func buildJobBlock(job types.JobProfile) string {
	var sb strings.Builder
	sb.WriteString("Title: " + job.Title + "\n")
	if job.Experience != "" {
		sb.WriteString("Experience required: " + job.Experience + "\n")
	}
	if len(job.SkillsRequired) > 0 {
		sb.WriteString("Skills required: " + strings.Join(job.SkillsRequired, ", ") + "\n")
	}
	if len(job.Requirements) > 0 {
		sb.WriteString("Requirements:\n")
		for _, req := range job.Requirements {
			sb.WriteString("- " + req + "\n")
		}
	}
	if job.Description != "" {
		sb.WriteString("Description:\n" + job.Description + "\n")
	}
	return sb.String()
}

// buildResumeBlock renders the resume fields embedded in the prompt.
func buildResumeBlock(resume types.ResumeProfile) string {
	var sb strings.Builder
	if resume.Name != "" {
		sb.WriteString("Name: " + resume.Name + "\n")
	}
	if len(resume.KeySkills) > 0 {
		sb.WriteString("Key skills: " + strings.Join(resume.KeySkills, ", ") + "\n")
	}
	if len(resume.WorkHistory) > 0 {
		sb.WriteString("Work history:\n")
		for _, w := range resume.WorkHistory {
			sb.WriteString(fmt.Sprintf("- %s, %s (%s)\n", w.Title, w.Company, w.Dates))
		}
	}
	if len(resume.Education) > 0 {
		sb.WriteString("Education:\n")
		for _, e := range resume.Education {
			sb.WriteString("- " + e + "\n")
		}
	}
	return sb.String()
}

// validateScoringInput enforces the scorer's input contract.
func validateScoringInput(job types.JobProfile, resume types.ResumeProfile) error {
	if len(job.SkillsRequired) == 0 {
		return fmt.Errorf("%w: job %s has no required skills", ErrInvalidInput, job.JobID)
	}
	if len(job.Requirements) == 0 {
		return fmt.Errorf("%w: job %s has no requirements", ErrInvalidInput, job.JobID)
	}
	if len(resume.KeySkills) == 0 {
		return fmt.Errorf("%w: resume %s has no key skills", ErrInvalidInput, resume.FileName)
	}
	return nil
}

// ScoreMatch evaluates one job-resume pair. Transport failures come
// back wrapped in ErrModelCall, unusable replies in ErrModelParse;
// the caller decides whether to swallow them.
func (s *LLMMatchScorer) ScoreMatch(ctx context.Context, job types.JobProfile, resume types.ResumeProfile) (*types.MatchResult, error) {
	if s.llmModel == nil {
		return nil, fmt.Errorf("LLMMatchScorer: llmModel is not initialized")
	}
	if err := validateScoringInput(job, resume); err != nil {
		return nil, err
	}

	ctx, span := matcherTracer.Start(ctx, "matcher.ScoreMatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.JobID),
		attribute.String("resume.file_name", resume.FileName),
	)

	userMsgContent := fmt.Sprintf(s.promptTemplate, buildJobBlock(job), buildResumeBlock(resume))

	finalSystemMessage := scorerSystemMessage
	if s.fewShotExamples != "" {
		finalSystemMessage = s.fewShotExamples + "\n\n" + scorerSystemMessage
	}

	messages := []*einoschema.Message{
		einoschema.SystemMessage(finalSystemMessage),
		einoschema.UserMessage(userMsgContent),
	}

	s.logger.Debug().
		Str("job_id", job.JobID).
		Str("file_name", resume.FileName).
		Int("prompt_len", len(userMsgContent)).
		Msg("scoring resume against job")

	response, err := s.llmModel.Generate(ctx, messages)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm call failed")
		return nil, fmt.Errorf("%w: %v", ErrModelCall, err)
	}
	if response == nil || response.Content == "" {
		span.SetStatus(codes.Error, "empty llm response")
		return nil, fmt.Errorf("%w: empty response", ErrModelCall)
	}

	result, err := parseMatchResult(response.Content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm reply not parseable")
		return nil, err
	}

	result.FileName = resume.FileName
	result.EvaluatedAt = time.Now().Unix()
	span.SetAttributes(attribute.Int("match.percentage", result.MatchPercentage))

	return result, nil
}

// parseMatchResult turns a raw model reply into a validated result.
func parseMatchResult(content string) (*types.MatchResult, error) {
	processed := strings.TrimPrefix(content, "\uFEFF")
	processed = stripCodeFence(processed)

	jsonStr := extractJSONObject(processed)
	if jsonStr == "" {
		return nil, fmt.Errorf("%w: no JSON object in reply: %.200s", ErrModelParse, processed)
	}

	if !utf8.ValidString(jsonStr) {
		jsonStr = strings.ToValidUTF8(jsonStr, "")
	}

	var result types.MatchResult
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		// parse failed, repair once and retry
		fixed := sanitizeJSON(jsonStr)
		if jsonErr := json.Unmarshal([]byte(fixed), &result); jsonErr != nil {
			return nil, fmt.Errorf("%w: %v (after sanitization: %v)", ErrModelParse, err, jsonErr)
		}
	}

	if err := validateMatchResult(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelParse, err)
	}

	return &result, nil
}

// validateMatchResult checks the parsed shape before it is trusted.
func validateMatchResult(result *types.MatchResult) error {
	if result.MatchPercentage < 0 || result.MatchPercentage > 100 {
		return fmt.Errorf("match_percentage must be between 0 and 100, got %d", result.MatchPercentage)
	}
	if result.OverallAssessment == "" {
		return fmt.Errorf("overall_assessment must not be empty")
	}
	return nil
}
