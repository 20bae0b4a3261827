package matcher

import "errors"

// Scoring failures are split into two channels so callers can tell a
// transport problem from a model reply that could not be trusted.
// Orchestration applies the fail-soft policy on top: either error is
// logged and the candidate skipped, never aborting a batch run.
var (
	// ErrModelCall marks network or provider failures of the LLM call.
	ErrModelCall = errors.New("llm call failed")

	// ErrModelParse marks replies that were not valid JSON after fence
	// stripping and sanitization, or that failed shape validation.
	ErrModelParse = errors.New("llm reply not parseable")

	// ErrInvalidInput marks a job or resume missing the fields the
	// prompt requires.
	ErrInvalidInput = errors.New("invalid matching input")
)
