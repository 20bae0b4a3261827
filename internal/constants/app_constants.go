package constants

import "time"

const (
	// DefaultRankThreshold is the minimum match percentage a candidate
	// needs to survive batch ranking. Enforced locally after parsing,
	// regardless of what the model was instructed to return.
	DefaultRankThreshold = 50

	// Duplicate-detection weights and threshold. Two candidates scoring
	// at or above DupSimilarityThreshold are treated as the same person.
	DupNameWeight          = 0.4
	DupEmailWeight         = 0.4
	DupSkillsWeight        = 0.2
	DupSimilarityThreshold = 0.7

	// RankedSetCacheDuration bounds how long a job's golden ranked set
	// stays valid in Redis before a full re-rank is required.
	RankedSetCacheDuration = 30 * time.Minute

	// MatchLockDuration is the TTL of the per-job distributed lock that
	// prevents two concurrent batch-match runs for the same job.
	MatchLockDuration = 5 * time.Minute

	// JDCacheDuration is the TTL of cached job description text.
	JDCacheDuration = 24 * time.Hour

	// SystemActor is recorded as UpdatedBy when the pipeline itself
	// writes a tracking record (e.g. the initial matched stage).
	SystemActor = "system"
)
