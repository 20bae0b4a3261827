package constants

// Redis key prefixes and formats.
// Naming convention: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix is the shared application prefix for every Redis key.
	AppPrefix = "app"

	// MatchModulePrefix covers the match pipeline.
	MatchModulePrefix = "match"
	// JobModulePrefix covers job entities.
	JobModulePrefix = "job"

	// EntityRanked is the golden ranked candidate set.
	EntityRanked = "ranked"
	// EntityLock is a distributed lock.
	EntityLock = "lock"
	// EntityText is cached text.
	EntityText = "text"

	// KeyRankedCandidates caches the deduplicated ranked candidate list
	// of a job (STRING, JSON payload).
	// Format: app:match:ranked:{jobID}
	KeyRankedCandidates = AppPrefix + ":" + MatchModulePrefix + ":" + EntityRanked + ":%s"

	// KeyMatchLock is the per-job batch-match lock (STRING).
	// Format: app:match:lock:{jobID}
	KeyMatchLock = AppPrefix + ":" + MatchModulePrefix + ":" + EntityLock + ":%s"

	// KeyJobDescriptionText caches job description text (STRING).
	// Format: app:job:text:{jobID}
	KeyJobDescriptionText = AppPrefix + ":" + JobModulePrefix + ":" + EntityText + ":%s"
)
