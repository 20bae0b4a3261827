package types

import "time"

// CandidateStatus is the hiring-stage of a candidate within one job's
// pipeline. The zero value is StatusMatched: a candidate that has a
// match result but no recruiter action yet.
type CandidateStatus string

const (
	// StatusMatched is the implicit initial stage, set when a match
	// result is produced. An empty status column is read as matched.
	StatusMatched CandidateStatus = "matched"
	// StatusShortlisted means a recruiter flagged the candidate for follow-up.
	StatusShortlisted CandidateStatus = "shortlisted"
	// StatusContacted means outreach was sent.
	StatusContacted CandidateStatus = "contacted"
	// StatusInterested means the candidate replied positively.
	StatusInterested CandidateStatus = "interested"
	// StatusNotInterested means the candidate declined.
	StatusNotInterested CandidateStatus = "not_interested"
	// StatusRateConfirmed means a rate was agreed; Tracking.RateConfirmed holds it.
	StatusRateConfirmed CandidateStatus = "rate_confirmed"
	// StatusInterviewScheduled means an interview date was booked;
	// Tracking.InterviewDate holds it.
	StatusInterviewScheduled CandidateStatus = "interview_scheduled"
	// StatusApproved is a terminal positive decision.
	StatusApproved CandidateStatus = "approved"
	// StatusDisapproved is a terminal negative decision.
	StatusDisapproved CandidateStatus = "disapproved"
)

// AllCandidateStatuses lists every recognised stage, in pipeline order.
var AllCandidateStatuses = []CandidateStatus{
	StatusMatched,
	StatusShortlisted,
	StatusContacted,
	StatusInterested,
	StatusNotInterested,
	StatusRateConfirmed,
	StatusInterviewScheduled,
	StatusApproved,
	StatusDisapproved,
}

// IsValid reports whether s is a recognised stage. The empty string is
// valid and normalises to StatusMatched.
func (s CandidateStatus) IsValid() bool {
	if s == "" {
		return true
	}
	for _, known := range AllCandidateStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Normalize maps the empty status to StatusMatched.
func (s CandidateStatus) Normalize() CandidateStatus {
	if s == "" {
		return StatusMatched
	}
	return s
}

// JobProfile is the read-only job side of a matching call.
type JobProfile struct {
	JobID          string   `json:"job_id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	SkillsRequired []string `json:"skills_required"`
	Experience     string   `json:"experience"`
	Requirements   []string `json:"requirements"`
}

// WorkEntry is one position in a candidate's work history.
type WorkEntry struct {
	Company string `json:"company"`
	Title   string `json:"title"`
	Dates   string `json:"dates"`
}

// ResumeProfile is the structured resume produced by the upstream
// extraction step. FileName is the candidate identifier within a job.
type ResumeProfile struct {
	FileName    string      `json:"file_name"`
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	KeySkills   []string    `json:"key_skills"`
	WorkHistory []WorkEntry `json:"work_history"`
	Education   []string    `json:"education"`
}

// MatchResult is the scorer's verdict for one job-resume pair.
// Regeneration overwrites the whole value; results are never merged.
type MatchResult struct {
	FileName            string   `json:"file_name,omitempty"`
	MatchPercentage     int      `json:"match_percentage"`
	MatchingSkills      []string `json:"matching_skills"`
	MissingRequirements []string `json:"missing_requirements"`
	ExperienceMatch     bool     `json:"experience_match"`
	EducationMatch      bool     `json:"education_match"`
	OverallAssessment   string   `json:"overall_assessment"`
	Ranking             int      `json:"ranking,omitempty"`
	EvaluatedAt         int64    `json:"evaluated_at,omitempty"`
}

// Tracking is the mutable hiring-stage record attached to a candidate.
// Writes replace the whole record (last write wins).
type Tracking struct {
	Status        CandidateStatus `json:"status"`
	LastUpdated   time.Time       `json:"last_updated"`
	UpdatedBy     string          `json:"updated_by"`
	RateConfirmed *float64        `json:"rate_confirmed,omitempty"`
	InterviewDate *time.Time      `json:"interview_date,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

// Candidate joins a resume, its match result and its tracking record
// under one job. Identified by FileName within the job.
type Candidate struct {
	JobID    string        `json:"job_id"`
	FileName string        `json:"file_name"`
	Name     string        `json:"name"`
	Email    string        `json:"email"`
	Skills   []string      `json:"skills"`
	Match    *MatchResult  `json:"match,omitempty"`
	Tracking *Tracking     `json:"tracking,omitempty"`
	Resume   ResumeProfile `json:"-"`
}

// MatchPercentage returns the candidate's score, or 0 when unscored.
func (c *Candidate) MatchPercentage() int {
	if c.Match == nil {
		return 0
	}
	return c.Match.MatchPercentage
}
