package models

import (
	"time"

	"gorm.io/datatypes"
)

// Job 岗位信息表
type Job struct {
	JobID              string         `gorm:"type:char(36);primaryKey"`
	JobTitle           string         `gorm:"type:varchar(255);not null"`
	JobDescriptionText string         `gorm:"type:text"`
	SkillsRequiredJSON datatypes.JSON `gorm:"type:json"`
	ExperienceRequired string         `gorm:"type:varchar(255)"`
	RequirementsJSON   datatypes.JSON `gorm:"type:json"`
	Status             string         `gorm:"type:varchar(50);default:'ACTIVE';index:idx_jobs_status"`
	CreatedAt          time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt          time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Job) TableName() string {
	return "jobs"
}

// Candidate 候选人-岗位匹配记录表，(job_id, file_name) 唯一
type Candidate struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	JobID    string `gorm:"type:char(36);not null;uniqueIndex:idx_candidates_job_file,priority:1;index:idx_candidates_job_score,priority:1"`
	FileName string `gorm:"type:varchar(255);not null;uniqueIndex:idx_candidates_job_file,priority:2"`
	Name     string `gorm:"type:varchar(255)"`
	Email    string `gorm:"type:varchar(255);index:idx_candidates_email"`

	SkillsJSON datatypes.JSON `gorm:"type:json"`
	ResumeJSON datatypes.JSON `gorm:"type:json"`

	// 匹配评估结果
	MatchPercentage  *int           `gorm:"type:int;index:idx_candidates_job_score,priority:2"`
	MatchDetailsJSON datatypes.JSON `gorm:"type:json"`
	Ranking          *int           `gorm:"type:int"`
	EvaluatedAt      *time.Time     `gorm:"type:datetime(6)"`

	// 招聘阶段跟踪
	Status        string     `gorm:"type:varchar(50);default:'matched';index:idx_candidates_status"`
	LastUpdated   *time.Time `gorm:"type:datetime(6)"`
	UpdatedBy     string     `gorm:"type:varchar(255)"`
	RateConfirmed *float64   `gorm:"type:float"`
	InterviewDate *time.Time `gorm:"type:datetime(6)"`
	Notes         string     `gorm:"type:text"`

	CreatedAt time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Candidate) TableName() string {
	return "candidates"
}

// OutboxMessage represents a message to be published asynchronously.
type OutboxMessage struct {
	ID               uint64     `gorm:"primaryKey;autoIncrement"`
	AggregateID      string     `gorm:"type:varchar(36);not null;index"`
	EventType        string     `gorm:"type:varchar(255);not null"`
	Payload          string     `gorm:"type:json;not null"`
	TargetExchange   string     `gorm:"type:varchar(255);not null"`
	TargetRoutingKey string     `gorm:"type:varchar(255);not null"`
	Status           string     `gorm:"type:varchar(20);default:'PENDING';not null;index:idx_outbox_status_created_at"`
	RetryCount       int        `gorm:"default:0"`
	CreatedAt        time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_outbox_status_created_at,sort:asc"`
	ProcessedAt      *time.Time `gorm:"type:datetime(6);null"`
	ErrorMessage     string     `gorm:"type:text"`
}

// TableName specifies the table name for the OutboxMessage model.
func (OutboxMessage) TableName() string {
	return "outbox_messages"
}
