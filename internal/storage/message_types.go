package storage

// MatchTaskMessage 是提交到匹配队列的评估任务
type MatchTaskMessage struct {
	JobID string `json:"job_id"`
	// FileNames 为空表示评估岗位下的全部候选人
	FileNames   []string `json:"file_names,omitempty"`
	RequestedBy string   `json:"requested_by,omitempty"`
	SubmittedAt int64    `json:"submitted_at"`
}

// MatchCompletedEvent 在一次评估落库后发布
type MatchCompletedEvent struct {
	JobID           string `json:"job_id"`
	FileName        string `json:"file_name"`
	MatchPercentage int    `json:"match_percentage"`
	Ranking         int    `json:"ranking,omitempty"`
	EvaluatedAt     int64  `json:"evaluated_at"`
}

// 事件类型，写入outbox的EventType字段
const (
	EventTypeMatchCompleted = "match.completed"
	EventTypeBatchRanked    = "match.batch_ranked"
)
