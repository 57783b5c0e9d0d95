package domain

import "time"

type RunStatus string

const (
	RunQueued     RunStatus = "queued"
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// VerificationRun indexes one verification run in the relational store.
// The verdict itself lives in the candidate folder; this row only tracks
// progress and points at the artifacts.
type VerificationRun struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	RunID             string    `gorm:"size:36;uniqueIndex;not null" json:"run_id"`
	Folder            string    `gorm:"size:512;index;not null" json:"folder"`
	Status            RunStatus `gorm:"size:16;index;not null;default:queued" json:"status"`
	Candidate         string    `gorm:"size:255" json:"candidate"`
	DeclaredAverage   float64   `json:"declared_average"`
	OfficialAverage   *float64  `json:"official_average"`
	Concordance       bool      `json:"concordance"`
	DiscordanceCount  int       `json:"discordance_count"`
	UnverifiableCount int       `json:"unverifiable_count"`
	RecordPath        *string   `gorm:"size:1024" json:"record_path"`
	ReportPath        *string   `gorm:"size:1024" json:"report_path"`
	ErrorMessage      *string   `gorm:"type:text" json:"error_message"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
