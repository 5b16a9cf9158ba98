package models

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the pipeline's view of an execution attempt lineage.
type ExecutionStatus string

const (
	ExecutionQueued    ExecutionStatus = "queued"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the execution can make no further progress.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// ExecutionLogEntry records the lifecycle of one logical execution attempt
// for a signal. Retries increment RetryCount on the same row rather than
// creating new rows, so the row is the full history of the attempt lineage.
type ExecutionLogEntry struct {
	ID               string          `gorm:"primaryKey;size:36" json:"id"`
	SignalID         string          `gorm:"size:36;index" json:"signal_id"`
	TradeID          *string         `gorm:"size:36" json:"trade_id,omitempty"`
	Status           ExecutionStatus `gorm:"size:20;not null;index" json:"status"`
	StartedAt        time.Time       `json:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	DurationMs       *int64          `json:"duration_ms,omitempty"`
	RiskCheckPassed  bool            `json:"risk_check_passed"`
	RiskCheckDetails string          `gorm:"type:text" json:"risk_check_details,omitempty"`
	TradeExecuted    bool            `json:"trade_executed"`
	ErrorType        *string         `gorm:"size:50" json:"error_type,omitempty"`
	ErrorMessage     *string         `gorm:"size:1000" json:"error_message,omitempty"`
	RetryCount       int             `json:"retry_count"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewExecutionLogEntry starts a queued execution record for a signal.
func NewExecutionLogEntry(signalID string) *ExecutionLogEntry {
	return &ExecutionLogEntry{
		ID:        uuid.NewString(),
		SignalID:  signalID,
		Status:    ExecutionQueued,
		StartedAt: time.Now().UTC(),
	}
}

// Finish moves the entry to a terminal status and stamps duration.
func (e *ExecutionLogEntry) Finish(status ExecutionStatus) {
	now := time.Now().UTC()
	e.Status = status
	e.CompletedAt = &now
	ms := now.Sub(e.StartedAt).Milliseconds()
	e.DurationMs = &ms
}
