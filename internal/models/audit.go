package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntry is an append-only record of a state-mutating action. Entries
// are never updated or deleted.
type AuditEntry struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	UserID       *string   `gorm:"size:36;index" json:"user_id,omitempty"`
	Action       string    `gorm:"size:100;not null" json:"action"`
	ResourceType string    `gorm:"size:50;not null" json:"resource_type"`
	ResourceID   string    `gorm:"size:36;index" json:"resource_id"`
	OldValue     string    `gorm:"type:text" json:"old_value,omitempty"`
	NewValue     string    `gorm:"type:text" json:"new_value,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage string    `gorm:"size:1000" json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewAuditEntry builds an audit record for an action on a resource.
func NewAuditEntry(action, resourceType, resourceID string) *AuditEntry {
	return &AuditEntry{
		ID:           uuid.NewString(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Success:      true,
	}
}
