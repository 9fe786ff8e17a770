package models

import "time"

type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventProcessing EventStatus = "processing"
	EventCompleted  EventStatus = "completed"
	EventFailed     EventStatus = "failed"
	EventSkipped    EventStatus = "skipped"
)

// AchievementEvent is the append-only input queue for the mission evaluator.
// Rows are claimed by the worker, never deleted; failed rows are retried by
// the reprocessing sweep until MaxEventAttempts, then skipped.
type AchievementEvent struct {
	ID             uint              `gorm:"primaryKey" json:"id"`
	EventID        string            `gorm:"uniqueIndex;not null" json:"event_id"` // caller-supplied, makes redelivery detectable
	ExternalUserID string            `gorm:"index:idx_event_user_status;not null" json:"external_user_id"`
	EventType      string            `gorm:"not null;index" json:"event_type"`
	Payload        map[string]string `gorm:"type:jsonb;serializer:json" json:"payload,omitempty"`
	TriggeredAt    time.Time         `gorm:"not null" json:"triggered_at"`
	Status         EventStatus       `gorm:"type:varchar(16);not null;default:'pending';index:idx_event_user_status" json:"status"`
	Attempts       int               `gorm:"not null;default:0" json:"attempts"`
	LastError      string            `json:"last_error,omitempty"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// MaxEventAttempts is how many times a failed event is reprocessed before it
// is marked skipped for manual inspection.
const MaxEventAttempts = 5
