package models

import "time"

type MissionType string

const (
	MissionCount       MissionType = "count"
	MissionThreshold   MissionType = "threshold"
	MissionStreakType  MissionType = "streak"
	MissionTimebound   MissionType = "timebound"
	MissionCombo       MissionType = "combo"
	MissionUnique      MissionType = "unique"
	MissionCompetitive MissionType = "competitive"
)

type MissionPeriod string

const (
	PeriodDaily     MissionPeriod = "daily"
	PeriodWeekly    MissionPeriod = "weekly"
	PeriodMonthly   MissionPeriod = "monthly"
	PeriodSpecial   MissionPeriod = "special"
	PeriodPerpetual MissionPeriod = "perpetual"
)

type MissionStatus string

const (
	MissionAssigned  MissionStatus = "assigned"
	MissionCompleted MissionStatus = "completed"
	MissionClaimed   MissionStatus = "claimed"
	MissionExpired   MissionStatus = "expired"
)

// MissionTemplate: read-mostly objective config. Requirements map event keys
// (e.g. "posts_created") to numeric targets; Rewards map reward keys
// (e.g. "dgt", "xp") to quantities. Both are data, not code — the evaluator
// dispatches on keys rather than branching per mission.
type MissionTemplate struct {
	ID            string           `gorm:"primaryKey;type:uuid" json:"id"`
	Key           string           `gorm:"uniqueIndex;not null" json:"key"` // slug, e.g. "daily-chatterbox"
	Name          string           `gorm:"not null" json:"name"`
	Description   string           `json:"description,omitempty"`
	Category      string           `gorm:"type:varchar(32);index" json:"category"`
	Type          MissionType      `gorm:"type:varchar(16);not null" json:"type"`
	Period        MissionPeriod    `gorm:"type:varchar(16);not null;default:'daily'" json:"period"`
	Requirements  map[string]int64 `gorm:"type:jsonb;serializer:json" json:"requirements"`
	Rewards       map[string]int64 `gorm:"type:jsonb;serializer:json" json:"rewards"`
	Prerequisites []string         `gorm:"type:jsonb;serializer:json" json:"prerequisites,omitempty"` // template keys that must be completed first
	Weight        int              `gorm:"default:1" json:"weight"`
	MinLevel      int              `gorm:"default:1" json:"min_level"`
	MaxLevel      int              `gorm:"default:0" json:"max_level"` // 0 = no upper bound
	CooldownHours int              `gorm:"default:0" json:"cooldown_hours"`
	Active        bool             `gorm:"default:true;index" json:"active"`

	Timestamps
}

// ActiveMission instantiates a template for one user over a period window.
// State machine: assigned → completed → claimed, with expired reached from
// assigned when PeriodEnd passes first.
type ActiveMission struct {
	ID             string           `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string           `gorm:"index:idx_mission_user_status;not null" json:"external_user_id"`
	TemplateID     string           `gorm:"index;not null" json:"template_id"`
	Template       *MissionTemplate `gorm:"foreignKey:TemplateID" json:"template,omitempty"`
	Period         MissionPeriod    `gorm:"type:varchar(16);not null" json:"period"`
	Status         MissionStatus    `gorm:"type:varchar(16);not null;default:'assigned';index:idx_mission_user_status" json:"status"`
	PeriodStart    time.Time        `gorm:"not null" json:"period_start"`
	PeriodEnd      time.Time        `gorm:"not null;index" json:"period_end"`
	AssignedAt     time.Time        `gorm:"not null" json:"assigned_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	ClaimedAt      *time.Time       `json:"claimed_at,omitempty"`

	Timestamps
}

// MissionProgress: one row per (mission, requirement key), CurrentValue is
// bounded by TargetValue and never decremented.
type MissionProgress struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	MissionID      string    `gorm:"uniqueIndex:idx_progress_mission_req;not null" json:"mission_id"`
	RequirementKey string    `gorm:"uniqueIndex:idx_progress_mission_req;not null" json:"requirement_key"`
	CurrentValue   int64     `gorm:"not null;default:0" json:"current_value"`
	TargetValue    int64     `gorm:"not null" json:"target_value"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// MissionStreak tracks consecutive completed periods per (user, streak type).
// A missed period resets CurrentStreak to 1 on the next completion (counting
// that completion), never to 0; BestStreak keeps its prior maximum.
type MissionStreak struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ExternalUserID  string     `gorm:"uniqueIndex:idx_streak_user_type;not null" json:"external_user_id"`
	StreakType      string     `gorm:"uniqueIndex:idx_streak_user_type;not null" json:"streak_type"` // mission period, e.g. "daily"
	CurrentStreak   int        `gorm:"not null;default:0" json:"current_streak"`
	BestStreak      int        `gorm:"not null;default:0" json:"best_streak"`
	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
	BrokenAt        *time.Time `json:"broken_at,omitempty"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// MissionHistory archives finished missions (rewarded or expired) so the
// active table stays small.
type MissionHistory struct {
	ID             string           `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string           `gorm:"index;not null" json:"external_user_id"`
	TemplateKey    string           `gorm:"index;not null" json:"template_key"`
	Period         MissionPeriod    `gorm:"type:varchar(16)" json:"period"`
	Outcome        MissionStatus    `gorm:"type:varchar(16);not null" json:"outcome"` // completed or expired
	Rewards        map[string]int64 `gorm:"type:jsonb;serializer:json" json:"rewards,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	ArchivedAt     time.Time        `gorm:"autoCreateTime" json:"archived_at"`
}
