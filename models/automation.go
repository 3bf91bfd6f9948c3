package models

import (
	"time"

	"gorm.io/gorm"
)

// Delivery statuses recorded in the ledgers
const (
	DeliveryStatusSent   = "sent"
	DeliveryStatusFailed = "failed"
)

// Automation represents a stage-triggered messaging rule. When a client
// sits in TriggerStageID, the enabled steps below fire on their own delays.
type Automation struct {
	gorm.Model
	BusinessID uint `gorm:"not null;index" json:"business_id"`

	Name           string `gorm:"not null" json:"name"`
	TriggerStageID uint   `gorm:"not null;index" json:"trigger_stage_id"`
	Channel        string `gorm:"default:'EMAIL'" json:"channel"` // EMAIL, SMS
	Enabled        bool   `gorm:"default:true" json:"enabled"`

	// Relations
	Steps []AutomationStep `gorm:"foreignKey:AutomationID" json:"steps,omitempty"`
}

// AutomationStep represents one delayed, templated message within an
// automation. Delay is measured from the moment the client entered the
// trigger stage, independently per step.
type AutomationStep struct {
	gorm.Model
	AutomationID uint `gorm:"not null;index" json:"automation_id"`
	TemplateID   uint `gorm:"not null;index" json:"template_id"`

	StepIndex    int  `gorm:"not null" json:"step_index"`
	DelayMinutes int  `gorm:"not null" json:"delay_minutes"`
	Enabled      bool `gorm:"default:true" json:"enabled"`

	// Optional quiet-hours window, inclusive on both bounds.
	// QuietHoursStart > QuietHoursEnd wraps midnight (e.g. 22..7).
	QuietHoursStart *int `json:"quiet_hours_start"`
	QuietHoursEnd   *int `json:"quiet_hours_end"`

	// Relations
	Template Template `json:"-"`
}

// DeliveryLog records every automation send attempt per (client, step).
// The unique index on (client_id, step_id, status) is the dedup key: at
// most one sent row may ever exist for a pair. Failed attempts collapse
// into a single row whose Attempts counter preserves retry history.
type DeliveryLog struct {
	gorm.Model
	ClientID uint `gorm:"not null;uniqueIndex:idx_delivery_dedup" json:"client_id"`
	StepID   uint `gorm:"not null;uniqueIndex:idx_delivery_dedup" json:"step_id"`

	Channel           string     `gorm:"not null" json:"channel"`
	Status            string     `gorm:"not null;uniqueIndex:idx_delivery_dedup" json:"status"` // sent, failed
	ProviderMessageID string     `json:"provider_message_id"`
	ErrorMessage      string     `gorm:"type:text" json:"error_message"`
	Attempts          int        `gorm:"default:1" json:"attempts"`
	SentAt            *time.Time `json:"sent_at"`
}
