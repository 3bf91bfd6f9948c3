package models

import (
	"time"

	"gorm.io/gorm"
)

// PipelineStage represents one column of a business's lead pipeline
type PipelineStage struct {
	gorm.Model
	BusinessID uint `gorm:"not null;index" json:"business_id"`

	Name     string `gorm:"not null" json:"name"`
	Position int    `gorm:"default:0" json:"position"`
}

// Client represents a lead or booked client. The engine only reads
// clients; stage moves and consent changes come from the CRM layer.
type Client struct {
	gorm.Model
	BusinessID uint `gorm:"not null;index" json:"business_id"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `gorm:"index" json:"email"`
	Phone     string `json:"phone"`

	// Pipeline position, maintained by the CRM on stage moves
	StageID        *uint      `gorm:"index" json:"stage_id"`
	StageEnteredAt *time.Time `json:"stage_entered_at"`

	// Per-channel consent
	EmailOptIn bool `gorm:"default:true" json:"email_opt_in"`
	SMSOptIn   bool `gorm:"default:false" json:"sms_opt_in"`

	// Relations
	Projects []Project `gorm:"foreignKey:ClientID" json:"projects,omitempty"`
}

// Project represents a booked engagement (wedding, portrait session, ...)
// for a client. Drip subscriptions attach to projects, not clients, so a
// client with two weddings can run the same campaign twice.
type Project struct {
	gorm.Model
	BusinessID uint `gorm:"not null;index" json:"business_id"`
	ClientID   uint `gorm:"not null;index" json:"client_id"`

	Name     string `json:"name"`
	Category string `gorm:"index" json:"category"` // wedding, portrait, newborn, ...

	StageID        *uint      `gorm:"index" json:"stage_id"`
	StageEnteredAt *time.Time `json:"stage_entered_at"`

	// Relations
	Client Client `json:"-"`
}

// Template represents reusable message content referenced by automation
// steps. Placeholders use {{key}} syntax, substituted at send time.
type Template struct {
	gorm.Model
	BusinessID uint `gorm:"not null;index" json:"business_id"`

	Name        string `gorm:"not null" json:"name"`
	Subject     string `json:"subject"`
	HTMLContent string `gorm:"type:text" json:"html_content"`
	TextContent string `gorm:"type:text" json:"text_content"`
}
