package models

import "gorm.io/gorm"

// Channel identifiers used by automations and dispatchers
const (
	ChannelEmail = "EMAIL"
	ChannelSMS   = "SMS"
)

// Business represents a photography studio account that owns
// clients, automations and drip campaigns
type Business struct {
	gorm.Model

	Name       string `gorm:"not null" json:"name"`
	OwnerEmail string `gorm:"not null;index" json:"owner_email"`
	IsActive   bool   `gorm:"default:true" json:"is_active"`

	// Email channel (SMTP) credentials
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `gorm:"default:587" json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"-"` // encrypted at rest, see utils.Encrypt
	FromEmail    string `json:"from_email"`
	FromName     string `json:"from_name"`

	// SMS channel gateway credentials
	SMSGatewayURL string `json:"sms_gateway_url"`
	SMSAPIKey     string `json:"-"` // encrypted at rest
	SMSFromNumber string `json:"sms_from_number"`

	// Relations
	Users       []User         `gorm:"foreignKey:BusinessID" json:"users,omitempty"`
	Automations []Automation   `gorm:"foreignKey:BusinessID" json:"automations,omitempty"`
	Campaigns   []DripCampaign `gorm:"foreignKey:BusinessID" json:"campaigns,omitempty"`
}

// User represents an operator account (studio owner or staff)
type User struct {
	gorm.Model
	BusinessID uint `gorm:"not null;index" json:"business_id"`

	Email        string `gorm:"not null;uniqueIndex" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	Name         string `json:"name"`
	IsActive     bool   `gorm:"default:true" json:"is_active"`

	// Relations
	Business Business `json:"-"`
}
