package models

import (
	"time"

	"gorm.io/gorm"
)

// Drip campaign lifecycle states
const (
	CampaignStatusDraft    = "draft"
	CampaignStatusApproved = "approved"
)

// Per-email approval states
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// Subscription lifecycle states
const (
	SubscriptionActive       = "active"
	SubscriptionCompleted    = "completed"
	SubscriptionUnsubscribed = "unsubscribed"
)

// DripCampaign represents a long-running, pre-authored sequence of timed
// emails. Campaigns are versioned: edits that need a clean slate create a
// new campaign row linked through ParentCampaignID, and only the row with
// IsCurrentVersion=true picks up new enrollments. Live subscriptions stay
// bound to the campaign id they started with.
type DripCampaign struct {
	gorm.Model
	BusinessID uint `gorm:"not null;index" json:"business_id"`

	Name           string `gorm:"not null" json:"name"`
	TargetCategory string `gorm:"index" json:"target_category"`
	TargetStageID  uint   `gorm:"index" json:"target_stage_id"`
	Status         string `gorm:"default:'draft'" json:"status"` // draft, approved
	Enabled        bool   `gorm:"default:false" json:"enabled"`

	Version          int   `gorm:"default:1" json:"version"`
	IsCurrentVersion bool  `gorm:"default:true" json:"is_current_version"`
	ParentCampaignID *uint `gorm:"index" json:"parent_campaign_id"`

	MaxDurationMonths   int `gorm:"default:36" json:"max_duration_months"`
	EmailFrequencyWeeks int `gorm:"default:2" json:"email_frequency_weeks"` // advisory only

	// Relations
	Emails        []DripCampaignEmail `gorm:"foreignKey:CampaignID" json:"emails,omitempty"`
	Subscriptions []DripSubscription  `gorm:"foreignKey:CampaignID" json:"subscriptions,omitempty"`
}

// DripCampaignEmail represents one email in a campaign's sequence.
// DaysAfterStart is an offset from subscription start, not from the
// previous email. The first time content is edited the current text is
// snapshotted into the Original* fields so edits stay revertible.
type DripCampaignEmail struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`

	SequenceIndex  int `gorm:"not null" json:"sequence_index"`
	DaysAfterStart int `gorm:"not null" json:"days_after_start"`

	Subject     string `gorm:"not null" json:"subject"`
	HTMLContent string `gorm:"type:text" json:"html_content"`
	TextContent string `gorm:"type:text" json:"text_content"`

	ApprovalStatus  string     `gorm:"default:'pending'" json:"approval_status"` // pending, approved, rejected
	RejectionReason string     `json:"rejection_reason"`
	ApprovedBy      string     `json:"approved_by"`
	ApprovedAt      *time.Time `json:"approved_at"`

	HasManualEdits      bool   `gorm:"default:false" json:"has_manual_edits"`
	OriginalSubject     string `json:"original_subject"`
	OriginalHTMLContent string `gorm:"type:text" json:"original_html_content"`
	OriginalTextContent string `gorm:"type:text" json:"original_text_content"`
}

// DripSubscription represents one project's enrollment in a campaign.
// Invariant while ACTIVE: NextEmailAt = StartedAt + DaysAfterStart of the
// email at NextEmailIndex.
type DripSubscription struct {
	gorm.Model
	CampaignID uint `gorm:"not null;uniqueIndex:idx_campaign_project" json:"campaign_id"`
	ProjectID  uint `gorm:"not null;uniqueIndex:idx_campaign_project" json:"project_id"`
	ClientID   uint `gorm:"not null;index" json:"client_id"`

	StartedAt      time.Time `gorm:"not null" json:"started_at"`
	NextEmailIndex int       `gorm:"default:0" json:"next_email_index"`
	NextEmailAt    time.Time `gorm:"index" json:"next_email_at"`
	Status         string    `gorm:"default:'active';index" json:"status"` // active, completed, unsubscribed
}

// DripDelivery records every drip send attempt per (subscription, email),
// with the same dedup discipline as DeliveryLog.
type DripDelivery struct {
	gorm.Model
	SubscriptionID uint `gorm:"not null;uniqueIndex:idx_drip_dedup" json:"subscription_id"`
	EmailID        uint `gorm:"not null;uniqueIndex:idx_drip_dedup" json:"email_id"`

	Status            string     `gorm:"not null;uniqueIndex:idx_drip_dedup" json:"status"` // sent, failed
	ProviderMessageID string     `json:"provider_message_id"`
	ErrorMessage      string     `gorm:"type:text" json:"error_message"`
	Attempts          int        `gorm:"default:1" json:"attempts"`
	SentAt            *time.Time `json:"sent_at"`
}

// CampaignVersionLog is the append-only version history of a campaign
// lineage. One entry per NewVersion call.
type CampaignVersionLog struct {
	gorm.Model
	CampaignID    uint `gorm:"not null;index" json:"campaign_id"` // version being superseded
	NewCampaignID uint `gorm:"not null;index" json:"new_campaign_id"`

	Version       int    `gorm:"not null" json:"version"` // version number of the new row
	Description   string `json:"description"`
	ChangeSummary string `gorm:"type:text" json:"change_summary"` // JSON snapshot of the copied email set
	CreatedBy     string `json:"created_by"`
}
