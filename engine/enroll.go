package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"focalcrm/models"
)

// Enrollment precondition failures. Callers surface these to the
// stage-change collaborator; none of them is a system error.
var (
	ErrCampaignNotEligible = errors.New("campaign is not approved and enabled")
	ErrCategoryMismatch    = errors.New("project category does not match campaign target")
	ErrNoEmailConsent      = errors.New("client has not opted in to email")
	ErrAlreadySubscribed   = errors.New("project is already subscribed to this campaign")
)

// EnrollmentEvent is the payload fired by the pipeline collaborator when
// a project enters a stage.
type EnrollmentEvent struct {
	BusinessID uint   `json:"business_id" validate:"required"`
	ProjectID  uint   `json:"project_id" validate:"required"`
	ClientID   uint   `json:"client_id" validate:"required"`
	StageID    uint   `json:"stage_id" validate:"required"`
	Category   string `json:"category"`
}

// Enroller creates drip subscriptions when projects enter a campaign's
// target stage.
type Enroller struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Now    func() time.Time
}

func NewEnroller(db *gorm.DB, logger *logrus.Logger) *Enroller {
	return &Enroller{DB: db, Logger: logger, Now: time.Now}
}

// Enroll subscribes the event's project to every current-version campaign
// targeting the entered stage. The first email is due immediately: it
// goes out on the very next scheduler tick.
func (e *Enroller) Enroll(ctx context.Context, event EnrollmentEvent) ([]*models.DripSubscription, error) {
	var campaigns []models.DripCampaign
	err := e.DB.Where("business_id = ? AND target_stage_id = ? AND is_current_version = ?",
		event.BusinessID, event.StageID, true).
		Find(&campaigns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load campaigns for stage %d: %w", event.StageID, err)
	}

	var created []*models.DripSubscription
	for i := range campaigns {
		campaign := &campaigns[i]
		sub, err := e.enrollOne(campaign, event)
		if err != nil {
			e.Logger.WithFields(logrus.Fields{
				"campaign_id": campaign.ID,
				"project_id":  event.ProjectID,
			}).WithError(err).Debug("enrollment skipped")
			continue
		}
		created = append(created, sub)
	}
	return created, nil
}

func (e *Enroller) enrollOne(campaign *models.DripCampaign, event EnrollmentEvent) (*models.DripSubscription, error) {
	if campaign.Status != models.CampaignStatusApproved || !campaign.Enabled {
		return nil, ErrCampaignNotEligible
	}
	if campaign.TargetCategory != "" && campaign.TargetCategory != event.Category {
		return nil, ErrCategoryMismatch
	}

	var client models.Client
	if err := e.DB.First(&client, event.ClientID).Error; err != nil {
		return nil, fmt.Errorf("failed to load client %d: %w", event.ClientID, err)
	}
	if !HasConsent(&client, models.ChannelEmail) {
		return nil, ErrNoEmailConsent
	}

	var count int64
	err := e.DB.Model(&models.DripSubscription{}).
		Where("campaign_id = ? AND project_id = ?", campaign.ID, event.ProjectID).
		Count(&count).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check existing subscription: %w", err)
	}
	if count > 0 {
		return nil, ErrAlreadySubscribed
	}

	now := e.Now()
	sub := &models.DripSubscription{
		CampaignID:     campaign.ID,
		ProjectID:      event.ProjectID,
		ClientID:       event.ClientID,
		StartedAt:      now,
		NextEmailIndex: 0,
		NextEmailAt:    now,
		Status:         models.SubscriptionActive,
	}
	if err := e.DB.Create(sub).Error; err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	e.Logger.WithFields(logrus.Fields{
		"campaign_id":     campaign.ID,
		"project_id":      event.ProjectID,
		"subscription_id": sub.ID,
	}).Info("project enrolled in drip campaign")
	return sub, nil
}

// Unsubscribe stops a subscription on explicit opt-out.
func (e *Enroller) Unsubscribe(ctx context.Context, subscriptionID uint) error {
	result := e.DB.Model(&models.DripSubscription{}).
		Where("id = ? AND status = ?", subscriptionID, models.SubscriptionActive).
		Update("status", models.SubscriptionUnsubscribed)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no active subscription with id %d", subscriptionID)
	}
	return nil
}
