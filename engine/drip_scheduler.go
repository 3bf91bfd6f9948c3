package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"focalcrm/models"
)

// DripScheduler delivers due campaign emails. Every tick it picks the
// active subscriptions whose next-send time has arrived, sends the next
// approved email through the email dispatcher, and advances the pointer.
type DripScheduler struct {
	DB     *gorm.DB
	Ledger *Ledger
	Email  Dispatcher
	Logger *logrus.Logger
	Now    func() time.Time
}

func NewDripScheduler(db *gorm.DB, ledger *Ledger, email Dispatcher, logger *logrus.Logger) *DripScheduler {
	return &DripScheduler{
		DB:     db,
		Ledger: ledger,
		Email:  email,
		Logger: logger,
		Now:    time.Now,
	}
}

// RunOnce processes every due subscription. Failures on one subscription
// are isolated: logged, captured, and skipped until the next tick.
func (s *DripScheduler) RunOnce(ctx context.Context) error {
	now := s.Now()

	var subscriptions []models.DripSubscription
	err := s.DB.Where("status = ? AND next_email_at <= ?", models.SubscriptionActive, now).
		Find(&subscriptions).Error
	if err != nil {
		return fmt.Errorf("failed to load due subscriptions: %w", err)
	}

	for i := range subscriptions {
		sub := &subscriptions[i]
		if err := s.processSubscription(ctx, sub); err != nil {
			s.Logger.WithError(err).WithField("subscription_id", sub.ID).
				Error("drip subscription processing failed")
			sentry.CaptureException(err)
		}
	}
	return nil
}

func (s *DripScheduler) processSubscription(ctx context.Context, sub *models.DripSubscription) error {
	var campaign models.DripCampaign
	if err := s.DB.First(&campaign, sub.CampaignID).Error; err != nil {
		return fmt.Errorf("failed to load campaign %d: %w", sub.CampaignID, err)
	}

	// A paused or unapproved campaign holds its subscriptions in place:
	// nothing sends and the pointer stays put until it is re-enabled.
	if !campaign.Enabled || campaign.Status != models.CampaignStatusApproved {
		return nil
	}

	// 1. Resolve the email at the pointer; past the end means done.
	var email models.DripCampaignEmail
	err := s.DB.Where("campaign_id = ? AND sequence_index = ?", campaign.ID, sub.NextEmailIndex).
		First(&email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.complete(sub)
	}
	if err != nil {
		return fmt.Errorf("failed to load campaign email: %w", err)
	}

	// 2. Unapproved content never goes out. The pointer stays put and the
	// subscription waits, re-checked every tick, until an operator approves.
	if email.ApprovalStatus != models.ApprovalApproved {
		s.Logger.WithFields(logrus.Fields{
			"subscription_id": sub.ID,
			"email_id":        email.ID,
			"approval_status": email.ApprovalStatus,
		}).Debug("drip email held back pending approval")
		return nil
	}

	// 3. Re-check consent at send time.
	var client models.Client
	if err := s.DB.First(&client, sub.ClientID).Error; err != nil {
		return fmt.Errorf("failed to load client %d: %w", sub.ClientID, err)
	}
	if !HasConsent(&client, models.ChannelEmail) {
		s.Logger.WithField("subscription_id", sub.ID).
			Info("consent withdrawn, unsubscribing")
		return s.DB.Model(sub).Update("status", models.SubscriptionUnsubscribed).Error
	}

	// 4. Dedup: a sent entry without an advanced pointer means we crashed
	// between send and advance. Skip the send, fix the pointer.
	sent, err := s.Ledger.FindDripSent(sub.ID, email.ID)
	if err != nil {
		return fmt.Errorf("drip ledger lookup failed: %w", err)
	}
	if sent != nil {
		return s.advance(sub, &campaign)
	}

	// 5. Render and dispatch.
	var business models.Business
	if err := s.DB.First(&business, campaign.BusinessID).Error; err != nil {
		return fmt.Errorf("failed to load business %d: %w", campaign.BusinessID, err)
	}

	vars := ClientVars(&client, &business)
	msg := Message{
		To:       client.Email,
		Subject:  Render(email.Subject, vars),
		HTMLBody: Render(email.HTMLContent, vars),
		TextBody: Render(email.TextContent, vars),
	}

	providerID, err := s.Email.Send(ctx, &business, msg)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return s.disableCampaign(&campaign, err)
		}
		s.Logger.WithError(err).WithField("subscription_id", sub.ID).
			Warn("drip dispatch failed, recording for retry")
		return s.Ledger.RecordDripFailure(sub.ID, email.ID, err.Error())
	}

	if err := s.Ledger.RecordDripSent(sub.ID, email.ID, providerID, s.Now()); err != nil {
		if errors.Is(err, ErrDuplicateSend) {
			return s.advance(sub, &campaign)
		}
		return fmt.Errorf("failed to record drip delivery: %w", err)
	}

	s.Logger.WithFields(logrus.Fields{
		"subscription_id":     sub.ID,
		"email_id":            email.ID,
		"provider_message_id": providerID,
	}).Info("drip email sent")

	// 6. Advance the pointer.
	return s.advance(sub, &campaign)
}

// advance moves the subscription to the next email, keeping NextEmailAt
// anchored to StartedAt, or completes the subscription when the sequence
// is exhausted.
func (s *DripScheduler) advance(sub *models.DripSubscription, campaign *models.DripCampaign) error {
	nextIndex := sub.NextEmailIndex + 1

	var next models.DripCampaignEmail
	err := s.DB.Where("campaign_id = ? AND sequence_index = ?", campaign.ID, nextIndex).
		First(&next).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.DB.Model(sub).Updates(map[string]interface{}{
			"next_email_index": nextIndex,
			"status":           models.SubscriptionCompleted,
		}).Error
	}
	if err != nil {
		return fmt.Errorf("failed to load next campaign email: %w", err)
	}

	nextAt := sub.StartedAt.AddDate(0, 0, next.DaysAfterStart)
	return s.DB.Model(sub).Updates(map[string]interface{}{
		"next_email_index": nextIndex,
		"next_email_at":    nextAt,
	}).Error
}

func (s *DripScheduler) complete(sub *models.DripSubscription) error {
	return s.DB.Model(sub).Update("status", models.SubscriptionCompleted).Error
}

func (s *DripScheduler) disableCampaign(campaign *models.DripCampaign, cause error) error {
	s.Logger.WithField("campaign_id", campaign.ID).WithError(cause).
		Warn("disabling campaign: email channel not configured")
	sentry.CaptureException(fmt.Errorf("campaign %d disabled: %w", campaign.ID, cause))
	return s.DB.Model(&models.DripCampaign{}).Where("id = ?", campaign.ID).
		Update("enabled", false).Error
}

// ExpireStale completes active subscriptions that have outlived their
// campaign's MaxDurationMonths. Housekeeping, run on the drip tick.
func (s *DripScheduler) ExpireStale(ctx context.Context) error {
	now := s.Now()

	var subscriptions []models.DripSubscription
	err := s.DB.Where("status = ?", models.SubscriptionActive).Find(&subscriptions).Error
	if err != nil {
		return fmt.Errorf("failed to load active subscriptions: %w", err)
	}

	for i := range subscriptions {
		sub := &subscriptions[i]
		var campaign models.DripCampaign
		if err := s.DB.First(&campaign, sub.CampaignID).Error; err != nil {
			s.Logger.WithError(err).WithField("subscription_id", sub.ID).
				Error("failed to load campaign for expiry check")
			continue
		}
		if campaign.MaxDurationMonths <= 0 {
			continue
		}
		deadline := sub.StartedAt.AddDate(0, campaign.MaxDurationMonths, 0)
		if now.After(deadline) {
			if err := s.complete(sub); err != nil {
				s.Logger.WithError(err).WithField("subscription_id", sub.ID).
					Error("failed to expire subscription")
			}
		}
	}
	return nil
}
