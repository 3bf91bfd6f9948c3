package engine

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"focalcrm/models"
)

// ErrDuplicateSend is returned when a sent entry already exists for the
// dedup key. The unique index on the ledger tables is the storage-level
// backstop; this error surfaces the application-level check.
var ErrDuplicateSend = errors.New("a sent entry already exists for this recipient and step")

// Ledger is the append-only record of send attempts. Callers only ever
// insert through RecordSent/RecordFailure; rows are never updated except
// the Attempts counter on the single failed row per key.
type Ledger struct {
	DB *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{DB: db}
}

// FindSent returns the sent entry for (client, step), or nil.
func (l *Ledger) FindSent(clientID, stepID uint) (*models.DeliveryLog, error) {
	var entry models.DeliveryLog
	err := l.DB.Where("client_id = ? AND step_id = ? AND status = ?",
		clientID, stepID, models.DeliveryStatusSent).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// FailureCount returns how many failed attempts were recorded for
// (client, step).
func (l *Ledger) FailureCount(clientID, stepID uint) (int, error) {
	var entry models.DeliveryLog
	err := l.DB.Where("client_id = ? AND step_id = ? AND status = ?",
		clientID, stepID, models.DeliveryStatusFailed).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return entry.Attempts, nil
}

// RecordSent writes the sent entry for (client, step). The check and the
// insert run in one transaction so two concurrent processors cannot both
// record a send.
func (l *Ledger) RecordSent(clientID, stepID uint, channel, providerMessageID string, sentAt time.Time) error {
	return l.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.DeliveryLog{}).
			Where("client_id = ? AND step_id = ? AND status = ?",
				clientID, stepID, models.DeliveryStatusSent).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateSend
		}
		return tx.Create(&models.DeliveryLog{
			ClientID:          clientID,
			StepID:            stepID,
			Channel:           channel,
			Status:            models.DeliveryStatusSent,
			ProviderMessageID: providerMessageID,
			SentAt:            &sentAt,
		}).Error
	})
}

// RecordFailure records a failed attempt for (client, step). Repeated
// failures bump the Attempts counter on the existing row.
func (l *Ledger) RecordFailure(clientID, stepID uint, channel, errorMessage string) error {
	return l.DB.Transaction(func(tx *gorm.DB) error {
		var entry models.DeliveryLog
		err := tx.Where("client_id = ? AND step_id = ? AND status = ?",
			clientID, stepID, models.DeliveryStatusFailed).First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&models.DeliveryLog{
				ClientID:     clientID,
				StepID:       stepID,
				Channel:      channel,
				Status:       models.DeliveryStatusFailed,
				ErrorMessage: errorMessage,
				Attempts:     1,
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&entry).Updates(map[string]interface{}{
			"attempts":      gorm.Expr("attempts + ?", 1),
			"error_message": errorMessage,
		}).Error
	})
}

// FindDripSent returns the sent entry for (subscription, email), or nil.
func (l *Ledger) FindDripSent(subscriptionID, emailID uint) (*models.DripDelivery, error) {
	var entry models.DripDelivery
	err := l.DB.Where("subscription_id = ? AND email_id = ? AND status = ?",
		subscriptionID, emailID, models.DeliveryStatusSent).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// RecordDripSent writes the sent entry for (subscription, email).
func (l *Ledger) RecordDripSent(subscriptionID, emailID uint, providerMessageID string, sentAt time.Time) error {
	return l.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.DripDelivery{}).
			Where("subscription_id = ? AND email_id = ? AND status = ?",
				subscriptionID, emailID, models.DeliveryStatusSent).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("drip delivery: %w", ErrDuplicateSend)
		}
		return tx.Create(&models.DripDelivery{
			SubscriptionID:    subscriptionID,
			EmailID:           emailID,
			Status:            models.DeliveryStatusSent,
			ProviderMessageID: providerMessageID,
			SentAt:            &sentAt,
		}).Error
	})
}

// RecordDripFailure records a failed drip attempt, bumping Attempts on
// repeat.
func (l *Ledger) RecordDripFailure(subscriptionID, emailID uint, errorMessage string) error {
	return l.DB.Transaction(func(tx *gorm.DB) error {
		var entry models.DripDelivery
		err := tx.Where("subscription_id = ? AND email_id = ? AND status = ?",
			subscriptionID, emailID, models.DeliveryStatusFailed).First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&models.DripDelivery{
				SubscriptionID: subscriptionID,
				EmailID:        emailID,
				Status:         models.DeliveryStatusFailed,
				ErrorMessage:   errorMessage,
				Attempts:       1,
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&entry).Updates(map[string]interface{}{
			"attempts":      gorm.Expr("attempts + ?", 1),
			"error_message": errorMessage,
		}).Error
	})
}
