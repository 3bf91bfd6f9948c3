package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"focalcrm/models"
)

var (
	ErrRejectionReasonRequired = errors.New("a rejection reason is required")
	ErrNoManualEdits           = errors.New("email has no manual edits to revert")
	ErrNotCurrentVersion       = errors.New("only the current campaign version can be versioned")
)

// CampaignManager governs which campaign content is eligible to send and
// preserves edit history. All multi-row changes run inside a single
// transaction so an in-flight scheduler pass never observes half a change.
type CampaignManager struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Now    func() time.Time
}

func NewCampaignManager(db *gorm.DB, logger *logrus.Logger) *CampaignManager {
	return &CampaignManager{DB: db, Logger: logger, Now: time.Now}
}

// EditEmail updates an email's content. The first edit snapshots the
// current content into the Original* fields; later edits leave the
// snapshot alone so the pre-edit content stays recoverable. Every edit
// resets approval to pending.
func (m *CampaignManager) EditEmail(ctx context.Context, emailID uint, subject, htmlContent, textContent string) (*models.DripCampaignEmail, error) {
	var email models.DripCampaignEmail
	err := m.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&email, emailID).Error; err != nil {
			return fmt.Errorf("failed to load campaign email %d: %w", emailID, err)
		}

		updates := map[string]interface{}{
			"subject":          subject,
			"html_content":     htmlContent,
			"text_content":     textContent,
			"approval_status":  models.ApprovalPending,
			"rejection_reason": "",
			"approved_by":      "",
			"approved_at":      nil,
		}
		if !email.HasManualEdits {
			updates["has_manual_edits"] = true
			updates["original_subject"] = email.Subject
			updates["original_html_content"] = email.HTMLContent
			updates["original_text_content"] = email.TextContent
		}
		return tx.Model(&email).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	if err := m.DB.First(&email, emailID).Error; err != nil {
		return nil, err
	}
	return &email, nil
}

// RevertEmail restores the pre-edit content snapshot and resets approval.
func (m *CampaignManager) RevertEmail(ctx context.Context, emailID uint) (*models.DripCampaignEmail, error) {
	var email models.DripCampaignEmail
	err := m.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&email, emailID).Error; err != nil {
			return fmt.Errorf("failed to load campaign email %d: %w", emailID, err)
		}
		if !email.HasManualEdits {
			return ErrNoManualEdits
		}
		return tx.Model(&email).Updates(map[string]interface{}{
			"subject":               email.OriginalSubject,
			"html_content":          email.OriginalHTMLContent,
			"text_content":          email.OriginalTextContent,
			"has_manual_edits":      false,
			"original_subject":      "",
			"original_html_content": "",
			"original_text_content": "",
			"approval_status":       models.ApprovalPending,
			"rejection_reason":      "",
			"approved_by":           "",
			"approved_at":           nil,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	if err := m.DB.First(&email, emailID).Error; err != nil {
		return nil, err
	}
	return &email, nil
}

// ApproveEmail marks an email eligible to send, recording the actor and
// timestamp.
func (m *CampaignManager) ApproveEmail(ctx context.Context, emailID uint, actor string) error {
	now := m.Now()
	result := m.DB.Model(&models.DripCampaignEmail{}).Where("id = ?", emailID).
		Updates(map[string]interface{}{
			"approval_status":  models.ApprovalApproved,
			"approved_by":      actor,
			"approved_at":      now,
			"rejection_reason": "",
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("campaign email %d not found", emailID)
	}
	return nil
}

// RejectEmail marks an email ineligible. A reason is mandatory.
func (m *CampaignManager) RejectEmail(ctx context.Context, emailID uint, actor, reason string) error {
	if reason == "" {
		return ErrRejectionReasonRequired
	}
	now := m.Now()
	result := m.DB.Model(&models.DripCampaignEmail{}).Where("id = ?", emailID).
		Updates(map[string]interface{}{
			"approval_status":  models.ApprovalRejected,
			"approved_by":      actor,
			"approved_at":      now,
			"rejection_reason": reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("campaign email %d not found", emailID)
	}
	return nil
}

// versionSnapshot is the ChangeSummary payload written to the version log.
type versionSnapshot struct {
	FromVersion int      `json:"from_version"`
	ToVersion   int      `json:"to_version"`
	EmailCount  int      `json:"email_count"`
	Subjects    []string `json:"subjects"`
}

// NewVersion duplicates the current campaign row set under an incremented
// version number. The prior version loses IsCurrentVersion and keeps its
// live subscribers untouched; only new enrollments pick up the new row.
func (m *CampaignManager) NewVersion(ctx context.Context, campaignID uint, description, actor string) (*models.DripCampaign, error) {
	var newCampaign *models.DripCampaign
	err := m.DB.Transaction(func(tx *gorm.DB) error {
		var current models.DripCampaign
		if err := tx.Preload("Emails", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence_index ASC")
		}).First(&current, campaignID).Error; err != nil {
			return fmt.Errorf("failed to load campaign %d: %w", campaignID, err)
		}
		if !current.IsCurrentVersion {
			return ErrNotCurrentVersion
		}

		parentID := current.ID
		copied := models.DripCampaign{
			BusinessID:          current.BusinessID,
			Name:                current.Name,
			TargetCategory:      current.TargetCategory,
			TargetStageID:       current.TargetStageID,
			Status:              current.Status,
			Enabled:             current.Enabled,
			Version:             current.Version + 1,
			IsCurrentVersion:    true,
			ParentCampaignID:    &parentID,
			MaxDurationMonths:   current.MaxDurationMonths,
			EmailFrequencyWeeks: current.EmailFrequencyWeeks,
		}
		if err := tx.Create(&copied).Error; err != nil {
			return fmt.Errorf("failed to create campaign version: %w", err)
		}

		snapshot := versionSnapshot{
			FromVersion: current.Version,
			ToVersion:   copied.Version,
			EmailCount:  len(current.Emails),
		}
		for _, email := range current.Emails {
			snapshot.Subjects = append(snapshot.Subjects, email.Subject)
			emailCopy := models.DripCampaignEmail{
				CampaignID:          copied.ID,
				SequenceIndex:       email.SequenceIndex,
				DaysAfterStart:      email.DaysAfterStart,
				Subject:             email.Subject,
				HTMLContent:         email.HTMLContent,
				TextContent:         email.TextContent,
				ApprovalStatus:      email.ApprovalStatus,
				RejectionReason:     email.RejectionReason,
				ApprovedBy:          email.ApprovedBy,
				ApprovedAt:          email.ApprovedAt,
				HasManualEdits:      email.HasManualEdits,
				OriginalSubject:     email.OriginalSubject,
				OriginalHTMLContent: email.OriginalHTMLContent,
				OriginalTextContent: email.OriginalTextContent,
			}
			if err := tx.Create(&emailCopy).Error; err != nil {
				return fmt.Errorf("failed to copy campaign email %d: %w", email.ID, err)
			}
		}

		if err := tx.Model(&current).Update("is_current_version", false).Error; err != nil {
			return fmt.Errorf("failed to demote prior version: %w", err)
		}

		summary, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}
		if err := tx.Create(&models.CampaignVersionLog{
			CampaignID:    current.ID,
			NewCampaignID: copied.ID,
			Version:       copied.Version,
			Description:   description,
			ChangeSummary: string(summary),
			CreatedBy:     actor,
		}).Error; err != nil {
			return fmt.Errorf("failed to append version log: %w", err)
		}

		newCampaign = &copied
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.Logger.WithFields(logrus.Fields{
		"campaign_id":     campaignID,
		"new_campaign_id": newCampaign.ID,
		"version":         newCampaign.Version,
	}).Info("campaign version created")
	return newCampaign, nil
}

// DeleteAutomation disables the automation and deletes its steps in one
// transaction, so a concurrent evaluator pass can never dispatch against
// a half-deleted automation. Delivery logs stay: the ledger is append-only.
func (m *CampaignManager) DeleteAutomation(ctx context.Context, automationID uint) error {
	return m.DB.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Automation{}).Where("id = ?", automationID).
			Update("enabled", false)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("automation %d not found", automationID)
		}
		if err := tx.Where("automation_id = ?", automationID).
			Delete(&models.AutomationStep{}).Error; err != nil {
			return fmt.Errorf("failed to delete automation steps: %w", err)
		}
		return tx.Delete(&models.Automation{}, automationID).Error
	})
}
