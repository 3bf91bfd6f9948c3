package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"focalcrm/models"
)

// TriggerEvaluator fans one tick out across every enabled automation:
// for each one it finds the clients currently sitting in the trigger
// stage and hands every (client, step) pair to the StepProcessor. It has
// no side effects of its own beyond delegation and failure isolation.
type TriggerEvaluator struct {
	DB        *gorm.DB
	Processor *StepProcessor
	Logger    *logrus.Logger
}

func NewTriggerEvaluator(db *gorm.DB, processor *StepProcessor, logger *logrus.Logger) *TriggerEvaluator {
	return &TriggerEvaluator{DB: db, Processor: processor, Logger: logger}
}

// RunOnce performs a single evaluation pass. Errors on one client or
// automation are logged and skipped; they never abort the pass.
func (e *TriggerEvaluator) RunOnce(ctx context.Context) error {
	var automations []models.Automation
	err := e.DB.Where("enabled = ?", true).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Where("enabled = ?", true).Order("step_index ASC")
		}).
		Find(&automations).Error
	if err != nil {
		return fmt.Errorf("failed to load enabled automations: %w", err)
	}

	for i := range automations {
		automation := &automations[i]
		if err := e.evaluateAutomation(ctx, automation); err != nil {
			e.Logger.WithError(err).WithField("automation_id", automation.ID).
				Error("automation pass failed")
			sentry.CaptureException(err)
		}
	}
	return nil
}

func (e *TriggerEvaluator) evaluateAutomation(ctx context.Context, automation *models.Automation) error {
	if len(automation.Steps) == 0 {
		return nil
	}

	var business models.Business
	if err := e.DB.First(&business, automation.BusinessID).Error; err != nil {
		return fmt.Errorf("failed to load business %d: %w", automation.BusinessID, err)
	}

	var clients []models.Client
	err := e.DB.Where("business_id = ? AND stage_id = ?", business.ID, automation.TriggerStageID).
		Find(&clients).Error
	if err != nil {
		return fmt.Errorf("failed to load clients in stage %d: %w", automation.TriggerStageID, err)
	}

	for i := range clients {
		client := &clients[i]
		// Steps are preloaded in step_index order; each step is timed
		// independently so two can fire in the same tick.
		for j := range automation.Steps {
			step := &automation.Steps[j]
			outcome, err := e.Processor.ProcessStep(ctx, &business, automation, step, client)
			if errors.Is(err, ErrNotConfigured) {
				return e.disableAutomation(automation, err)
			}
			if err != nil {
				e.Logger.WithError(err).WithFields(logrus.Fields{
					"automation_id": automation.ID,
					"step_id":       step.ID,
					"client_id":     client.ID,
				}).Error("step processing failed")
				sentry.CaptureException(err)
				continue
			}
			if outcome == OutcomeSent || outcome == OutcomeFailed {
				e.Logger.WithFields(logrus.Fields{
					"automation_id": automation.ID,
					"step_id":       step.ID,
					"client_id":     client.ID,
					"outcome":       outcome,
				}).Debug("step processed")
			}
		}
	}
	return nil
}

// disableAutomation halts an automation whose channel is unconfigured so
// it stops burning a tick on every pass. The operator sees it disabled.
func (e *TriggerEvaluator) disableAutomation(automation *models.Automation, cause error) error {
	e.Logger.WithField("automation_id", automation.ID).WithError(cause).
		Warn("disabling automation: channel not configured")
	sentry.CaptureException(fmt.Errorf("automation %d disabled: %w", automation.ID, cause))
	return e.DB.Model(&models.Automation{}).Where("id = ?", automation.ID).
		Update("enabled", false).Error
}
