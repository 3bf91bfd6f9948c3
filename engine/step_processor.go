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

// StepProcessor evaluates one automation step against one client. It is
// the unit of work for automations: every decision short-circuits in a
// fixed order so the same (client, step) pair can be re-evaluated on
// every tick without persisted deferral state.
type StepProcessor struct {
	DB     *gorm.DB
	Ledger *Ledger
	Email  Dispatcher
	SMS    Dispatcher
	Logger *logrus.Logger
	Now    func() time.Time
}

func NewStepProcessor(db *gorm.DB, ledger *Ledger, email, sms Dispatcher, logger *logrus.Logger) *StepProcessor {
	return &StepProcessor{
		DB:     db,
		Ledger: ledger,
		Email:  email,
		SMS:    sms,
		Logger: logger,
		Now:    time.Now,
	}
}

// ProcessStep runs the decision chain for (client, step) and dispatches
// when every gate passes. The returned error is non-nil only for
// infrastructure problems (store errors, missing credentials); a failed
// dispatch is recorded in the ledger and reported as OutcomeFailed with a
// nil error so the batch continues.
func (p *StepProcessor) ProcessStep(ctx context.Context, business *models.Business, automation *models.Automation, step *models.AutomationStep, client *models.Client) (Outcome, error) {
	log := p.Logger.WithFields(logrus.Fields{
		"automation_id": automation.ID,
		"step_id":       step.ID,
		"client_id":     client.ID,
	})

	// 1. A client without a stage timestamp cannot be timed.
	if client.StageEnteredAt == nil {
		return OutcomeNoStage, nil
	}

	// 2. Delay gate: measured from stage entry, per step.
	now := p.Now()
	dueAt := client.StageEnteredAt.Add(time.Duration(step.DelayMinutes) * time.Minute)
	if now.Before(dueAt) {
		return OutcomeTooEarly, nil
	}

	// 3. Quiet hours: no state persisted, the pair is simply re-checked
	// next tick until the window passes.
	if InQuietHours(now.Hour(), step.QuietHoursStart, step.QuietHoursEnd) {
		return OutcomeQuietHours, nil
	}

	// 4. Dedup against the ledger.
	sent, err := p.Ledger.FindSent(client.ID, step.ID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("ledger lookup failed: %w", err)
	}
	if sent != nil {
		return OutcomeAlreadySent, nil
	}

	// 5. Prior failures mean this is a retry; flow is identical.
	failures, err := p.Ledger.FailureCount(client.ID, step.ID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("ledger lookup failed: %w", err)
	}
	if failures > 0 {
		log.WithField("prior_failures", failures).Info("retrying previously failed step")
	}

	// 6. Consent gate.
	if !HasConsent(client, automation.Channel) {
		return OutcomeNoConsent, nil
	}

	// 7. Template lookup.
	var tmpl models.Template
	if err := p.DB.First(&tmpl, step.TemplateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return OutcomeNoTemplate, nil
		}
		return OutcomeFailed, fmt.Errorf("template lookup failed: %w", err)
	}

	// 8. Render.
	vars := ClientVars(client, business)
	msg := Message{
		Subject:  Render(tmpl.Subject, vars),
		HTMLBody: Render(tmpl.HTMLContent, vars),
		TextBody: Render(tmpl.TextContent, vars),
	}

	// 9. Dispatch and record.
	dispatcher := p.Email
	msg.To = client.Email
	if automation.Channel == models.ChannelSMS {
		dispatcher = p.SMS
		msg.To = client.Phone
	}

	providerID, err := dispatcher.Send(ctx, business, msg)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			// Fatal config error: surface to the evaluator so the
			// automation gets disabled instead of spin-retrying.
			return OutcomeFailed, err
		}
		log.WithError(err).Warn("dispatch failed, recording for retry")
		if recErr := p.Ledger.RecordFailure(client.ID, step.ID, automation.Channel, err.Error()); recErr != nil {
			return OutcomeFailed, fmt.Errorf("failed to record delivery failure: %w", recErr)
		}
		return OutcomeFailed, nil
	}

	if err := p.Ledger.RecordSent(client.ID, step.ID, automation.Channel, providerID, now); err != nil {
		if errors.Is(err, ErrDuplicateSend) {
			// A concurrent processor won the race; the message went out
			// once either way.
			return OutcomeAlreadySent, nil
		}
		return OutcomeFailed, fmt.Errorf("failed to record delivery: %w", err)
	}

	log.WithField("provider_message_id", providerID).Info("automation step sent")
	return OutcomeSent, nil
}
