package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"focalcrm/models"
)

type stepFixture struct {
	db         *gorm.DB
	processor  *StepProcessor
	email      *fakeDispatcher
	sms        *fakeDispatcher
	business   *models.Business
	automation *models.Automation
	step       *models.AutomationStep
	client     *models.Client
	template   *models.Template
}

// newStepFixture seeds a business with one enabled email automation whose
// single step has no delay, plus a consenting client sitting in the
// trigger stage.
func newStepFixture(t *testing.T, now time.Time) *stepFixture {
	t.Helper()
	db := newTestDB(t)

	business := &models.Business{Name: "Lumen Studio", OwnerEmail: "owner@lumen.example",
		FromEmail: "hello@lumen.example", FromName: "Lumen"}
	require.NoError(t, db.Create(business).Error)

	stage := &models.PipelineStage{BusinessID: business.ID, Name: "Inquiry"}
	require.NoError(t, db.Create(stage).Error)

	template := &models.Template{BusinessID: business.ID, Name: "welcome",
		Subject: "Hi {{first_name}}", HTMLContent: "<p>Hi {{first_name}}</p>", TextContent: "Hi {{first_name}}"}
	require.NoError(t, db.Create(template).Error)

	automation := &models.Automation{BusinessID: business.ID, Name: "inquiry follow-up",
		TriggerStageID: stage.ID, Channel: models.ChannelEmail, Enabled: true}
	require.NoError(t, db.Create(automation).Error)

	step := &models.AutomationStep{AutomationID: automation.ID, TemplateID: template.ID,
		StepIndex: 0, DelayMinutes: 0, Enabled: true}
	require.NoError(t, db.Create(step).Error)

	entered := now.Add(-time.Hour)
	client := &models.Client{BusinessID: business.ID, FirstName: "Maya", LastName: "Chen",
		Email: "maya@example.com", Phone: "+15551234567",
		StageID: &stage.ID, StageEnteredAt: &entered,
		EmailOptIn: true, SMSOptIn: true}
	require.NoError(t, db.Create(client).Error)

	email := &fakeDispatcher{}
	sms := &fakeDispatcher{}
	processor := NewStepProcessor(db, NewLedger(db), email, sms, newTestLogger())
	processor.Now = fixedClock(now)

	return &stepFixture{db: db, processor: processor, email: email, sms: sms,
		business: business, automation: automation, step: step, client: client, template: template}
}

func (f *stepFixture) process(t *testing.T) (Outcome, error) {
	t.Helper()
	return f.processor.ProcessStep(context.Background(), f.business, f.automation, f.step, f.client)
}

func TestProcessStepIdempotency(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	f := newStepFixture(t, now)

	outcome, err := f.process(t)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)

	// Re-evaluating the same pair on later ticks never sends again.
	for i := 0; i < 4; i++ {
		outcome, err = f.process(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadySent, outcome)
	}

	assert.Len(t, f.email.Sent, 1)
	var count int64
	f.db.Model(&models.DeliveryLog{}).
		Where("client_id = ? AND step_id = ? AND status = ?",
			f.client.ID, f.step.ID, models.DeliveryStatusSent).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestProcessStepDelayGate(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	f := newStepFixture(t, now)
	f.step.DelayMinutes = 60
	require.NoError(t, f.db.Save(f.step).Error)

	t.Run("Error - before due time nothing sends", func(t *testing.T) {
		// Stage entered one hour ago, so a 60-minute delay is due exactly
		// now; back the clock off by a minute first.
		f.processor.Now = fixedClock(now.Add(-time.Minute))
		outcome, err := f.process(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeTooEarly, outcome)
		assert.Empty(t, f.email.Sent)
	})

	t.Run("Success - sends once due", func(t *testing.T) {
		f.processor.Now = fixedClock(now)
		outcome, err := f.process(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSent, outcome)
		assert.Len(t, f.email.Sent, 1)
	})
}

func TestProcessStepGates(t *testing.T) {
	now := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)

	t.Run("Error - client without stage timestamp", func(t *testing.T) {
		f := newStepFixture(t, now)
		f.client.StageEnteredAt = nil

		outcome, err := f.process(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoStage, outcome)
	})

	t.Run("Error - quiet hours hold the send", func(t *testing.T) {
		f := newStepFixture(t, now)
		f.step.QuietHoursStart = intPtr(22)
		f.step.QuietHoursEnd = intPtr(7)

		outcome, err := f.process(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeQuietHours, outcome)
		assert.Empty(t, f.email.Sent)

		// The window passing is the only state change needed.
		f.processor.Now = fixedClock(time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC))
		outcome, err = f.process(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSent, outcome)
	})

	t.Run("Error - consent withdrawn", func(t *testing.T) {
		f := newStepFixture(t, now)
		f.client.EmailOptIn = false
		require.NoError(t, f.db.Save(f.client).Error)

		outcome, err := f.process(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoConsent, outcome)
		assert.Empty(t, f.email.Sent)

		var count int64
		f.db.Model(&models.DeliveryLog{}).Count(&count)
		assert.Zero(t, count)
	})

	t.Run("Error - template missing", func(t *testing.T) {
		f := newStepFixture(t, now)
		f.step.TemplateID = f.template.ID + 999

		outcome, err := f.process(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoTemplate, outcome)
	})
}

func TestProcessStepDispatch(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	t.Run("Success - rendered message goes to the client address", func(t *testing.T) {
		f := newStepFixture(t, now)
		outcome, err := f.process(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSent, outcome)

		require.Len(t, f.email.Sent, 1)
		msg := f.email.Sent[0]
		assert.Equal(t, "maya@example.com", msg.To)
		assert.Equal(t, "Hi Maya", msg.Subject)
		assert.Equal(t, "<p>Hi Maya</p>", msg.HTMLBody)
	})

	t.Run("Success - sms channel uses the sms dispatcher", func(t *testing.T) {
		f := newStepFixture(t, now)
		f.automation.Channel = models.ChannelSMS

		outcome, err := f.process(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSent, outcome)
		assert.Empty(t, f.email.Sent)
		require.Len(t, f.sms.Sent, 1)
		assert.Equal(t, "+15551234567", f.sms.Sent[0].To)
	})

	t.Run("Error - transient failure is recorded and retried", func(t *testing.T) {
		f := newStepFixture(t, now)
		f.email.Err = errSMTPDown

		outcome, err := f.process(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, outcome)

		failures, err := f.processor.Ledger.FailureCount(f.client.ID, f.step.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, failures)

		// Next tick the provider is back; the send goes through and the
		// failed row stays as history.
		f.email.Err = nil
		outcome, err = f.process(t)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSent, outcome)

		var rows []models.DeliveryLog
		f.db.Where("client_id = ? AND step_id = ?", f.client.ID, f.step.ID).Find(&rows)
		assert.Len(t, rows, 2)
	})

	t.Run("Error - missing credentials surface to the caller", func(t *testing.T) {
		f := newStepFixture(t, now)
		f.email.Err = ErrNotConfigured

		outcome, err := f.process(t)
		require.ErrorIs(t, err, ErrNotConfigured)
		assert.Equal(t, OutcomeFailed, outcome)
	})
}
