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

type dripFixture struct {
	db        *gorm.DB
	scheduler *DripScheduler
	email     *fakeDispatcher
	business  *models.Business
	campaign  *models.DripCampaign
	emails    []*models.DripCampaignEmail
	client    *models.Client
	sub       *models.DripSubscription
}

// newDripFixture seeds an approved, enabled campaign with three approved
// emails offset 0, 3 and 7 days from start, and one active subscription
// due immediately.
func newDripFixture(t *testing.T, start time.Time) *dripFixture {
	t.Helper()
	db := newTestDB(t)

	business := &models.Business{Name: "Lumen Studio", OwnerEmail: "owner@lumen.example",
		FromEmail: "hello@lumen.example", FromName: "Lumen"}
	require.NoError(t, db.Create(business).Error)

	campaign := &models.DripCampaign{BusinessID: business.ID, Name: "wedding nurture",
		TargetCategory: "wedding", TargetStageID: 1,
		Status: models.CampaignStatusApproved, Enabled: true,
		Version: 1, IsCurrentVersion: true, MaxDurationMonths: 36}
	require.NoError(t, db.Create(campaign).Error)

	var emails []*models.DripCampaignEmail
	for i, days := range []int{0, 3, 7} {
		email := &models.DripCampaignEmail{CampaignID: campaign.ID,
			SequenceIndex: i, DaysAfterStart: days,
			Subject: "Step " + string(rune('A'+i)), HTMLContent: "<p>hi {{first_name}}</p>",
			TextContent: "hi {{first_name}}", ApprovalStatus: models.ApprovalApproved}
		require.NoError(t, db.Create(email).Error)
		emails = append(emails, email)
	}

	client := &models.Client{BusinessID: business.ID, FirstName: "Maya",
		Email: "maya@example.com", EmailOptIn: true}
	require.NoError(t, db.Create(client).Error)

	project := &models.Project{BusinessID: business.ID, ClientID: client.ID,
		Name: "Chen wedding", Category: "wedding"}
	require.NoError(t, db.Create(project).Error)

	sub := &models.DripSubscription{CampaignID: campaign.ID, ProjectID: project.ID,
		ClientID: client.ID, StartedAt: start, NextEmailIndex: 0,
		NextEmailAt: start, Status: models.SubscriptionActive}
	require.NoError(t, db.Create(sub).Error)

	email := &fakeDispatcher{}
	scheduler := NewDripScheduler(db, NewLedger(db), email, newTestLogger())
	scheduler.Now = fixedClock(start)

	return &dripFixture{db: db, scheduler: scheduler, email: email,
		business: business, campaign: campaign, emails: emails, client: client, sub: sub}
}

func (f *dripFixture) reloadSub(t *testing.T) *models.DripSubscription {
	t.Helper()
	var sub models.DripSubscription
	require.NoError(t, f.db.First(&sub, f.sub.ID).Error)
	return &sub
}

func TestDripSchedulerSequence(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f := newDripFixture(t, start)

	// Tick 1: the day-0 email is due at enrollment time.
	require.NoError(t, f.scheduler.RunOnce(context.Background()))
	require.Len(t, f.email.Sent, 1)
	assert.Equal(t, "Step A", f.email.Sent[0].Subject)

	sub := f.reloadSub(t)
	assert.Equal(t, 1, sub.NextEmailIndex)
	assert.WithinDuration(t, start.AddDate(0, 0, 3), sub.NextEmailAt, time.Second)

	// A tick before day 3 finds nothing due.
	f.scheduler.Now = fixedClock(start.AddDate(0, 0, 1))
	require.NoError(t, f.scheduler.RunOnce(context.Background()))
	assert.Len(t, f.email.Sent, 1)

	// Tick at day 3 and day 7 deliver the rest, anchored to StartedAt.
	f.scheduler.Now = fixedClock(start.AddDate(0, 0, 3))
	require.NoError(t, f.scheduler.RunOnce(context.Background()))
	f.scheduler.Now = fixedClock(start.AddDate(0, 0, 7))
	require.NoError(t, f.scheduler.RunOnce(context.Background()))

	require.Len(t, f.email.Sent, 3)
	assert.Equal(t, "Step B", f.email.Sent[1].Subject)
	assert.Equal(t, "Step C", f.email.Sent[2].Subject)

	sub = f.reloadSub(t)
	assert.Equal(t, models.SubscriptionCompleted, sub.Status)

	// Further ticks are no-ops on a completed subscription.
	require.NoError(t, f.scheduler.RunOnce(context.Background()))
	assert.Len(t, f.email.Sent, 3)
}

func TestDripSchedulerApprovalGate(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f := newDripFixture(t, start)

	require.NoError(t, f.db.Model(f.emails[0]).
		Update("approval_status", models.ApprovalPending).Error)

	t.Run("Error - pending email is held without advancing", func(t *testing.T) {
		require.NoError(t, f.scheduler.RunOnce(context.Background()))
		assert.Empty(t, f.email.Sent)

		sub := f.reloadSub(t)
		assert.Equal(t, 0, sub.NextEmailIndex)
		assert.Equal(t, models.SubscriptionActive, sub.Status)
	})

	t.Run("Success - approval releases the held email", func(t *testing.T) {
		require.NoError(t, f.db.Model(f.emails[0]).
			Update("approval_status", models.ApprovalApproved).Error)

		require.NoError(t, f.scheduler.RunOnce(context.Background()))
		require.Len(t, f.email.Sent, 1)
		assert.Equal(t, 1, f.reloadSub(t).NextEmailIndex)
	})
}

func TestDripSchedulerConsentWithdrawal(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f := newDripFixture(t, start)

	require.NoError(t, f.db.Model(f.client).Update("email_opt_in", false).Error)

	require.NoError(t, f.scheduler.RunOnce(context.Background()))
	assert.Empty(t, f.email.Sent)
	assert.Equal(t, models.SubscriptionUnsubscribed, f.reloadSub(t).Status)
}

func TestDripSchedulerDedup(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f := newDripFixture(t, start)

	// A sent entry with an unadvanced pointer means the last pass crashed
	// after dispatch. The scheduler must repair the pointer, not resend.
	require.NoError(t, f.scheduler.Ledger.RecordDripSent(f.sub.ID, f.emails[0].ID, "msg-prior", start))

	require.NoError(t, f.scheduler.RunOnce(context.Background()))
	assert.Empty(t, f.email.Sent)
	assert.Equal(t, 1, f.reloadSub(t).NextEmailIndex)
}

func TestDripSchedulerDispatchFailure(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Error - transient failure recorded, pointer holds", func(t *testing.T) {
		f := newDripFixture(t, start)
		f.email.Err = errSMTPDown

		require.NoError(t, f.scheduler.RunOnce(context.Background()))
		sub := f.reloadSub(t)
		assert.Equal(t, 0, sub.NextEmailIndex)

		var entry models.DripDelivery
		require.NoError(t, f.db.Where("subscription_id = ? AND status = ?",
			f.sub.ID, models.DeliveryStatusFailed).First(&entry).Error)
		assert.Equal(t, 1, entry.Attempts)

		// Provider recovers, the same email goes out on the next tick.
		f.email.Err = nil
		require.NoError(t, f.scheduler.RunOnce(context.Background()))
		require.Len(t, f.email.Sent, 1)
		assert.Equal(t, 1, f.reloadSub(t).NextEmailIndex)
	})

	t.Run("Error - missing credentials disable the campaign", func(t *testing.T) {
		f := newDripFixture(t, start)
		f.email.Err = ErrNotConfigured

		require.NoError(t, f.scheduler.RunOnce(context.Background()))

		var campaign models.DripCampaign
		require.NoError(t, f.db.First(&campaign, f.campaign.ID).Error)
		assert.False(t, campaign.Enabled)

		// The disabled campaign stays silent on later ticks, even with
		// the provider back, until an operator re-enables it.
		f.email.Err = nil
		require.NoError(t, f.scheduler.RunOnce(context.Background()))
		assert.Empty(t, f.email.Sent)
	})
}

func TestDripSchedulerPausedCampaign(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f := newDripFixture(t, start)

	t.Run("Error - paused campaign delivers nothing", func(t *testing.T) {
		require.NoError(t, f.db.Model(f.campaign).Update("enabled", false).Error)

		require.NoError(t, f.scheduler.RunOnce(context.Background()))
		assert.Empty(t, f.email.Sent)

		sub := f.reloadSub(t)
		assert.Equal(t, 0, sub.NextEmailIndex)
		assert.Equal(t, models.SubscriptionActive, sub.Status)
	})

	t.Run("Error - demoting to draft delivers nothing", func(t *testing.T) {
		require.NoError(t, f.db.Model(f.campaign).Updates(map[string]interface{}{
			"enabled": true,
			"status":  models.CampaignStatusDraft,
		}).Error)

		require.NoError(t, f.scheduler.RunOnce(context.Background()))
		assert.Empty(t, f.email.Sent)
		assert.Equal(t, 0, f.reloadSub(t).NextEmailIndex)
	})

	t.Run("Success - re-enabling resumes where it left off", func(t *testing.T) {
		require.NoError(t, f.db.Model(f.campaign).Updates(map[string]interface{}{
			"enabled": true,
			"status":  models.CampaignStatusApproved,
		}).Error)

		require.NoError(t, f.scheduler.RunOnce(context.Background()))
		require.Len(t, f.email.Sent, 1)
		assert.Equal(t, "Step A", f.email.Sent[0].Subject)
		assert.Equal(t, 1, f.reloadSub(t).NextEmailIndex)
	})
}

func TestDripSchedulerExpireStale(t *testing.T) {
	start := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)
	f := newDripFixture(t, start)

	t.Run("Success - inside the window nothing changes", func(t *testing.T) {
		f.scheduler.Now = fixedClock(start.AddDate(2, 0, 0))
		require.NoError(t, f.scheduler.ExpireStale(context.Background()))
		assert.Equal(t, models.SubscriptionActive, f.reloadSub(t).Status)
	})

	t.Run("Success - past max duration the subscription completes", func(t *testing.T) {
		f.scheduler.Now = fixedClock(start.AddDate(3, 1, 0))
		require.NoError(t, f.scheduler.ExpireStale(context.Background()))
		assert.Equal(t, models.SubscriptionCompleted, f.reloadSub(t).Status)
	})
}
