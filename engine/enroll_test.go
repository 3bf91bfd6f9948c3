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

type enrollFixture struct {
	db       *gorm.DB
	enroller *Enroller
	business *models.Business
	campaign *models.DripCampaign
	client   *models.Client
	project  *models.Project
	event    EnrollmentEvent
}

func newEnrollFixture(t *testing.T, now time.Time) *enrollFixture {
	t.Helper()
	db := newTestDB(t)

	business := &models.Business{Name: "Lumen Studio", OwnerEmail: "owner@lumen.example"}
	require.NoError(t, db.Create(business).Error)

	campaign := &models.DripCampaign{BusinessID: business.ID, Name: "wedding nurture",
		TargetCategory: "wedding", TargetStageID: 7,
		Status: models.CampaignStatusApproved, Enabled: true,
		Version: 1, IsCurrentVersion: true}
	require.NoError(t, db.Create(campaign).Error)

	client := &models.Client{BusinessID: business.ID, FirstName: "Maya",
		Email: "maya@example.com", EmailOptIn: true}
	require.NoError(t, db.Create(client).Error)

	project := &models.Project{BusinessID: business.ID, ClientID: client.ID,
		Name: "Chen wedding", Category: "wedding"}
	require.NoError(t, db.Create(project).Error)

	enroller := NewEnroller(db, newTestLogger())
	enroller.Now = fixedClock(now)

	return &enrollFixture{db: db, enroller: enroller, business: business,
		campaign: campaign, client: client, project: project,
		event: EnrollmentEvent{
			BusinessID: business.ID,
			ProjectID:  project.ID,
			ClientID:   client.ID,
			StageID:    7,
			Category:   "wedding",
		}}
}

func TestEnroll(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Success - matching stage and category creates a subscription", func(t *testing.T) {
		f := newEnrollFixture(t, now)

		subs, err := f.enroller.Enroll(context.Background(), f.event)
		require.NoError(t, err)
		require.Len(t, subs, 1)

		sub := subs[0]
		assert.Equal(t, f.campaign.ID, sub.CampaignID)
		assert.Equal(t, 0, sub.NextEmailIndex)
		assert.Equal(t, models.SubscriptionActive, sub.Status)
		// Due immediately so the first email fires on the next tick.
		assert.WithinDuration(t, now, sub.NextEmailAt, time.Second)
	})

	t.Run("Error - wrong stage enrolls nothing", func(t *testing.T) {
		f := newEnrollFixture(t, now)
		f.event.StageID = 99

		subs, err := f.enroller.Enroll(context.Background(), f.event)
		require.NoError(t, err)
		assert.Empty(t, subs)
	})

	t.Run("Error - category mismatch enrolls nothing", func(t *testing.T) {
		f := newEnrollFixture(t, now)
		f.event.Category = "portrait"

		subs, err := f.enroller.Enroll(context.Background(), f.event)
		require.NoError(t, err)
		assert.Empty(t, subs)
	})

	t.Run("Success - empty target category matches any project", func(t *testing.T) {
		f := newEnrollFixture(t, now)
		require.NoError(t, f.db.Model(f.campaign).Update("target_category", "").Error)
		f.event.Category = "portrait"

		subs, err := f.enroller.Enroll(context.Background(), f.event)
		require.NoError(t, err)
		assert.Len(t, subs, 1)
	})

	t.Run("Error - draft or disabled campaigns are skipped", func(t *testing.T) {
		f := newEnrollFixture(t, now)
		require.NoError(t, f.db.Model(f.campaign).Update("status", models.CampaignStatusDraft).Error)

		subs, err := f.enroller.Enroll(context.Background(), f.event)
		require.NoError(t, err)
		assert.Empty(t, subs)
	})

	t.Run("Error - no email consent blocks enrollment", func(t *testing.T) {
		f := newEnrollFixture(t, now)
		require.NoError(t, f.db.Model(f.client).Update("email_opt_in", false).Error)

		subs, err := f.enroller.Enroll(context.Background(), f.event)
		require.NoError(t, err)
		assert.Empty(t, subs)
	})

	t.Run("Error - duplicate enrollment for the same project", func(t *testing.T) {
		f := newEnrollFixture(t, now)

		subs, err := f.enroller.Enroll(context.Background(), f.event)
		require.NoError(t, err)
		require.Len(t, subs, 1)

		subs, err = f.enroller.Enroll(context.Background(), f.event)
		require.NoError(t, err)
		assert.Empty(t, subs)

		var count int64
		f.db.Model(&models.DripSubscription{}).Count(&count)
		assert.EqualValues(t, 1, count)
	})

	t.Run("Success - superseded versions never pick up enrollments", func(t *testing.T) {
		f := newEnrollFixture(t, now)
		require.NoError(t, f.db.Model(f.campaign).Update("is_current_version", false).Error)

		subs, err := f.enroller.Enroll(context.Background(), f.event)
		require.NoError(t, err)
		assert.Empty(t, subs)
	})
}

func TestUnsubscribe(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f := newEnrollFixture(t, now)

	subs, err := f.enroller.Enroll(context.Background(), f.event)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	t.Run("Success - active subscription stops", func(t *testing.T) {
		require.NoError(t, f.enroller.Unsubscribe(context.Background(), subs[0].ID))

		var sub models.DripSubscription
		require.NoError(t, f.db.First(&sub, subs[0].ID).Error)
		assert.Equal(t, models.SubscriptionUnsubscribed, sub.Status)
	})

	t.Run("Error - unsubscribing twice fails", func(t *testing.T) {
		err := f.enroller.Unsubscribe(context.Background(), subs[0].ID)
		assert.Error(t, err)
	})
}
