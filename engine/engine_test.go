package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"focalcrm/models"
)

// newTestDB opens a per-test in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.Business{},
		&models.User{},
		&models.PipelineStage{},
		&models.Client{},
		&models.Project{},
		&models.Template{},
		&models.Automation{},
		&models.AutomationStep{},
		&models.DeliveryLog{},
		&models.DripCampaign{},
		&models.DripCampaignEmail{},
		&models.DripSubscription{},
		&models.DripDelivery{},
		&models.CampaignVersionLog{},
	)
	require.NoError(t, err)
	return db
}

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeDispatcher records every message it is asked to send and can be
// programmed to fail.
type fakeDispatcher struct {
	Sent   []Message
	Err    error
	nextID int
}

func (f *fakeDispatcher) Send(ctx context.Context, business *models.Business, msg Message) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	f.Sent = append(f.Sent, msg)
	f.nextID++
	return fmt.Sprintf("msg-%d", f.nextID), nil
}

var errSMTPDown = errors.New("smtp: connection refused")

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func intPtr(v int) *int { return &v }

func timePtr(v time.Time) *time.Time { return &v }
