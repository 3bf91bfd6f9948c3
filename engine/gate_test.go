package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"focalcrm/models"
)

func TestHasConsent(t *testing.T) {
	t.Run("Success - email opt-in honored", func(t *testing.T) {
		client := &models.Client{EmailOptIn: true, SMSOptIn: false}
		assert.True(t, HasConsent(client, models.ChannelEmail))
		assert.False(t, HasConsent(client, models.ChannelSMS))
	})

	t.Run("Success - sms opt-in honored", func(t *testing.T) {
		client := &models.Client{EmailOptIn: false, SMSOptIn: true}
		assert.False(t, HasConsent(client, models.ChannelEmail))
		assert.True(t, HasConsent(client, models.ChannelSMS))
	})

	t.Run("Error - unknown channel never has consent", func(t *testing.T) {
		client := &models.Client{EmailOptIn: true, SMSOptIn: true}
		assert.False(t, HasConsent(client, "FAX"))
	})
}

func TestInQuietHours(t *testing.T) {
	tests := []struct {
		name       string
		hour       int
		start, end *int
		want       bool
	}{
		// Overnight window 22..7 wraps midnight.
		{"wrap start boundary 22 is quiet", 22, intPtr(22), intPtr(7), true},
		{"wrap 23 is quiet", 23, intPtr(22), intPtr(7), true},
		{"wrap 0 is quiet", 0, intPtr(22), intPtr(7), true},
		{"wrap end boundary 7 is quiet", 7, intPtr(22), intPtr(7), true},
		{"wrap 8 is not quiet", 8, intPtr(22), intPtr(7), false},
		{"wrap 21 is not quiet", 21, intPtr(22), intPtr(7), false},
		{"wrap midday is not quiet", 12, intPtr(22), intPtr(7), false},

		// Same-day window 9..17.
		{"same-day start boundary", 9, intPtr(9), intPtr(17), true},
		{"same-day end boundary", 17, intPtr(9), intPtr(17), true},
		{"same-day inside", 12, intPtr(9), intPtr(17), true},
		{"same-day before", 8, intPtr(9), intPtr(17), false},
		{"same-day after", 18, intPtr(9), intPtr(17), false},

		// Equal bounds cover exactly that hour.
		{"equal bounds match", 13, intPtr(13), intPtr(13), true},
		{"equal bounds miss", 14, intPtr(13), intPtr(13), false},

		// Missing bounds disable the window.
		{"nil start", 23, nil, intPtr(7), false},
		{"nil end", 23, intPtr(22), nil, false},
		{"both nil", 23, nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InQuietHours(tt.hour, tt.start, tt.end))
		})
	}
}
