package engine

import "focalcrm/models"

// HasConsent reports whether the client has opted in to the given channel.
func HasConsent(client *models.Client, channel string) bool {
	switch channel {
	case models.ChannelEmail:
		return client.EmailOptIn
	case models.ChannelSMS:
		return client.SMSOptIn
	default:
		return false
	}
}

// InQuietHours reports whether the given hour (0-23) falls inside the
// quiet-hours window. Both bounds are inclusive. A window with
// start > end wraps midnight, so start=22 end=7 covers 22:00 through
// 07:59. Equal bounds cover that single hour. A window missing either
// bound never matches.
func InQuietHours(hour int, start, end *int) bool {
	if start == nil || end == nil {
		return false
	}
	s, e := *start, *end
	if s <= e {
		return hour >= s && hour <= e
	}
	// wraps midnight
	return hour >= s || hour <= e
}
