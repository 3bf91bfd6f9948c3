package engine

import (
	"context"
	"errors"

	"focalcrm/models"
)

// ErrNotConfigured is returned by a dispatcher when the business is
// missing the credentials the channel needs. Callers treat this as a
// fatal configuration error: the owning automation or campaign is
// disabled instead of retrying every tick.
var ErrNotConfigured = errors.New("channel credentials not configured")

// Message is a fully rendered message ready for transport.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// Dispatcher is the narrow transport interface for one channel. Send
// must resolve to a definite success or failure within the call; the
// engine never retries inside a single dispatch, retry happens on the
// next scheduler tick.
type Dispatcher interface {
	Send(ctx context.Context, business *models.Business, msg Message) (providerMessageID string, err error)
}
