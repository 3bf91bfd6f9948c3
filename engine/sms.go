package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"focalcrm/models"
)

// SMSDispatcher posts messages to the business's SMS gateway over HTTP.
// The gateway contract is a JSON POST returning {"message_id": "..."}.
type SMSDispatcher struct {
	Client  *fasthttp.Client
	Decrypt func(ciphertext string) (string, error)
	Timeout time.Duration
}

func NewSMSDispatcher(decrypt func(string) (string, error)) *SMSDispatcher {
	return &SMSDispatcher{
		Client:  &fasthttp.Client{},
		Decrypt: decrypt,
		Timeout: 15 * time.Second,
	}
}

type smsRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

type smsResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

func (d *SMSDispatcher) Send(ctx context.Context, business *models.Business, msg Message) (string, error) {
	if business.SMSGatewayURL == "" || business.SMSFromNumber == "" {
		return "", ErrNotConfigured
	}
	if msg.To == "" {
		return "", fmt.Errorf("client has no phone number")
	}

	apiKey := business.SMSAPIKey
	if d.Decrypt != nil {
		decrypted, err := d.Decrypt(business.SMSAPIKey)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt SMS API key: %w", err)
		}
		apiKey = decrypted
	}

	payload, err := json.Marshal(smsRequest{
		From: business.SMSFromNumber,
		To:   msg.To,
		Body: msg.TextBody,
	})
	if err != nil {
		return "", err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(business.SMSGatewayURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.SetBody(payload)

	// DoTimeout guarantees a definite result within the tick budget.
	if err := d.Client.DoTimeout(req, resp, d.Timeout); err != nil {
		return "", fmt.Errorf("sms gateway request failed: %w", err)
	}

	if resp.StatusCode() != fasthttp.StatusOK && resp.StatusCode() != fasthttp.StatusCreated {
		return "", fmt.Errorf("sms gateway returned status %d: %s", resp.StatusCode(), resp.Body())
	}

	var result smsResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", fmt.Errorf("sms gateway returned malformed response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("sms gateway error: %s", result.Error)
	}

	return result.MessageID, nil
}
