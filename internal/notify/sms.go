package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SMSGateway posts messages to a JSON SMS API with a bearer key.
type SMSGateway struct {
	URL    string
	APIKey string
	Sender string
	HTTP   *http.Client
}

// NewSMSGateway builds a gateway client.
func NewSMSGateway(url, apiKey, sender string) *SMSGateway {
	return &SMSGateway{
		URL:    url,
		APIKey: apiKey,
		Sender: sender,
		HTTP:   &http.Client{Timeout: 30 * time.Second},
	}
}

type smsRequest struct {
	Recipient  string `json:"recipient"`
	SenderName string `json:"sender_name"`
	Message    string `json:"message"`
}

func (g *SMSGateway) Name() string { return "sms" }

func (g *SMSGateway) Deliver(ctx context.Context, to, _, body string) error {
	payload, err := json.Marshal(smsRequest{Recipient: to, SenderName: g.Sender, Message: body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sms gateway error %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
