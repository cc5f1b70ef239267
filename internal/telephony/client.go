// Package telephony talks to the telephony provider: dialing outbound
// calls through its REST API and generating the TwiML documents its
// webhooks expect.
package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ai-call-bridge/internal/config"
)

// Client drives the provider's REST API with account-credential basic auth.
type Client struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	http       *http.Client
}

// NewClient creates a provider client from configuration.
func NewClient(cfg config.TelephonyConfig) *Client {
	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.PhoneNumber,
		baseURL:    "https://api.twilio.com",
		http:       &http.Client{Timeout: 15 * time.Second},
	}
}

// Configured reports whether provider credentials are present. Endpoints
// that dial refuse to run without them.
func (c *Client) Configured() bool {
	return c.accountSID != "" && c.authToken != ""
}

// DefaultFrom returns the provider phone number calls are placed from.
func (c *Client) DefaultFrom() string { return c.from }

// CreateCallParams are the parameters of one outbound dial.
type CreateCallParams struct {
	From              string
	To                string
	TwiML             string
	RecordingCallback string
}

// CreateCall places an outbound call whose behavior is driven by inline
// TwiML, with dual-channel recording enabled. Returns the provider's call
// leg identifier.
func (c *Client) CreateCall(ctx context.Context, p CreateCallParams) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("telephony provider not configured")
	}

	form := url.Values{}
	form.Set("From", p.From)
	form.Set("To", p.To)
	form.Set("Twiml", p.TwiML)
	form.Set("Record", "true")
	if p.RecordingCallback != "" {
		form.Set("RecordingStatusCallback", p.RecordingCallback)
		form.Set("RecordingStatusCallbackMethod", "POST")
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.baseURL, url.PathEscape(c.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider dial request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("provider dial returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var created struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode provider dial response: %w", err)
	}
	if created.SID == "" {
		return "", fmt.Errorf("provider dial response missing call sid")
	}
	return created.SID, nil
}

// ValidatePhoneNumber checks that a dial target is an E.164 phone number
// and not a provider client identifier.
func ValidatePhoneNumber(to string) error {
	if strings.HasPrefix(to, "client:") {
		return fmt.Errorf("invalid phone number: %q appears to be a client identifier, not a phone number; phone numbers must be in E.164 format (e.g., +1234567890)", to)
	}
	if !strings.HasPrefix(to, "+") {
		return fmt.Errorf("invalid phone number format: %q; phone numbers must be in E.164 format starting with '+' (e.g., +1234567890)", to)
	}
	return nil
}
