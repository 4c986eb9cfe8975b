package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// ErrNoCredential means the fallback path cannot run: the direct-message
// endpoint requires an externally-supplied authorization credential.
var ErrNoCredential = errors.New("no fallback credential configured")

// FallbackSender delivers a notification over the platform's direct messaging
// HTTP endpoint when the realtime relay is down. The credential is supplied
// by the operator; this code never acquires or refreshes it.
type FallbackSender struct {
	endpoint string
	client   *http.Client
}

// NewFallbackSender returns nil when no credential is configured, which
// disables the fallback path entirely.
func NewFallbackSender(ctx context.Context, endpoint, token string) *FallbackSender {
	if endpoint == "" || token == "" {
		return nil
	}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	client.Timeout = 10 * time.Second
	return &FallbackSender{endpoint: endpoint, client: client}
}

// Send posts one direct message. Failures are reported to the caller, not retried.
func (f *FallbackSender) Send(ctx context.Context, recipientID, text string) error {
	body, err := json.Marshal(map[string]string{
		"recipient_id": recipientID,
		"text":         text,
	})
	if err != nil {
		return fmt.Errorf("marshal direct message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build direct message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("direct message send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("direct message send: unexpected status %d", resp.StatusCode)
	}
	return nil
}
