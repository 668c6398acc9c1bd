package hooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"stakefarm/crypto"
	"stakefarm/native/farm"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Farm-Signature"

// Webhook delivers reward notifications to an HTTP endpoint.
type Webhook struct {
	url    string
	secret string
	client *http.Client
	nowFn  func() time.Time
}

// NewWebhook constructs a webhook hook. An empty secret disables signing.
func NewWebhook(url, secret string, timeout time.Duration) (*Webhook, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("hooks: webhook url required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
		nowFn:  time.Now,
	}, nil
}

type rewardPayload struct {
	PoolID      uint64 `json:"poolId"`
	Participant string `json:"participant"`
	Recipient   string `json:"recipient"`
	Harvested   string `json:"harvested"`
	NewAmount   string `json:"newAmount"`
	Timestamp   string `json:"timestamp"`
}

// OnReward implements farm.RewardHook.
func (w *Webhook) OnReward(ctx context.Context, evt farm.RewardEvent) error {
	body := rewardPayload{
		PoolID:      evt.PoolID,
		Participant: crypto.FormatParticipant(evt.Participant),
		Recipient:   crypto.FormatParticipant(evt.Recipient),
		Harvested:   "0",
		NewAmount:   "0",
		Timestamp:   w.nowFn().UTC().Format(time.RFC3339Nano),
	}
	if evt.Harvested != nil {
		body.Harvested = evt.Harvested.Dec()
	}
	if evt.NewAmount != nil {
		body.NewAmount = evt.NewAmount.Dec()
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set(SignatureHeader, Sign(w.secret, payload))
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("hooks: webhook returned %s", resp.Status)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
