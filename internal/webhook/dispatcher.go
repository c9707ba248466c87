package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fraudshield/scoring-engine/internal/models"
)

// Event is the body delivered to a tenant's webhook endpoint.
type Event struct {
	Event         string        `json:"event"`
	TransactionID string        `json:"transaction_id"`
	RiskScore     int           `json:"risk_score"`
	RiskLevel     string        `json:"risk_level"`
	Decision      string        `json:"decision"`
	Flags         []models.Flag `json:"flags"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Dispatcher delivers decision webhooks with bounded retries. Failures are
// logged and dropped; a webhook never affects the original response.
type Dispatcher struct {
	client      *http.Client
	maxAttempts int
	baseBackoff time.Duration
}

func NewDispatcher(timeout time.Duration, maxAttempts int, baseBackoff time.Duration) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if baseBackoff <= 0 {
		baseBackoff = 2 * time.Second
	}
	return &Dispatcher{
		client:      &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
	}
}

// ShouldNotify reports whether a transaction warrants a webhook.
func ShouldNotify(tx *models.Transaction) bool {
	return tx.Decision == models.DecisionDecline || tx.RiskLevel == models.RiskLevelCritical
}

// Dispatch signs and posts the event, retrying with exponential backoff.
func (d *Dispatcher) Dispatch(ctx context.Context, url, secret string, tx *models.Transaction) error {
	if url == "" {
		return nil
	}

	body, err := json.Marshal(Event{
		Event:         "transaction.flagged",
		TransactionID: tx.ExternalID,
		RiskScore:     tx.Score,
		RiskLevel:     tx.RiskLevel,
		Decision:      tx.Decision,
		Flags:         tx.Flags,
		Timestamp:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook event: %w", err)
	}

	signature := Sign(secret, body)

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if err := d.post(ctx, url, signature, body); err == nil {
			log.Info().
				Str("transaction_id", tx.ExternalID).
				Int("attempt", attempt).
				Msg("Webhook delivered")
			return nil
		} else {
			lastErr = err
			log.Warn().
				Err(err).
				Str("transaction_id", tx.ExternalID).
				Int("attempt", attempt).
				Msg("Webhook delivery failed")
		}

		if attempt == d.maxAttempts {
			break
		}
		backoff := d.baseBackoff * (1 << (attempt - 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("webhook delivery exhausted after %d attempts: %w", d.maxAttempts, lastErr)
}

func (d *Dispatcher) post(ctx context.Context, url, signature string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", signature)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of the body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
