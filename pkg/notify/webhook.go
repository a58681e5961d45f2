package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// Header names set on every webhook request
const (
	HeaderEvent     = "X-Permitdesk-Event"
	HeaderEventID   = "X-Permitdesk-Event-ID"
	HeaderSignature = "X-Permitdesk-Signature"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryPolicy implements exponential backoff retry logic
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a new retry policy; unset fields take defaults
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	defaults := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaults.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	return &RetryPolicy{config: config}
}

// MaxAttempts is the total number of attempts, the first one included
func (p *RetryPolicy) MaxAttempts() int {
	return p.config.MaxAttempts
}

// NextRetryDelay calculates the delay after the given number of failed
// attempts
func (p *RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return p.config.InitialDelay
	}

	// delay = initialDelay * (multiplier ^ (attempts - 1))
	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempts-1))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}

// statusError is a non-2xx webhook response
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned non-2xx status: %d", e.code)
}

// retryable reports whether a later attempt may succeed: transport errors,
// 429 and 5xx responses
func retryable(err error) bool {
	se, ok := err.(*statusError)
	if !ok {
		return true
	}
	return se.code == http.StatusTooManyRequests || se.code >= 500
}

// WebhookSender posts events as signed JSON to one URL
type WebhookSender struct {
	url    string
	secret string
	client *http.Client
	retry  *RetryPolicy
}

// NewWebhookSender creates a sender. An empty secret sends unsigned requests.
func NewWebhookSender(url, secret string, retry *RetryPolicy) *WebhookSender {
	if retry == nil {
		retry = NewRetryPolicy(DefaultRetryConfig())
	}
	return &WebhookSender{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
	}
}

// Name implements Sink
func (s *WebhookSender) Name() string { return "webhook" }

// Deliver implements Sink, retrying with backoff until the attempts run
// out or ctx is done
func (s *WebhookSender) Deliver(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.retry.MaxAttempts(); attempt++ {
		lastErr = s.send(ctx, evt, payload)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == s.retry.MaxAttempts() {
			break
		}

		timer := time.NewTimer(s.retry.NextRetryDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("webhook delivery abandoned after %d attempts: %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("webhook delivery failed: %w", lastErr)
}

func (s *WebhookSender) send(ctx context.Context, evt Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(evt.Type))
	req.Header.Set(HeaderEventID, evt.ID)
	if s.secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

// Sign returns the HMAC-SHA256 signature header value for payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies a webhook signature on the receiving side
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
