package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tourwise/gatekeeper/internal/events"
	"github.com/tourwise/gatekeeper/pkg/logger"
)

// SecurityEventHandler delivers queued security events to the SIEM
// webhook. A non-2xx response returns an error so asynq retries with
// backoff.
type SecurityEventHandler struct {
	webhookURL string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewSecurityEventHandler creates a handler. An empty webhookURL disables
// delivery; events are logged only.
func NewSecurityEventHandler(webhookURL string, timeout time.Duration, log *logger.Logger) *SecurityEventHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SecurityEventHandler{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.With("component", "security_events"),
	}
}

// HandleSecurityEvent processes one queued event.
func (h *SecurityEventHandler) HandleSecurityEvent(ctx context.Context, task *asynq.Task) error {
	var evt events.Event
	if err := json.Unmarshal(task.Payload(), &evt); err != nil {
		// Malformed payloads never succeed; do not retry.
		return fmt.Errorf("unmarshal security event: %v: %w", err, asynq.SkipRetry)
	}

	h.logger.Info("security event",
		"event_type", evt.Type,
		"ip", evt.IP,
		"endpoint", evt.Endpoint,
		"user_id", evt.UserID,
	)

	if h.webhookURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.webhookURL,
		bytes.NewReader(task.Payload()))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver security event: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("deliver security event: webhook returned %d", resp.StatusCode)
	}

	h.logger.Debug("security event delivered", "event_type", evt.Type)
	return nil
}
