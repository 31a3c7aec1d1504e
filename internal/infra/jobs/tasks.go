// Package jobs moves security-event delivery off the request path. The
// admission and session components publish events; a background worker
// delivers them to the configured SIEM webhook with retries.
package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/tourwise/gatekeeper/internal/events"
)

// Task type names.
const (
	TypeSecurityEvent = "security:event"
)

// Queue names with their worker priorities.
const (
	QueueSecurity = "security"
	QueueDefault  = "default"
)

const securityEventMaxRetry = 5

// NewSecurityEventTask wraps a security event as an asynq task.
func NewSecurityEventTask(evt events.Event) (*asynq.Task, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal security event: %w", err)
	}
	return asynq.NewTask(TypeSecurityEvent, payload,
		asynq.Queue(QueueSecurity),
		asynq.MaxRetry(securityEventMaxRetry),
	), nil
}
