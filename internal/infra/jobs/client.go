package jobs

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/tourwise/gatekeeper/internal/events"
	"github.com/tourwise/gatekeeper/pkg/logger"
)

// Client enqueues background jobs. It implements events.Dispatcher so the
// admission pipeline and session manager can publish without knowing
// about queues.
type Client struct {
	client *asynq.Client
	logger *logger.Logger
}

// ClientConfig contains configuration for the job client.
type ClientConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// NewClient creates a new job client.
func NewClient(cfg ClientConfig, log *logger.Logger) (*Client, error) {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	return &Client{
		client: client,
		logger: log.With("component", "job_client"),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Publish enqueues a security event for delivery. Delivery is best
// effort: enqueue failures are logged and swallowed so they never reject
// the request that triggered the event.
func (c *Client) Publish(ctx context.Context, evt events.Event) {
	task, err := NewSecurityEventTask(evt)
	if err != nil {
		c.logger.Error("failed to create security event task",
			"event_type", evt.Type,
			"error", err,
		)
		return
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		c.logger.Error("failed to enqueue security event",
			"event_type", evt.Type,
			"error", err,
		)
		return
	}

	c.logger.Debug("security event queued",
		"task_id", info.ID,
		"event_type", evt.Type,
		"queue", info.Queue,
	)
}
