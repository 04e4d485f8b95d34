// Package queue wraps the asynq client used to enqueue extraction tasks and
// the inspector used to interrupt them.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/paperviz/pdf-extract-service/pkg/types"
)

// TaskTypeExtract is the asynq task type for PDF extraction units of work.
const TaskTypeExtract = "pdf:extract"

// TaskPayload is the body of one extraction unit of work.
type TaskPayload struct {
	DocumentID      string     `json:"document_id"`
	SourceReference string     `json:"source_reference"`
	Mode            types.Mode `json:"mode"`
}

// Options bound the execution of each enqueued task.
type Options struct {
	Queue         string
	MaxRetry      int
	SoftTimeLimit time.Duration
	Retention     time.Duration
}

// Client enqueues extraction tasks.
type Client struct {
	client *asynq.Client
	opts   Options
}

// NewClient creates a queue client from a Redis URI.
func NewClient(redisURI string, opts Options) (*Client, error) {
	connOpt, err := asynq.ParseRedisURI(redisURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis uri: %w", err)
	}
	return &Client{
		client: asynq.NewClient(connOpt),
		opts:   opts,
	}, nil
}

// Enqueue submits one unit of work. The job token becomes the task id, so a
// record's token is enough to address the task later for cancellation. The
// task is acknowledged only after its handler returns, so a worker crash
// mid-pipeline results in redelivery, never silent loss.
func (c *Client) Enqueue(ctx context.Context, payload TaskPayload, token string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeExtract, body)
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.TaskID(token),
		asynq.Queue(c.opts.Queue),
		asynq.MaxRetry(c.opts.MaxRetry),
		asynq.Timeout(c.opts.SoftTimeLimit),
		asynq.Retention(c.opts.Retention),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	return nil
}

// Close closes the underlying asynq client.
func (c *Client) Close() error {
	return c.client.Close()
}

// Inspector interrupts queued or running extraction tasks.
type Inspector struct {
	inspector *asynq.Inspector
	queue     string
}

// NewInspector creates an Inspector from a Redis URI.
func NewInspector(redisURI, queueName string) (*Inspector, error) {
	connOpt, err := asynq.ParseRedisURI(redisURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis uri: %w", err)
	}
	return &Inspector{
		inspector: asynq.NewInspector(connOpt),
		queue:     queueName,
	}, nil
}

// Cancel interrupts the task with the given token. A queued task is deleted
// outright; a running one gets its handler context cancelled. The signal is
// advisory between phase checkpoints, so both calls are best-effort; the
// status record's terminal-state guard is what actually wins the race.
func (i *Inspector) Cancel(token string) {
	if token == "" {
		return
	}

	if err := i.inspector.DeleteTask(i.queue, token); err != nil {
		logrus.WithError(err).WithField("task_id", token).
			Debug("Task not deletable from queue, signalling cancellation instead")
	}
	if err := i.inspector.CancelProcessing(token); err != nil {
		logrus.WithError(err).WithField("task_id", token).
			Debug("No running handler to cancel")
	}
}

// Ping reports whether the queue backend is reachable.
func (i *Inspector) Ping() error {
	if _, err := i.inspector.Queues(); err != nil {
		return fmt.Errorf("queue backend unreachable: %w", err)
	}
	return nil
}
