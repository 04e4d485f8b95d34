package worker

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/paperviz/pdf-extract-service/internal/queue"
	"github.com/paperviz/pdf-extract-service/internal/retry"
)

// ServerConfig holds queue server settings.
type ServerConfig struct {
	RedisURI    string
	QueueName   string
	Concurrency int
	Schedule    retry.Schedule
}

// NewServer builds the asynq server that pulls extraction tasks, bounded to
// the configured concurrency, with the retry delay schedule applied between
// attempts.
func NewServer(cfg ServerConfig) (*asynq.Server, error) {
	connOpt, err := asynq.ParseRedisURI(cfg.RedisURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis uri: %w", err)
	}

	server := asynq.NewServer(connOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			cfg.QueueName: 1,
		},
		RetryDelayFunc: func(n int, e error, t *asynq.Task) time.Duration {
			return cfg.Schedule.DelayFor(n)
		},
		Logger: logrus.StandardLogger(),
	})

	return server, nil
}

// NewMux registers the executor on a fresh handler mux.
func NewMux(executor *Executor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskTypeExtract, executor.ProcessTask)
	return mux
}
