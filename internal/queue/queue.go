package queue

import (
	"context"
	"log"

	"github.com/hibiken/asynq"

	"github.com/sokoni/payments/internal/worker"
)

// Queue wraps the asynq client and handler mux.
type Queue struct {
	Client *asynq.Client
	Mux    *asynq.ServeMux
}

// NewQueue creates a new queue client and handler mux.
func NewQueue(redisURL string) (*Queue, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, err
	}

	client := asynq.NewClient(redisOpt)
	mux := asynq.NewServeMux()

	log.Println("Queue client and handler mux initialized")

	return &Queue{
		Client: client,
		Mux:    mux,
	}, nil
}

// ServerConfig returns the connection options and server configuration for
// a worker process.
func ServerConfig(redisURL string, concurrency int) (asynq.RedisConnOpt, asynq.Config, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, asynq.Config{}, err
	}

	return redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
			"low":      1,
		},
	}, nil
}

// EnqueueCallback queues a raw gateway callback payload for reconciliation.
// Callbacks ride the critical queue: an unprocessed one leaves a paid
// customer staring at a pending order.
func (q *Queue) EnqueueCallback(ctx context.Context, payload []byte) error {
	task := worker.NewProcessCallbackTask(payload)

	info, err := q.Client.EnqueueContext(ctx, task, asynq.Queue("critical"), asynq.MaxRetry(5))
	if err != nil {
		return err
	}

	log.Printf("Callback queued: task_id=%s", info.ID)
	return nil
}

// Close gracefully closes the queue client.
func (q *Queue) Close() error {
	if q.Client != nil {
		log.Println("Closing queue client...")
		return q.Client.Close()
	}
	return nil
}
