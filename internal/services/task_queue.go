package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/huangang/feedbackloop/internal/config"
	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/pkg/logger"
)

const (
	TaskTypeFeedbackEvent = "feedback:event"
)

// EnvelopeProcessor handles one inbound gateway event.
type EnvelopeProcessor func(ctx context.Context, env *feedback.Envelope) error

// TaskQueue hands inbound gateway events to the orchestrator
type TaskQueue interface {
	// Enqueue adds an event to the queue
	Enqueue(ctx context.Context, env *feedback.Envelope) error
	// IsAsync returns true if queue processes events asynchronously
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

// Global task queue instance
var (
	globalTaskQueue TaskQueue
	taskQueueOnce   sync.Once
)

// InitTaskQueue initializes the global task queue based on config
func InitTaskQueue(cfg *config.Config) TaskQueue {
	taskQueueOnce.Do(func() {
		if cfg.Redis.Enabled {
			queue, err := NewAsyncQueue(&cfg.Redis)
			if err != nil {
				logger.Warnf("[TaskQueue] Redis unavailable, falling back to sync mode: %v", err)
				globalTaskQueue = NewSyncQueue()
			} else {
				logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
				globalTaskQueue = queue
			}
		} else {
			logger.Infof("[TaskQueue] Sync queue initialized (Redis disabled)")
			globalTaskQueue = NewSyncQueue()
		}
	})
	return globalTaskQueue
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

// NewAsyncQueue creates a new Redis-based async queue
func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

// Enqueue adds an event to the async queue. The event id doubles as the
// task id, so a redelivered webhook is rejected by Redis.
func (q *AsyncQueue) Enqueue(ctx context.Context, env *feedback.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	t := asynq.NewTask(TaskTypeFeedbackEvent, payload)
	info, err := q.client.EnqueueContext(ctx, t,
		asynq.Queue("default"),
		asynq.MaxRetry(5),
		asynq.TaskID(env.EventID),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		logger.Debug().Str("event_id", env.EventID).Msg("[AsyncQueue] duplicate event dropped")
		return nil
	}
	if err != nil {
		return err
	}

	logger.Debug().Str("task_id", info.ID).Str("queue", info.Queue).Str("kind", string(env.Kind)).Msg("[AsyncQueue] Task enqueued")
	return nil
}

// IsAsync returns true for async queue
func (q *AsyncQueue) IsAsync() bool {
	return true
}

// Close closes the async queue client
func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue implements TaskQueue without Redis. Events are processed in the
// caller's goroutine so the webhook answers only after the event is stored.
type SyncQueue struct {
	processor EnvelopeProcessor
}

// NewSyncQueue creates a new synchronous queue
func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

// SetProcessor sets the function to process events synchronously
func (q *SyncQueue) SetProcessor(processor EnvelopeProcessor) {
	q.processor = processor
}

func (q *SyncQueue) Enqueue(ctx context.Context, env *feedback.Envelope) error {
	if q.processor == nil {
		logger.Warnf("[SyncQueue] no processor set, event %s dropped", env.EventID)
		return nil
	}
	return q.processor(ctx, env)
}

// IsAsync returns false for sync queue
func (q *SyncQueue) IsAsync() bool {
	return false
}

// Close is a no-op for sync queue
func (q *SyncQueue) Close() error {
	return nil
}

// ProcessEnvelope ingests a queued gateway event. Duplicates, events that
// no longer apply, events whose effect was deferred and events for unknown
// visits are acknowledged so the queue does not retry them.
func (o *Orchestrator) ProcessEnvelope(ctx context.Context, env *feedback.Envelope) error {
	ev, err := env.Event()
	if err != nil {
		logger.Warn().Err(err).Str("event_id", env.EventID).Msg("invalid event skipped")
		return nil
	}

	err = o.Ingest(ctx, ev)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, feedback.ErrDuplicateEvent):
		logger.Debug().Str("event_id", env.EventID).Msg("duplicate event")
		return nil
	case errors.Is(err, feedback.ErrIgnored):
		return nil
	case errors.Is(err, feedback.ErrDeferred):
		// Applied; the sweeper resumes the parked effect.
		logger.Warn().Err(err).Str("event_id", env.EventID).Msg("event applied, effect deferred")
		return nil
	case errors.Is(err, feedback.ErrUnknownVisit):
		logger.Warn().Err(err).Str("event_id", env.EventID).Str("kind", string(env.Kind)).Msg("event for unknown visit")
		return nil
	}
	return err
}
