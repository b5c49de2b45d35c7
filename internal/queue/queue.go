// Package queue provides the Redis-backed task queues that decouple
// discovery, crawling, and enrichment work.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Queue names. Workers subscribe to one queue; the scheduler routes by
// task kind.
const (
	QueueDefault    = "default"
	QueueDiscovery  = "discovery"
	QueueCrawl      = "crawl"
	QueueSearch     = "search"
	QueueEnrichment = "enrichment"
)

// Task kinds routed through the queues.
const (
	KindDiscoveryRun    = "discovery_run"
	KindCrawlURL        = "crawl_url"
	KindEnrichProduct   = "enrich_product"
	KindVerifyProduct   = "verify_product"
	KindCompetitionScan = "competition_scan"
)

// Task is the JSON envelope pushed onto a queue.
type Task struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempts"`
}

// NewTask wraps a payload in a task envelope.
func NewTask(kind string, payload any) (*Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "queue: marshal payload")
	}
	return &Task{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Broker enqueues and dequeues tasks on Redis lists.
type Broker struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

// NewBroker connects to Redis and verifies the connection.
func NewBroker(ctx context.Context, addr, password string, db int) (*Broker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, eris.Wrap(err, "queue: ping redis")
	}
	return &Broker{
		rdb:    rdb,
		prefix: "spirits:queue:",
		logger: zap.L().With(zap.String("component", "queue")),
	}, nil
}

// NewBrokerWithClient wraps an existing Redis client, used in tests.
func NewBrokerWithClient(rdb *redis.Client) *Broker {
	return &Broker{
		rdb:    rdb,
		prefix: "spirits:queue:",
		logger: zap.L().With(zap.String("component", "queue")),
	}
}

func (b *Broker) key(queue string) string {
	return b.prefix + queue
}

// Enqueue pushes a task onto the named queue.
func (b *Broker) Enqueue(ctx context.Context, queue string, task *Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return eris.Wrap(err, "queue: marshal task")
	}
	if err := b.rdb.RPush(ctx, b.key(queue), raw).Err(); err != nil {
		return eris.Wrapf(err, "queue: enqueue to %s", queue)
	}
	b.logger.Debug("task enqueued",
		zap.String("queue", queue),
		zap.String("kind", task.Kind),
		zap.String("task_id", task.ID))
	return nil
}

// Dequeue blocks up to timeout waiting for a task on the named queue.
// Returns nil with no error when the timeout elapses with nothing to do.
func (b *Broker) Dequeue(ctx context.Context, queue string, timeout time.Duration) (*Task, error) {
	res, err := b.rdb.BLPop(ctx, timeout, b.key(queue)).Result()
	if err != nil {
		if eris.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "queue: dequeue from %s", queue)
	}
	// BLPOP returns [key, value].
	if len(res) != 2 {
		return nil, eris.Errorf("queue: unexpected blpop reply length %d", len(res))
	}
	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, eris.Wrap(err, "queue: unmarshal task")
	}
	return &task, nil
}

// Len returns the number of pending tasks on the named queue.
func (b *Broker) Len(ctx context.Context, queue string) (int64, error) {
	n, err := b.rdb.LLen(ctx, b.key(queue)).Result()
	if err != nil {
		return 0, eris.Wrapf(err, "queue: length of %s", queue)
	}
	return n, nil
}

// Purge drops all pending tasks on the named queue.
func (b *Broker) Purge(ctx context.Context, queue string) error {
	if err := b.rdb.Del(ctx, b.key(queue)).Err(); err != nil {
		return eris.Wrapf(err, "queue: purge %s", queue)
	}
	return nil
}

// Close releases the Redis connection.
func (b *Broker) Close() error {
	return b.rdb.Close()
}
