package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ArbRelay/pkg/logger"
)

var (
	ErrNotRunning     = errors.New("queue not running")
	ErrAlreadyRunning = errors.New("queue already running")
)

// RedisQueue is either a publisher (no workers) or a consumer with registered jobs.
type RedisQueue struct {
	log     *logger.Logger
	cfg     Config
	client  *redis.Client
	keys    keys
	consume bool

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewRedisPublisher returns a started, enqueue-only queue.
func NewRedisPublisher(ctx context.Context, log *logger.Logger, client *redis.Client, keyPrefix string) (*RedisQueue, error) {
	q := newRedisQueue(log, Config{KeyPrefix: keyPrefix}, client, false)
	if err := q.ping(ctx); err != nil {
		return nil, err
	}
	q.mu.Lock()
	q.running = true
	q.mu.Unlock()
	return q, nil
}

// NewRedisConsumer returns a consumer; call Start after registering jobs.
func NewRedisConsumer(log *logger.Logger, cfg Config, client *redis.Client, jobs ...Job) *RedisQueue {
	q := newRedisQueue(log, cfg, client, true)
	for _, j := range jobs {
		q.RegisterJob(j)
	}
	return q
}

func newRedisQueue(log *logger.Logger, cfg Config, client *redis.Client, consume bool) *RedisQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisQueue{
		log:     log.Component("redis_queue"),
		cfg:     cfg,
		client:  client,
		keys:    keysFor(cfg.KeyPrefix),
		consume: consume,
		jobs:    make(map[string]Job),
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}
}

func (r *RedisQueue) RegisterJob(job Job) {
	if !r.consume {
		r.log.Warn("job registration ignored on a publisher", logger.String("job", job.Name()))
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Type()]; exists {
		r.log.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
}

func (r *RedisQueue) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Start launches the workers and the retry mover.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.running = true
	r.mu.Unlock()

	if err := r.ping(r.ctx); err != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return err
	}
	if !r.consume {
		return nil
	}
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.wg.Add(1)
	go r.retryLoop()
	r.log.Info("redis queue consuming",
		logger.Int("workers", r.cfg.Workers),
		logger.String("queue", r.keys.queue))
	return nil
}

// Stop cancels in-flight handlers and waits for the workers, bounded by ctx.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for queue workers: %w", ctx.Err())
	}
}

// Enqueue pushes one message. Consumers only accept types they have a job for.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType, requestID string, payload interface{}) error {
	r.mu.RLock()
	running := r.running
	_, known := r.jobs[msgType]
	r.mu.RUnlock()
	if !running {
		return ErrNotRunning
	}
	if r.consume && !known {
		return fmt.Errorf("no job registered for type %s", msgType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	data, err := json.Marshal(Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		RequestID: requestID,
		Payload:   raw,
		Timestamp: r.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.keys.queue, data).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()
	for r.ctx.Err() == nil {
		res, err := r.client.BRPop(r.ctx, time.Second, r.keys.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || r.ctx.Err() != nil {
				continue
			}
			r.log.Error("brpop failed", logger.Int("worker_id", id), logger.Error(err))
			select {
			case <-r.ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if len(res) < 2 {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			r.log.Error("undecodable message", logger.Error(err))
			r.push(r.keys.dead, []byte(res[1]))
			continue
		}
		r.process(&msg)
	}
}

func (r *RedisQueue) process(msg *Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.log.Error("no job for message", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.bury(msg)
		return
	}

	err := job.Handle(r.ctx, msg)
	if err != nil && r.ctx.Err() != nil {
		// shutting down: put it back untouched
		if data, mErr := json.Marshal(msg); mErr == nil {
			r.push(r.keys.queue, data)
		}
		return
	}
	switch decide(err, msg.Attempts, r.cfg.RetryLimit) {
	case actionRetry:
		msg.Attempts++
		r.log.Warn("message failed, retry scheduled",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Int("attempt", msg.Attempts),
			logger.Error(err))
		r.scheduleRetry(msg, r.now().Add(r.cfg.RetryDelay))
	case actionDead:
		r.log.Error("message failed, retries exhausted",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Error(err))
		r.bury(msg)
	}
}

func (r *RedisQueue) scheduleRetry(msg *Message, at time.Time) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("marshal retry", logger.Error(err))
		return
	}
	if err := r.client.ZAdd(context.Background(), r.keys.retry, redis.Z{Score: float64(at.Unix()), Member: data}).Err(); err != nil {
		r.log.Error("zadd retry", logger.Error(err))
	}
}

func (r *RedisQueue) bury(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("marshal dead letter", logger.Error(err))
		return
	}
	r.push(r.keys.dead, data)
}

func (r *RedisQueue) push(key string, data []byte) {
	if err := r.client.LPush(context.Background(), key, data).Err(); err != nil {
		r.log.Error("lpush failed", logger.String("key", key), logger.Error(err))
	}
}

func (r *RedisQueue) retryLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.moveDueRetries()
		}
	}
}

// moveDueRetries moves every retry whose time has come back onto the queue.
func (r *RedisQueue) moveDueRetries() {
	due, err := r.client.ZRangeByScore(r.ctx, r.keys.retry, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(r.now().Unix(), 10),
	}).Result()
	if err != nil {
		if r.ctx.Err() == nil {
			r.log.Error("fetch due retries", logger.Error(err))
		}
		return
	}
	for _, member := range due {
		pipe := r.client.TxPipeline()
		pipe.ZRem(r.ctx, r.keys.retry, member)
		pipe.LPush(r.ctx, r.keys.queue, member)
		if _, err := pipe.Exec(r.ctx); err != nil {
			if r.ctx.Err() == nil {
				r.log.Error("move retry to queue", logger.Error(err))
			}
			return
		}
	}
}

// Close stops the queue and closes the client.
func (r *RedisQueue) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stopErr := r.Stop(ctx)
	return errors.Join(stopErr, r.client.Close())
}
