package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relayq/relayq/pkg/observability/logger"
)

const (
	defaultRedisPrefix           = "relayq:queue"
	defaultRedisOperationTimeout = 5 * time.Second
	defaultRedisPollInterval     = 100 * time.Millisecond
	defaultRedisTransferBatch    = 100
)

var (
	// Promotes due delayed tasks per tier, then pops the highest-priority
	// ready task and stores it under a lease key. Paused lanes return nil.
	redisReserveScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return nil
end

local nowMs = tonumber(ARGV[2])
local batch = tonumber(ARGV[3])
for i = 0, 2 do
  local delayed = KEYS[2 + i]
  local ready = KEYS[5 + i]
  local due = redis.call("ZRANGEBYSCORE", delayed, "-inf", nowMs, "LIMIT", 0, batch)
  for _, payload in ipairs(due) do
    redis.call("RPUSH", ready, payload)
    redis.call("ZREM", delayed, payload)
  end
end

for i = 0, 2 do
  local payload = redis.call("LPOP", KEYS[5 + i])
  if payload then
    redis.call("SET", ARGV[1] .. ARGV[5], payload, "PX", tonumber(ARGV[4]))
    redis.call("INCR", KEYS[8])
    return payload
  end
end
return nil
`)

	redisAckScript = redis.NewScript(`
local value = redis.call("GET", KEYS[1])
if not value then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("DECR", KEYS[2])
redis.call("INCR", KEYS[3])
return 1
`)

	redisTransitionLeaseScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
if current ~= ARGV[1] then
  return -1
end

redis.call("DEL", KEYS[1])
redis.call("DECR", KEYS[4])

local encoded = ARGV[2]
local runAtMs = tonumber(ARGV[3])
local nowMs = tonumber(ARGV[4])
if runAtMs <= nowMs then
  redis.call("RPUSH", KEYS[2], encoded)
else
  redis.call("ZADD", KEYS[3], runAtMs, encoded)
end
return 1
`)
)

// RedisBackendConfig configures the Redis-backed queue.
type RedisBackendConfig struct {
	URL              string
	Prefix           string
	OperationTimeout time.Duration
	PollInterval     time.Duration
	TransferBatch    int
	DeadLetterLane   string
}

func (c *RedisBackendConfig) normalize() {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaultRedisPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultRedisOperationTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultRedisPollInterval
	}
	if c.TransferBatch <= 0 {
		c.TransferBatch = defaultRedisTransferBatch
	}
	if strings.TrimSpace(c.DeadLetterLane) == "" {
		c.DeadLetterLane = "dead-letter"
	}
}

type redisTaskEnvelope struct {
	Task *Task `json:"task"`
}

type redisDLQRecord struct {
	ID           string    `json:"id"`
	Lane         string    `json:"lane"`
	OriginalLane string    `json:"original_lane"`
	Task         *Task     `json:"task"`
	Reason       string    `json:"reason"`
	FailedAt     time.Time `json:"failed_at"`
}

// RedisBackend implements Backend with Redis lists/zsets and lease keys.
// Each lane keeps one ready list and one delayed zset per priority tier so
// higher tiers always drain first while tiers stay FIFO.
type RedisBackend struct {
	client *redis.Client
	log    logger.Logger
	config RedisBackendConfig

	mu     sync.RWMutex
	closed bool
}

// NewRedisBackend connects to Redis and returns a queue backend.
func NewRedisBackend(cfg RedisBackendConfig, log logger.Logger) (*RedisBackend, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("redis url is required")
	}
	cfg.normalize()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url failed: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis failed: %w", err)
	}

	return &RedisBackend{client: client, log: log, config: cfg}, nil
}

// NewRedisBackendFromClient wraps an existing client; used by tests.
func NewRedisBackendFromClient(client *redis.Client, cfg RedisBackendConfig, log logger.Logger) (*RedisBackend, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()
	return &RedisBackend{client: client, log: log, config: cfg}, nil
}

// Enqueue schedules a task for immediate or delayed execution.
func (b *RedisBackend) Enqueue(ctx context.Context, task *Task) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	taskCopy := cloneTask(task)
	if err := taskCopy.Validate(); err != nil {
		return err
	}
	if taskCopy.CreatedAt.IsZero() {
		taskCopy.CreatedAt = time.Now().UTC()
	}
	if taskCopy.RunAt.IsZero() {
		taskCopy.RunAt = taskCopy.CreatedAt
	}

	encoded, err := json.Marshal(redisTaskEnvelope{Task: taskCopy})
	if err != nil {
		return fmt.Errorf("marshal task envelope failed: %w", err)
	}

	opCtx, cancel := b.operationContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	var enqueueErr error
	if !taskCopy.RunAt.After(now) {
		enqueueErr = b.client.RPush(opCtx, b.readyKey(taskCopy.Lane, taskCopy.Priority), string(encoded)).Err()
	} else {
		enqueueErr = b.client.ZAdd(opCtx, b.delayedKey(taskCopy.Lane, taskCopy.Priority), redis.Z{
			Score:  float64(taskCopy.RunAt.UnixMilli()),
			Member: string(encoded),
		}).Err()
	}
	if enqueueErr != nil {
		return enqueueErr
	}
	recordTaskEnqueued("redis", taskCopy)
	return nil
}

// Reserve returns the next available task on the lane and a lease token.
func (b *RedisBackend) Reserve(ctx context.Context, lane string, leaseFor time.Duration) (*Task, *Lease, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, nil, err
	}
	if ctx == nil {
		return nil, nil, errors.New("context is required")
	}
	lane = strings.TrimSpace(lane)
	if lane == "" {
		return nil, nil, errors.New("lane is required")
	}
	if leaseFor <= 0 {
		leaseFor = DefaultLeaseTTL
	}
	leaseMilliseconds := leaseFor.Milliseconds()
	if leaseMilliseconds <= 0 {
		leaseMilliseconds = 1
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		token := randomToken()
		now := time.Now().UTC()
		opCtx, cancel := b.operationContext(ctx)
		result, reserveErr := redisReserveScript.Run(
			opCtx,
			b.client,
			b.reserveKeys(lane),
			b.leaseKeyPrefix(),
			now.UnixMilli(),
			b.config.TransferBatch,
			leaseMilliseconds,
			token,
		).Result()
		cancel()
		if reserveErr != nil && !errors.Is(reserveErr, redis.Nil) {
			return nil, nil, reserveErr
		}
		raw, _ := result.(string)
		if errors.Is(reserveErr, redis.Nil) || strings.TrimSpace(raw) == "" {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(b.config.PollInterval):
				continue
			}
		}

		var envelope redisTaskEnvelope
		if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
			b.log.Warn("discarding malformed queued task payload", "lane", lane, "error", err)
			_ = b.Ack(ctx, &Lease{Token: token, Lane: lane})
			continue
		}
		if envelope.Task == nil {
			_ = b.Ack(ctx, &Lease{Token: token, Lane: lane})
			continue
		}
		if strings.TrimSpace(envelope.Task.Lane) == "" {
			envelope.Task.Lane = lane
		}
		if err := envelope.Task.Validate(); err != nil {
			b.log.Warn("discarding invalid queued task", "lane", lane, "error", err)
			_ = b.Ack(ctx, &Lease{Token: token, Lane: lane})
			continue
		}

		lease := &Lease{
			TaskID:   strings.TrimSpace(envelope.Task.ID),
			Token:    token,
			Lane:     lane,
			ExpireAt: now.Add(leaseFor),
			Attempt:  envelope.Task.Attempt,
		}
		return cloneTask(envelope.Task), cloneLease(lease), nil
	}
}

// Ack confirms task completion and releases the lease.
func (b *RedisBackend) Ack(ctx context.Context, lease *Lease) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if lease == nil || strings.TrimSpace(lease.Token) == "" {
		return queueError(ErrValidation, "lease token is required")
	}
	lane := strings.TrimSpace(lease.Lane)
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	return redisAckScript.Run(opCtx, b.client, []string{
		b.leaseKey(strings.TrimSpace(lease.Token)),
		b.activeKey(lane),
		b.completedKey(lane),
	}).Err()
}

// Nack schedules the leased task for retry at nextRunAt.
func (b *RedisBackend) Nack(ctx context.Context, lease *Lease, nextRunAt time.Time, reason error) error {
	rawLeasePayload, task, err := b.readLeasedTask(ctx, lease)
	if err != nil {
		return err
	}
	task.Attempt++
	if task.Headers == nil {
		task.Headers = map[string]string{}
	}
	if reason != nil {
		task.Headers[HeaderFailureReason] = reason.Error()
	}
	task.Headers[HeaderFailedAt] = time.Now().UTC().Format(time.RFC3339Nano)
	task.RunAt = nextRunAt.UTC()
	if task.RunAt.IsZero() {
		task.RunAt = time.Now().UTC()
	}
	encodedTask, err := json.Marshal(redisTaskEnvelope{Task: task})
	if err != nil {
		return fmt.Errorf("marshal retry task failed: %w", err)
	}
	if err := b.transitionLease(ctx, lease, rawLeasePayload, string(encodedTask), task.Lane, task.Priority, task.RunAt); err != nil {
		return err
	}
	recordTaskEnqueued("redis", task)
	return nil
}

// MoveToDLQ routes the leased task to the dead-letter lane and records a DLQ
// entry for operator inspection. Dead-lettered tasks carry the low tier.
func (b *RedisBackend) MoveToDLQ(ctx context.Context, lease *Lease, reason error) error {
	rawLeasePayload, task, err := b.readLeasedTask(ctx, lease)
	if err != nil {
		return err
	}
	originalLane := strings.TrimSpace(task.Lane)
	if originalLane == "" && lease != nil {
		originalLane = strings.TrimSpace(lease.Lane)
	}
	task.Lane = b.config.DeadLetterLane
	task.Priority = 1
	if task.Headers == nil {
		task.Headers = map[string]string{}
	}
	task.Headers[HeaderOriginalLane] = originalLane
	task.Headers[HeaderFailedAt] = time.Now().UTC().Format(time.RFC3339Nano)
	if reason != nil {
		task.Headers[HeaderFailureReason] = reason.Error()
	}

	encodedTask, err := json.Marshal(redisTaskEnvelope{Task: task})
	if err != nil {
		return fmt.Errorf("marshal dlq task failed: %w", err)
	}
	if err := b.transitionLease(ctx, lease, rawLeasePayload, string(encodedTask), task.Lane, task.Priority, time.Now().UTC()); err != nil {
		return err
	}

	opCtx, cancel := b.operationContext(ctx)
	failedErr := b.client.Incr(opCtx, b.failedKey(originalLane)).Err()
	cancel()
	if failedErr != nil {
		b.log.Warn("failed counter increment failed", "lane", originalLane, "error", failedErr)
	}
	recordTaskDLQ(originalLane)

	entry := &DLQEntry{
		ID:           randomToken(),
		Lane:         task.Lane,
		OriginalLane: originalLane,
		Task:         cloneTask(task),
		Reason:       strings.TrimSpace(task.Headers[HeaderFailureReason]),
		FailedAt:     time.Now().UTC(),
	}
	return b.saveDLQEntry(ctx, entry)
}

// Pause stops dequeuing from the lane. Queued tasks are preserved.
func (b *RedisBackend) Pause(ctx context.Context, lane string) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	lane = strings.TrimSpace(lane)
	if lane == "" {
		return errors.New("lane is required")
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	return b.client.Set(opCtx, b.pausedKey(lane), "1", 0).Err()
}

// Resume re-enables dequeuing from the lane.
func (b *RedisBackend) Resume(ctx context.Context, lane string) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	lane = strings.TrimSpace(lane)
	if lane == "" {
		return errors.New("lane is required")
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	return b.client.Del(opCtx, b.pausedKey(lane)).Err()
}

// Drain discards all ready and delayed tasks on the lane.
func (b *RedisBackend) Drain(ctx context.Context, lane string) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	lane = strings.TrimSpace(lane)
	if lane == "" {
		return errors.New("lane is required")
	}
	keys := make([]string, 0, len(priorityTiers)*2)
	for _, tier := range priorityTiers {
		keys = append(keys, b.readyKey(lane, tier), b.delayedKey(lane, tier))
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	return b.client.Del(opCtx, keys...).Err()
}

// Stats reports lane counters for operational tooling.
func (b *RedisBackend) Stats(ctx context.Context, lane string) (LaneStats, error) {
	if err := b.ensureOpen(); err != nil {
		return LaneStats{}, err
	}
	lane = strings.TrimSpace(lane)
	if lane == "" {
		return LaneStats{}, errors.New("lane is required")
	}

	opCtx, cancel := b.operationContext(ctx)
	defer cancel()

	pipe := b.client.Pipeline()
	readyCmds := make([]*redis.IntCmd, 0, len(priorityTiers))
	delayedCmds := make([]*redis.IntCmd, 0, len(priorityTiers))
	for _, tier := range priorityTiers {
		readyCmds = append(readyCmds, pipe.LLen(opCtx, b.readyKey(lane, tier)))
		delayedCmds = append(delayedCmds, pipe.ZCard(opCtx, b.delayedKey(lane, tier)))
	}
	activeCmd := pipe.Get(opCtx, b.activeKey(lane))
	completedCmd := pipe.Get(opCtx, b.completedKey(lane))
	failedCmd := pipe.Get(opCtx, b.failedKey(lane))
	pausedCmd := pipe.Exists(opCtx, b.pausedKey(lane))
	if _, err := pipe.Exec(opCtx); err != nil && !errors.Is(err, redis.Nil) {
		return LaneStats{}, err
	}

	var stats LaneStats
	for _, cmd := range readyCmds {
		stats.Waiting += cmd.Val()
	}
	for _, cmd := range delayedCmds {
		stats.Delayed += cmd.Val()
	}
	stats.Active = counterValue(activeCmd)
	stats.Completed = counterValue(completedCmd)
	stats.Failed = counterValue(failedCmd)
	stats.Paused = pausedCmd.Val() > 0
	return stats, nil
}

// ListDLQ lists the latest dead-letter records for one original lane.
func (b *RedisBackend) ListDLQ(ctx context.Context, lane string, limit int) ([]*DLQEntry, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	lane = strings.TrimSpace(lane)
	if lane == "" {
		return nil, errors.New("lane is required")
	}
	if limit <= 0 {
		limit = 50
	}

	opCtx, cancel := b.operationContext(ctx)
	ids, err := b.client.ZRevRange(opCtx, b.dlqIndexKey(lane), 0, int64(limit-1)).Result()
	cancel()
	if err != nil {
		return nil, err
	}

	entries := make([]*DLQEntry, 0, len(ids))
	for _, id := range ids {
		opCtx, cancel := b.operationContext(ctx)
		raw, getErr := b.client.Get(opCtx, b.dlqEntryKey(lane, id)).Result()
		cancel()
		if getErr != nil {
			if errors.Is(getErr, redis.Nil) {
				continue
			}
			return nil, getErr
		}
		var record redisDLQRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			continue
		}
		entries = append(entries, &DLQEntry{
			ID:           record.ID,
			Lane:         record.Lane,
			OriginalLane: record.OriginalLane,
			Task:         cloneTask(record.Task),
			Reason:       record.Reason,
			FailedAt:     record.FailedAt,
		})
	}
	return entries, nil
}

// ReplayDLQ re-enqueues selected DLQ entries back to their original lane.
// This is the explicit operator action; nothing replays automatically.
func (b *RedisBackend) ReplayDLQ(ctx context.Context, lane string, ids []string) (int, error) {
	if err := b.ensureOpen(); err != nil {
		return 0, err
	}
	lane = strings.TrimSpace(lane)
	if lane == "" {
		return 0, errors.New("lane is required")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	replayed := 0
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}

		opCtx, cancel := b.operationContext(ctx)
		raw, err := b.client.Get(opCtx, b.dlqEntryKey(lane, id)).Result()
		cancel()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return replayed, err
		}

		var record redisDLQRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			continue
		}
		task := cloneTask(record.Task)
		task.Lane = record.OriginalLane
		if task.Headers == nil {
			task.Headers = map[string]string{}
		}
		task.Headers["dlq_replay"] = "true"
		task.Attempt = 0
		task.RunAt = time.Now().UTC()

		if err := b.Enqueue(ctx, task); err != nil {
			return replayed, err
		}

		// Marshal is deterministic for equal task values, so this matches
		// the payload MoveToDLQ parked on the dead-letter lane.
		parkedPayload, marshalErr := json.Marshal(redisTaskEnvelope{Task: record.Task})

		opCtx, cancel = b.operationContext(ctx)
		_, err = b.client.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
			if marshalErr == nil && record.Task != nil {
				pipe.LRem(opCtx, b.readyKey(record.Lane, record.Task.Priority), 1, string(parkedPayload))
			}
			pipe.ZRem(opCtx, b.dlqIndexKey(lane), id)
			pipe.Del(opCtx, b.dlqEntryKey(lane, id))
			return nil
		})
		cancel()
		if err != nil {
			return replayed, err
		}
		replayed++
	}

	return replayed, nil
}

// HealthCheck verifies Redis connectivity.
func (b *RedisBackend) HealthCheck(ctx context.Context) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	return b.client.Ping(opCtx).Err()
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.client.Close()
}

func (b *RedisBackend) ensureOpen() error {
	if b == nil || b.client == nil {
		return errors.New("redis backend is not initialized")
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

func (b *RedisBackend) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, b.config.OperationTimeout)
}

func (b *RedisBackend) readLeasedTask(ctx context.Context, lease *Lease) (string, *Task, error) {
	if err := b.ensureOpen(); err != nil {
		return "", nil, err
	}
	if lease == nil || strings.TrimSpace(lease.Token) == "" {
		return "", nil, queueError(ErrValidation, "lease token is required")
	}
	token := strings.TrimSpace(lease.Token)

	opCtx, cancel := b.operationContext(ctx)
	raw, err := b.client.Get(opCtx, b.leaseKey(token)).Result()
	cancel()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil, ErrLeaseNotFound
		}
		return "", nil, err
	}

	var envelope redisTaskEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return "", nil, fmt.Errorf("decode lease payload failed: %w", err)
	}
	if envelope.Task == nil {
		return "", nil, errors.New("lease payload does not contain a task")
	}
	if strings.TrimSpace(envelope.Task.Lane) == "" {
		envelope.Task.Lane = strings.TrimSpace(lease.Lane)
	}
	if err := envelope.Task.Validate(); err != nil {
		return "", nil, err
	}

	return raw, cloneTask(envelope.Task), nil
}

func (b *RedisBackend) transitionLease(
	ctx context.Context,
	lease *Lease,
	expectedLeasePayload string,
	nextEncodedPayload string,
	lane string,
	priority int,
	runAt time.Time,
) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if lease == nil || strings.TrimSpace(lease.Token) == "" {
		return queueError(ErrValidation, "lease token is required")
	}
	lane = strings.TrimSpace(lane)
	if lane == "" {
		return errors.New("lane is required")
	}

	runAtUTC := runAt.UTC()
	if runAtUTC.IsZero() {
		runAtUTC = time.Now().UTC()
	}
	now := time.Now().UTC()

	opCtx, cancel := b.operationContext(ctx)
	transitionResult, err := redisTransitionLeaseScript.Run(
		opCtx,
		b.client,
		[]string{
			b.leaseKey(strings.TrimSpace(lease.Token)),
			b.readyKey(lane, priority),
			b.delayedKey(lane, priority),
			b.activeKey(strings.TrimSpace(lease.Lane)),
		},
		expectedLeasePayload,
		nextEncodedPayload,
		runAtUTC.UnixMilli(),
		now.UnixMilli(),
	).Int()
	cancel()
	if err != nil {
		return err
	}
	switch transitionResult {
	case 1:
		return nil
	case 0:
		return ErrLeaseNotFound
	case -1:
		return errors.New("lease payload changed while transitioning")
	default:
		return fmt.Errorf("invalid lease transition result: %d", transitionResult)
	}
}

func (b *RedisBackend) saveDLQEntry(ctx context.Context, entry *DLQEntry) error {
	if entry == nil {
		return errors.New("dlq entry is required")
	}
	lane := strings.TrimSpace(entry.OriginalLane)
	if lane == "" {
		return errors.New("dlq original lane is required")
	}
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = randomToken()
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now().UTC()
	}
	record := redisDLQRecord{
		ID:           entry.ID,
		Lane:         entry.Lane,
		OriginalLane: lane,
		Task:         cloneTask(entry.Task),
		Reason:       entry.Reason,
		FailedAt:     entry.FailedAt.UTC(),
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}

	opCtx, cancel := b.operationContext(ctx)
	_, err = b.client.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.Set(opCtx, b.dlqEntryKey(lane, entry.ID), string(encoded), 0)
		pipe.ZAdd(opCtx, b.dlqIndexKey(lane), redis.Z{
			Score:  float64(entry.FailedAt.UnixMilli()),
			Member: entry.ID,
		})
		return nil
	})
	cancel()
	return err
}

func (b *RedisBackend) reserveKeys(lane string) []string {
	keys := make([]string, 0, 8)
	keys = append(keys, b.pausedKey(lane))
	for _, tier := range priorityTiers {
		keys = append(keys, b.delayedKey(lane, tier))
	}
	for _, tier := range priorityTiers {
		keys = append(keys, b.readyKey(lane, tier))
	}
	keys = append(keys, b.activeKey(lane))
	return keys
}

func counterValue(cmd *redis.StringCmd) int64 {
	raw, err := cmd.Result()
	if err != nil {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return value
}

func (b *RedisBackend) readyKey(lane string, priority int) string {
	return fmt.Sprintf("%s:lane:%s:ready:%d", b.prefix(), strings.TrimSpace(lane), priority)
}

func (b *RedisBackend) delayedKey(lane string, priority int) string {
	return fmt.Sprintf("%s:lane:%s:delayed:%d", b.prefix(), strings.TrimSpace(lane), priority)
}

func (b *RedisBackend) pausedKey(lane string) string {
	return b.prefix() + ":lane:" + strings.TrimSpace(lane) + ":paused"
}

func (b *RedisBackend) activeKey(lane string) string {
	return b.prefix() + ":lane:" + strings.TrimSpace(lane) + ":active"
}

func (b *RedisBackend) completedKey(lane string) string {
	return b.prefix() + ":lane:" + strings.TrimSpace(lane) + ":completed"
}

func (b *RedisBackend) failedKey(lane string) string {
	return b.prefix() + ":lane:" + strings.TrimSpace(lane) + ":failed"
}

func (b *RedisBackend) leaseKey(token string) string {
	return b.prefix() + ":lease:" + strings.TrimSpace(token)
}

func (b *RedisBackend) leaseKeyPrefix() string {
	return b.prefix() + ":lease:"
}

func (b *RedisBackend) dlqIndexKey(lane string) string {
	return b.prefix() + ":dlq:index:" + strings.TrimSpace(lane)
}

func (b *RedisBackend) dlqEntryKey(lane, id string) string {
	return b.prefix() + ":dlq:entry:" + strings.TrimSpace(lane) + ":" + strings.TrimSpace(id)
}

func (b *RedisBackend) prefix() string {
	return strings.TrimRight(strings.TrimSpace(b.config.Prefix), ":")
}
