package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bidindex/internal/domain"
)

var (
	//go:embed scripts/trim.lua
	trimLua string
	//go:embed scripts/reserve.lua
	reserveLua string
	//go:embed scripts/complete.lua
	completeLua string
	//go:embed scripts/fail.lua
	failLua string
	//go:embed scripts/promote.lua
	promoteLua string
	//go:embed scripts/reap.lua
	reapLua string
	//go:embed scripts/retry.lua
	retryLua string
)

// maintenanceBatch caps how many jobs one Promote or Reap call moves.
const maintenanceBatch = 1000

// JobQueue implements domain.JobQueue. Each queue owns a job hash per id plus
// a wait list, active and delayed sorted sets, and completed and failed lists,
// all under one hash tag so the scripts stay on a single cluster slot.
//
// The scripts declare the list and set keys in KEYS but derive job hash keys
// from the ARGV prefix, since the ids are only known inside the script. That
// relies on the shared {queue} hash tag: it holds on a single node and on
// Redis Cluster, but not under ACL rules or proxies that check every key a
// script touches against its KEYS.
type JobQueue struct {
	rdb      *redis.Client
	prefix   string
	reserve  *redis.Script
	complete *redis.Script
	fail     *redis.Script
	promote  *redis.Script
	reap     *redis.Script
	retry    *redis.Script
}

// NewJobQueue creates a JobQueue whose keys start with prefix ("bq" when
// empty).
func NewJobQueue(c *Client, prefix string) *JobQueue {
	if prefix == "" {
		prefix = "bq"
	}
	return &JobQueue{
		rdb:      c.Underlying(),
		prefix:   prefix,
		reserve:  redis.NewScript(reserveLua),
		complete: redis.NewScript(trimLua + completeLua),
		fail:     redis.NewScript(trimLua + failLua),
		promote:  redis.NewScript(promoteLua),
		reap:     redis.NewScript(trimLua + reapLua),
		retry:    redis.NewScript(retryLua),
	}
}

type queueKeys struct {
	job       string // prefix; append the job id
	wait      string
	active    string
	delayed   string
	completed string
	failed    string
}

func (q *JobQueue) keys(queue string) queueKeys {
	base := fmt.Sprintf("%s:{%s}:", q.prefix, queue)
	return queueKeys{
		job:       base + "job:",
		wait:      base + "wait",
		active:    base + "active",
		delayed:   base + "delayed",
		completed: base + "completed",
		failed:    base + "failed",
	}
}

// Push stores the records and appends them to the wait list in one
// transaction. Prioritized records go to the head of the line.
func (q *JobQueue) Push(ctx context.Context, queue string, records []domain.JobRecord) error {
	if len(records) == 0 {
		return nil
	}
	k := q.keys(queue)

	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range records {
			pipe.HSet(ctx, k.job+r.ID,
				"name", r.Name,
				"kind", string(r.Kind),
				"data", string(r.Data),
				"attempts", 0,
				"state", string(domain.JobWaiting),
				"prioritized", boolFlag(r.Prioritized),
				"enqueued_at", r.EnqueuedAt.UnixMilli(),
			)
			if r.Prioritized {
				pipe.RPush(ctx, k.wait, r.ID)
			} else {
				pipe.LPush(ctx, k.wait, r.ID)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: push %d jobs to %s: %w", len(records), queue, err)
	}
	return nil
}

// Reserve pops the next waiting job and leases it until leaseUntil. It
// returns nil, nil when nothing is waiting.
func (q *JobQueue) Reserve(ctx context.Context, queue string, leaseUntil time.Time) (*domain.JobRecord, error) {
	k := q.keys(queue)

	id, err := q.reserve.Run(ctx, q.rdb, []string{k.wait, k.active}, k.job, leaseUntil.UnixMilli()).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: reserve from %s: %w", queue, err)
	}

	rec, err := q.load(ctx, queue, id)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Complete ends the lease and files the job under completed, keeping at most
// keep finished jobs.
func (q *JobQueue) Complete(ctx context.Context, queue, id string, keep int) error {
	k := q.keys(queue)

	n, err := q.complete.Run(ctx, q.rdb, []string{k.active, k.completed},
		k.job, id, time.Now().UnixMilli(), keep).Int()
	if err != nil {
		return fmt.Errorf("redis: complete %s/%s: %w", queue, id, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: complete %s/%s: %w", queue, id, domain.ErrLeaseLost)
	}
	return nil
}

// Fail ends the lease. With retryAt set the job is delayed until then;
// otherwise it is filed under failed.
func (q *JobQueue) Fail(ctx context.Context, queue, id, cause string, retryAt *time.Time, keep int) error {
	k := q.keys(queue)

	var at string
	if retryAt != nil {
		at = strconv.FormatInt(retryAt.UnixMilli(), 10)
	}
	n, err := q.fail.Run(ctx, q.rdb, []string{k.active, k.delayed, k.failed},
		k.job, id, cause, time.Now().UnixMilli(), at, keep).Int()
	if err != nil {
		return fmt.Errorf("redis: fail %s/%s: %w", queue, id, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: fail %s/%s: %w", queue, id, domain.ErrLeaseLost)
	}
	return nil
}

// Promote moves delayed jobs whose time has come back to the wait list.
func (q *JobQueue) Promote(ctx context.Context, queue string, now time.Time) (int, error) {
	k := q.keys(queue)

	n, err := q.promote.Run(ctx, q.rdb, []string{k.delayed, k.wait},
		k.job, now.UnixMilli(), maintenanceBatch).Int()
	if err != nil {
		return 0, fmt.Errorf("redis: promote %s: %w", queue, err)
	}
	return n, nil
}

// Reap reclaims leases that expired before now. Jobs that already used
// maxAttempts are failed; the rest go back to the head of the wait list.
func (q *JobQueue) Reap(ctx context.Context, queue string, now time.Time, maxAttempts, keepFailed int) (int, error) {
	k := q.keys(queue)

	n, err := q.reap.Run(ctx, q.rdb, []string{k.active, k.wait, k.failed},
		k.job, now.UnixMilli(), maxAttempts, keepFailed, maintenanceBatch).Int()
	if err != nil {
		return 0, fmt.Errorf("redis: reap %s: %w", queue, err)
	}
	return n, nil
}

// Records lists up to limit jobs in the given state. Lists are returned
// newest first, sorted sets by score.
func (q *JobQueue) Records(ctx context.Context, queue string, state domain.JobState, limit int) ([]domain.JobRecord, error) {
	k := q.keys(queue)
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	var (
		ids []string
		err error
	)
	switch state {
	case domain.JobWaiting:
		ids, err = q.rdb.LRange(ctx, k.wait, 0, stop).Result()
	case domain.JobActive:
		ids, err = q.rdb.ZRange(ctx, k.active, 0, stop).Result()
	case domain.JobDelayed:
		ids, err = q.rdb.ZRange(ctx, k.delayed, 0, stop).Result()
	case domain.JobCompleted:
		ids, err = q.rdb.LRange(ctx, k.completed, 0, stop).Result()
	case domain.JobFailed:
		ids, err = q.rdb.LRange(ctx, k.failed, 0, stop).Result()
	default:
		return nil, fmt.Errorf("%w: unknown job state %q", domain.ErrInvalidInput, state)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: list %s jobs in %s: %w", state, queue, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, k.job+id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis: load %s jobs in %s: %w", state, queue, err)
	}

	records := make([]domain.JobRecord, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// trimmed between the range read and the load
			continue
		}
		records = append(records, decodeRecord(queue, ids[i], fields))
	}
	return records, nil
}

// Retry moves a failed job back to the wait list with a fresh attempt budget.
func (q *JobQueue) Retry(ctx context.Context, queue, id string) error {
	k := q.keys(queue)

	n, err := q.retry.Run(ctx, q.rdb, []string{k.failed, k.wait}, k.job, id).Int()
	if err != nil {
		return fmt.Errorf("redis: retry %s/%s: %w", queue, id, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: retry %s/%s: %w", queue, id, domain.ErrNotFound)
	}
	return nil
}

// Stats counts the jobs in every state.
func (q *JobQueue) Stats(ctx context.Context, queue string) (domain.QueueStats, error) {
	k := q.keys(queue)

	var waiting, active, delayed, completed, failed *redis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.LLen(ctx, k.wait)
		active = pipe.ZCard(ctx, k.active)
		delayed = pipe.ZCard(ctx, k.delayed)
		completed = pipe.LLen(ctx, k.completed)
		failed = pipe.LLen(ctx, k.failed)
		return nil
	})
	if err != nil {
		return domain.QueueStats{}, fmt.Errorf("redis: stats %s: %w", queue, err)
	}
	return domain.QueueStats{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

func (q *JobQueue) load(ctx context.Context, queue, id string) (domain.JobRecord, error) {
	fields, err := q.rdb.HGetAll(ctx, q.keys(queue).job+id).Result()
	if err != nil {
		return domain.JobRecord{}, fmt.Errorf("redis: load job %s/%s: %w", queue, id, err)
	}
	if len(fields) == 0 {
		return domain.JobRecord{}, fmt.Errorf("redis: load job %s/%s: %w", queue, id, domain.ErrNotFound)
	}
	return decodeRecord(queue, id, fields), nil
}

func decodeRecord(queue, id string, f map[string]string) domain.JobRecord {
	rec := domain.JobRecord{
		ID:          id,
		Queue:       queue,
		Name:        f["name"],
		Kind:        domain.JobKind(f["kind"]),
		Data:        []byte(f["data"]),
		Prioritized: f["prioritized"] == "1",
		State:       domain.JobState(f["state"]),
		LastError:   f["error"],
	}
	rec.Attempts, _ = strconv.Atoi(f["attempts"])
	if ms, err := strconv.ParseInt(f["enqueued_at"], 10, 64); err == nil {
		rec.EnqueuedAt = time.UnixMilli(ms).UTC()
	}
	if ms, err := strconv.ParseInt(f["finished_at"], 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		rec.FinishedAt = &t
	}
	return rec
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

var _ domain.JobQueue = (*JobQueue)(nil)
