// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "v2d:job:"

// RedisRegistry stores jobs as JSON values in Redis so multiple daemon
// instances can share a job table. Updates use optimistic WATCH transactions
// so concurrent patches to the same job serialize correctly.
type RedisRegistry struct {
	client      *redis.Client
	terminalTTL time.Duration

	now func() time.Time
}

// NewRedisRegistry wraps an existing Redis client. Terminal jobs expire
// after terminalTTL; zero keeps them forever.
func NewRedisRegistry(client *redis.Client, terminalTTL time.Duration) *RedisRegistry {
	return &RedisRegistry{
		client:      client,
		terminalTTL: terminalTTL,
		now:         time.Now,
	}
}

func redisKey(jobID string) string {
	return redisKeyPrefix + jobID
}

func (r *RedisRegistry) Create(ctx context.Context, userID, audioURL string) (Job, error) {
	now := r.now()
	job := Job{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    StatusPending,
		Progress:  0,
		AudioURL:  audioURL,
		CreatedAt: now,
		UpdatedAt: now,
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return Job{}, fmt.Errorf("jobs: marshal: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(job.ID), payload, 0).Err(); err != nil {
		return Job{}, fmt.Errorf("jobs: redis set: %w", err)
	}
	return job, nil
}

func (r *RedisRegistry) Get(ctx context.Context, jobID string) (Job, error) {
	data, err := r.client.Get(ctx, redisKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("jobs: redis get: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("jobs: corrupt job %s: %w", jobID, err)
	}
	return job, nil
}

func (r *RedisRegistry) Update(ctx context.Context, jobID string, p Patch) (Job, error) {
	key := redisKey(jobID)
	var updated Job

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("jobs: corrupt job %s: %w", jobID, err)
		}

		next, err := job.apply(p, r.now())
		if err != nil {
			return err
		}

		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}

		ttl := time.Duration(0)
		if next.Status.Terminal() && r.terminalTTL > 0 {
			ttl = r.terminalTTL
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	}

	// Retry on WATCH conflicts; validation and not-found errors abort.
	for i := 0; i < 5; i++ {
		err := r.client.Watch(ctx, txn, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Job{}, err
	}
	return Job{}, fmt.Errorf("jobs: update of %s kept conflicting", jobID)
}
