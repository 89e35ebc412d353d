package keystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRepository handles keystore persistence in Redis. Entries expire on
// their own after ttl, so DeleteCreatedBefore has nothing to do.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	if ttl <= 0 {
		ttl = DefaultLifetime
	}
	return &RedisRepository{client: client, ttl: ttl}
}

// getEntryKey generates the Redis key for a keystore entry
func getEntryKey(entryID uuid.UUID) string {
	return fmt.Sprintf("keystore:%s", entryID.String())
}

// getUserEntriesKey generates the Redis key for a user's entry set
func getUserEntriesKey(userID uuid.UUID) string {
	return fmt.Sprintf("user_keystores:%s", userID.String())
}

// Create stores the entry hash and indexes it under the user in one
// MULTI/EXEC
func (r *RedisRepository) Create(ctx context.Context, entry *Entry) error {
	entryKey := getEntryKey(entry.ID)
	userKey := getUserEntriesKey(entry.UserID)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, entryKey, map[string]interface{}{
			"user_id":          entry.UserID.String(),
			"primary_secret":   entry.PrimarySecret,
			"secondary_secret": entry.SecondarySecret,
			"created_at":       entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		pipe.Expire(ctx, entryKey, r.ttl)

		pipe.SAdd(ctx, userKey, entry.ID.String())
		pipe.Expire(ctx, userKey, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store keystore entry: %w", err)
	}

	return nil
}

// FindByPrimaryKey retrieves an entry by id and owner
func (r *RedisRepository) FindByPrimaryKey(ctx context.Context, entryID, userID uuid.UUID) (*Entry, error) {
	data, err := r.client.HGetAll(ctx, getEntryKey(entryID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get keystore entry: %w", err)
	}

	if len(data) == 0 {
		return nil, ErrNotFound
	}

	owner, err := uuid.Parse(data["user_id"])
	if err != nil {
		return nil, fmt.Errorf("corrupt keystore entry %s: %w", entryID, err)
	}
	if owner != userID {
		return nil, ErrNotFound
	}

	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("corrupt keystore entry %s: %w", entryID, err)
	}

	return &Entry{
		ID:              entryID,
		UserID:          owner,
		PrimarySecret:   data["primary_secret"],
		SecondarySecret: data["secondary_secret"],
		CreatedAt:       createdAt,
	}, nil
}

// Delete removes an entry and its index membership
func (r *RedisRepository) Delete(ctx context.Context, entryID uuid.UUID) (bool, error) {
	entryKey := getEntryKey(entryID)

	owner, err := r.client.HGet(ctx, entryKey, "user_id").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get keystore entry owner: %w", err)
	}

	var del *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, entryKey)
		if userID, err := uuid.Parse(owner); err == nil {
			pipe.SRem(ctx, getUserEntriesKey(userID), entryID.String())
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete keystore entry: %w", err)
	}

	return del.Val() > 0, nil
}

// DeleteAllForUser removes every entry in the user's set. Only the members
// that were read are removed from the set, so an entry indexed concurrently
// stays reachable for the next call.
func (r *RedisRepository) DeleteAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	userKey := getUserEntriesKey(userID)

	ids, err := r.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get user keystore entries: %w", err)
	}

	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids))
	members := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		members = append(members, id)
		entryID, err := uuid.Parse(id)
		if err != nil {
			continue
		}
		keys = append(keys, getEntryKey(entryID))
	}

	var del *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			del = pipe.Del(ctx, keys...)
		}
		pipe.SRem(ctx, userKey, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete user keystore entries: %w", err)
	}

	if del == nil {
		return 0, nil
	}
	return del.Val(), nil
}

// DeleteCreatedBefore is a no-op: Redis expires entries via TTL
func (r *RedisRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
