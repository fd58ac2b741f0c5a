package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	KeyPrefix = "paratest:queue:"

	// member prefixes, so that several sentinels can live in the same sorted set
	testMember     = "t:"
	sentinelMember = "s:"

	popTimeout = 1 * time.Second
)

// RedisClient implements Client with a Redis sorted set. Redis orders members of equal score
// lexicographically, which gives the same TID tie-breaking as the heap.
type RedisClient struct {
	client    *redis.Client
	key       string
	sentinels atomic.Int64
}

// Compile-time interface satisfaction check.
var _ Client = (*RedisClient)(nil)

// NewRedisClient creates a new Redis queue client storing its items under KeyPrefix+name
func NewRedisClient(addr, password string, db int, name string) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisClient{client: client, key: KeyPrefix + name}, nil
}

// Key returns the sorted set holding the queue
func (r *RedisClient) Key() string {
	return r.key
}

func (r *RedisClient) Push(ctx context.Context, item Item) error {
	member, err := r.encode(item)
	if err != nil {
		return err
	}
	return r.client.ZAdd(ctx, r.key, redis.Z{Score: item.Priority, Member: member}).Err()
}

// Pop polls BZPOPMIN so that a cancelled ctx is noticed within popTimeout.
func (r *RedisClient) Pop(ctx context.Context) (Item, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Item{}, err
		}

		result, err := r.client.BZPopMin(ctx, popTimeout, r.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// No item available yet
				continue
			}
			if ctx.Err() != nil {
				return Item{}, ctx.Err()
			}
			return Item{}, fmt.Errorf("BZPOPMIN from redis queue went bad. %w", err)
		}

		member, ok := result.Member.(string)
		if !ok {
			log.Error().Interface("member", result.Member).Msg("Dropping invalid queue member")
			continue
		}
		return decode(result.Score, member)
	}
}

func (r *RedisClient) IsEmpty(ctx context.Context) (bool, error) {
	n, err := r.Count(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (r *RedisClient) Count(ctx context.Context) (int64, error) {
	return r.client.ZCard(ctx, r.key).Result()
}

// Close removes the queue key and terminates the Redis connection
func (r *RedisClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	delErr := r.client.Del(ctx, r.key).Err()
	return errors.Join(delErr, r.client.Close())
}

func (r *RedisClient) encode(item Item) (string, error) {
	if item.IsSentinel() {
		return sentinelMember + strconv.FormatInt(r.sentinels.Add(1), 10), nil
	}
	if item.TID == "" {
		return "", errors.New("cannot queue an empty test id")
	}
	return testMember + item.TID, nil
}

func decode(score float64, member string) (Item, error) {
	switch {
	case strings.HasPrefix(member, sentinelMember):
		return Sentinel(), nil
	case strings.HasPrefix(member, testMember):
		return Item{Priority: score, TID: strings.TrimPrefix(member, testMember)}, nil
	default:
		return Item{}, fmt.Errorf("could not parse queue member %q", member)
	}
}
