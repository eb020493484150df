package typing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ejjays/RN-chatapp/internal/domain"
)

// RedisStore keeps one sorted set per chat: member = user id, score = expiry
// in unix milliseconds. Keys:
// - <prefix>:typing:<chatID>
type RedisStore struct {
	client *redis.Client
	prefix string
	keyTTL time.Duration
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, keyTTL: 2 * ttl}
}

func (s *RedisStore) key(chatID string) string { return fmt.Sprintf("%s:typing:%s", s.prefix, chatID) }

func (s *RedisStore) Set(ctx context.Context, chatID, userID string, expiresAt time.Time) error {
	key := s.key(chatID)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiresAt.UnixMilli()), Member: userID})
	pipe.PExpire(ctx, key, s.keyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Clear(ctx context.Context, chatID, userID string) error {
	return s.client.ZRem(ctx, s.key(chatID), userID).Err()
}

// expireScript removes ARGV[1] only if its score is at or below ARGV[2].
var expireScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if score and tonumber(score) <= tonumber(ARGV[2]) then
	return redis.call('ZREM', KEYS[1], ARGV[1])
end
return 0
`)

func (s *RedisStore) Expire(ctx context.Context, chatID, userID string, expiresAt time.Time) error {
	return expireScript.Run(ctx, s.client, []string{s.key(chatID)}, userID, expiresAt.UnixMilli()).Err()
}

func (s *RedisStore) List(ctx context.Context, chatID string, now time.Time) ([]domain.TypingState, error) {
	key := s.key(chatID)
	cutoff := strconv.FormatInt(now.UnixMilli(), 10)
	if err := s.client.ZRemRangeByScore(ctx, key, "-inf", cutoff).Err(); err != nil {
		return nil, err
	}
	zs, err := s.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: "(" + cutoff, Max: "+inf"}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.TypingState, 0, len(zs))
	for _, z := range zs {
		userID, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, domain.TypingState{
			ChatID:    chatID,
			UserID:    userID,
			ExpiresAt: time.UnixMilli(int64(z.Score)),
		})
	}
	return out, nil
}
