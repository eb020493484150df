package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ejjays/RN-chatapp/internal/domain"
)

// CachedDirectory is a Redis read-through cache in front of another
// Directory. Keys:
// - <prefix>:user:<id> -> user JSON
// - <prefix>:users -> directory listing JSON
type CachedDirectory struct {
	next   Directory
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

func NewCachedDirectory(next Directory, client *redis.Client, prefix string, ttl time.Duration, log *zap.Logger) *CachedDirectory {
	return &CachedDirectory{next: next, client: client, prefix: prefix, ttl: ttl, log: log}
}

func (d *CachedDirectory) userKey(id string) string { return fmt.Sprintf("%s:user:%s", d.prefix, id) }
func (d *CachedDirectory) listKey() string          { return fmt.Sprintf("%s:users", d.prefix) }

func (d *CachedDirectory) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	if b, err := d.client.Get(ctx, d.userKey(userID)).Bytes(); err == nil {
		var u domain.User
		if json.Unmarshal(b, &u) == nil {
			return &u, nil
		}
	}
	u, err := d.next.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	d.put(ctx, d.userKey(userID), u)
	return u, nil
}

func (d *CachedDirectory) ListUsers(ctx context.Context) ([]domain.User, error) {
	if b, err := d.client.Get(ctx, d.listKey()).Bytes(); err == nil {
		var out []domain.User
		if json.Unmarshal(b, &out) == nil {
			return out, nil
		}
	}
	out, err := d.next.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	d.put(ctx, d.listKey(), out)
	return out, nil
}

// Invalidate drops cached entries touched by a profile or presence change.
func (d *CachedDirectory) Invalidate(ctx context.Context, userID string) {
	if err := d.client.Del(ctx, d.userKey(userID), d.listKey()).Err(); err != nil {
		d.log.Warn("identity cache invalidate", zap.String("user_id", userID), zap.Error(err))
	}
}

func (d *CachedDirectory) put(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := d.client.Set(ctx, key, b, d.ttl).Err(); err != nil {
		d.log.Debug("identity cache set", zap.String("key", key), zap.Error(err))
	}
}
