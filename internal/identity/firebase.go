package identity

import (
	"context"
	"errors"
	"sort"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/ejjays/RN-chatapp/internal/apperr"
	"github.com/ejjays/RN-chatapp/internal/domain"
	"github.com/ejjays/RN-chatapp/internal/retry"
)

// FirebaseDirectory lists accounts straight from Firebase Auth. Calls go
// through a circuit breaker so an auth outage fails fast.
type FirebaseDirectory struct {
	client *auth.Client
	cb     *gobreaker.CircuitBreaker
}

func NewFirebaseDirectory(client *auth.Client, log *zap.Logger) *FirebaseDirectory {
	return &FirebaseDirectory{client: client, cb: retry.NewBreaker("firebase-auth", log)}
}

func breakerErr(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.Wrap(apperr.ErrStorageUnavailable, op, err)
	}
	return err
}

func fromRecord(u *auth.UserRecord) domain.User {
	out := domain.User{}
	if u.UserInfo != nil {
		out.ID = u.UID
		out.DisplayName = u.DisplayName
		out.PhotoURL = u.PhotoURL
		out.Email = u.Email
	}
	if u.UserMetadata != nil {
		out.CreatedAt = time.UnixMilli(u.UserMetadata.CreationTimestamp).UTC()
		if u.UserMetadata.LastRefreshTimestamp > 0 {
			out.LastSeen = time.UnixMilli(u.UserMetadata.LastRefreshTimestamp).UTC()
		}
	}
	return out
}

func (d *FirebaseDirectory) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	v, err := d.cb.Execute(func() (interface{}, error) {
		rec, err := d.client.GetUser(ctx, userID)
		if err != nil {
			if auth.IsUserNotFound(err) {
				return nil, apperr.NotFound("get user", "user %s", userID)
			}
			return nil, apperr.Storage("get user", err)
		}
		u := fromRecord(rec)
		return &u, nil
	})
	if err != nil {
		return nil, breakerErr("get user", err)
	}
	return v.(*domain.User), nil
}

func (d *FirebaseDirectory) ListUsers(ctx context.Context) ([]domain.User, error) {
	v, err := d.cb.Execute(func() (interface{}, error) {
		out := []domain.User{}
		it := d.client.Users(ctx, "")
		for {
			rec, err := it.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return nil, apperr.Storage("list users", err)
			}
			out = append(out, fromRecord(rec.UserRecord))
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].DisplayName != out[j].DisplayName {
				return out[i].DisplayName < out[j].DisplayName
			}
			return out[i].ID < out[j].ID
		})
		return out, nil
	})
	if err != nil {
		return nil, breakerErr("list users", err)
	}
	return v.([]domain.User), nil
}
