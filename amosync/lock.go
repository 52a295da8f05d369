package amosync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/kontrabaz/amobazon_backend/bazonapi"
	"bitbucket.org/kontrabaz/amobazon_backend/config"
	"github.com/bsm/redislock"
)

// ErrLockUnavailable means Bazon did not grant the advisory document lock.
// The API boundary maps it to 403 so the iframe can tell the operator the
// document is open elsewhere.
var ErrLockUnavailable = errors.New("document lock unavailable")

// WithDocumentLock runs fn while holding Bazon's advisory lock for one sale
// document. The lock key Bazon hands out is passed to fn; the lock is
// dropped exactly once per successful acquire, panics included.
//
// A short local redislock serializes concurrent mutations from this process
// group before Bazon is even asked. It is best effort: when Redis is down
// or the local lock is busy the call proceeds and Bazon's own lock decides.
func WithDocumentLock(ctx context.Context, bz *bazonapi.Client, bazonAccountId uint, documentId int64, number string, fn func(lockKey string) error) error {
	if locker := config.GetRedisLock(); locker != nil {
		key := fmt.Sprintf("bazon-doc:%d:%s", bazonAccountId, number)
		if localLock, err := locker.Obtain(ctx, key, 30*time.Second, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(200*time.Millisecond), 10),
		}); err == nil {
			defer localLock.Release(context.WithoutCancel(ctx))
		}
	}

	lockKey, err := bz.GenerateLockKey(ctx, number)
	if err != nil {
		if errors.Is(err, bazonapi.ErrInvalidLock) {
			return ErrLockUnavailable
		}
		return err
	}
	if lockKey == "" {
		return ErrLockUnavailable
	}

	defer func() {
		if _, dropErr := bz.DropDocumentLock(context.WithoutCancel(ctx), documentId, lockKey); dropErr != nil {
			config.LogError(config.GetLogger(), "amosync", "WithDocumentLock",
				"dropDocumentLock "+number, nil, dropErr)
		}
	}()

	return fn(lockKey)
}
