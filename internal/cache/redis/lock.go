package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tgparkk/RoboTrader-sub001/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's
// token, so one holder cannot release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// InstanceLock guards against two bot processes trading the same account
// at once. It is a Redis SETNX lock with a TTL and a Lua conditional
// unlock, keyed by account number.
type InstanceLock struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

// NewInstanceLock creates an InstanceLock backed by the given Client.
func NewInstanceLock(c *Client) *InstanceLock {
	return &InstanceLock{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
	}
}

func lockKey(account string) string {
	return "robotrader:lock:" + account
}

// Acquire claims the account lock for the given TTL. On success it
// returns a release function, safe to call more than once. It returns
// domain.ErrLockHeld when another instance owns the account.
func (l *InstanceLock) Acquire(ctx context.Context, account string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	key := lockKey(account)

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", account, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: account %s: %w", account, domain.ErrLockHeld)
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true

		// Background context so release works during shutdown even when
		// the run context is already cancelled.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.unlockSc.Run(rctx, l.rdb, []string{key}, token).Err()
	}
	return release, nil
}
