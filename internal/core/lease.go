package core

// lease.go guards a record against two ticks running at once. Scheduling
// dedups by (record, initiator) only, so two operators starting the same
// record would otherwise race on its pointer.

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease grants exclusive, expiring ownership of a record. When ok is true
// the caller must call release once done.
type Lease interface {
	Acquire(ctx context.Context, id uuid.UUID, ttl time.Duration) (release func(), ok bool, err error)
}

// LocalLease is a Lease for a single process.
type LocalLease struct {
	mu   sync.Mutex
	held map[uuid.UUID]localHold
	now  func() time.Time
}

type localHold struct {
	token   uuid.UUID
	expires time.Time
}

// NewLocalLease returns an empty LocalLease.
func NewLocalLease() *LocalLease {
	return &LocalLease{held: make(map[uuid.UUID]localHold), now: time.Now}
}

func (l *LocalLease) Acquire(_ context.Context, id uuid.UUID, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.held[id]; ok && now.Before(h.expires) {
		return nil, false, nil
	}

	token := uuid.New()
	l.held[id] = localHold{token: token, expires: now.Add(ttl)}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if h, ok := l.held[id]; ok && h.token == token {
			delete(l.held, id)
		}
	}, true, nil
}

// releaseScript deletes the key only if it still holds our token, so an
// expired holder never releases a lease someone else took over.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLease shares leases between processes through Redis.
type RedisLease struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLease stores leases under prefix:lease:<record id>.
func NewRedisLease(client redis.UniversalClient, prefix string) *RedisLease {
	return &RedisLease{client: client, prefix: prefix}
}

func (l *RedisLease) key(id uuid.UUID) string {
	return l.prefix + ":lease:" + id.String()
}

func (l *RedisLease) Acquire(ctx context.Context, id uuid.UUID, ttl time.Duration) (func(), bool, error) {
	key := l.key(id)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, errors.Wrapf(err, "acquire lease for record %s", id)
	}
	if !ok {
		return nil, false, nil
	}

	return func() {
		// The tick's context may already be done; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}, true, nil
}
