package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// UploadLocker serialises uploads for one (user, category). The returned release func
// is always safe to call.
type UploadLocker interface {
	Lock(ctx context.Context, userID, categoryID string) (func(), error)
}

// NoopLocker accepts the concurrent-upload race; reconciliation happens on the next
// upload or through the reconcile command.
type NoopLocker struct{}

func (NoopLocker) Lock(context.Context, string, string) (func(), error) {
	return func() {}, nil
}

// KeyedMutex is an in-process lock per (user, category). It only serialises requests
// handled by the same API instance.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

func lockKey(userID, categoryID string) string {
	return userID + "\x00" + categoryID
}

func (k *KeyedMutex) Lock(ctx context.Context, userID, categoryID string) (func(), error) {
	key := lockKey(userID, categoryID)

	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		k.unref(key, entry)
		return func() {}, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			k.unref(key, entry)
		})
	}, nil
}

func (k *KeyedMutex) unref(key string, entry *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
}

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a cluster-wide lock using SET NX PX with a random token.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl, retry: 100 * time.Millisecond}
}

func (r *RedisLocker) Lock(ctx context.Context, userID, categoryID string) (func(), error) {
	key := fmt.Sprintf("kyc:upload-lock:%s:%s", userID, categoryID)
	token := uuid.NewString()

	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return func() {}, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return func() {}, fmt.Errorf("%w: %v", ErrLockNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, r.client, []string{key}, token).Err()
		})
	}, nil
}
