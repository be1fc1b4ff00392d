package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockNotAcquired 在重试次数内未拿到锁
var ErrLockNotAcquired = errors.New("lock not acquired")

// LockOptions 锁参数
type LockOptions struct {
	TTL        time.Duration
	Tries      int
	RetryDelay time.Duration
}

func (o LockOptions) normalized() LockOptions {
	if o.TTL <= 0 {
		o.TTL = 15 * time.Second
	}
	if o.Tries <= 0 {
		o.Tries = 1
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 100 * time.Millisecond
	}
	return o
}

// Lock 已持有的锁
type Lock interface {
	Release(ctx context.Context) error
}

// Locker 带过期时间的互斥锁
type Locker interface {
	Acquire(ctx context.Context, key string) (Lock, error)
	Name() string
}

// OrderLockKey 订单锁键
func OrderLockKey(orderNo string) string {
	return "pay:order:" + orderNo
}

// RedisLocker 基于 redsync 的分布式锁
type RedisLocker struct {
	rs   *redsync.Redsync
	opts LockOptions
}

// NewRedisLocker 创建 redsync 锁
func NewRedisLocker(client *redis.Client, opts LockOptions) *RedisLocker {
	return &RedisLocker{
		rs:   redsync.New(goredis.NewPool(client)),
		opts: opts.normalized(),
	}
}

func (l *RedisLocker) Name() string { return "redis" }

func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lock, error) {
	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(l.opts.TTL),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		if isContention(err) {
			return nil, fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
		}
		return nil, err
	}
	return &redisLock{mutex: mutex}, nil
}

// isContention 区分锁被占用与 Redis 故障
func isContention(err error) bool {
	if errors.Is(err, redsync.ErrFailed) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var taken *redsync.ErrTaken
	return errors.As(err, &taken)
}

type redisLock struct {
	mutex *redsync.Mutex
}

func (l *redisLock) Release(ctx context.Context) error {
	ok, err := l.mutex.UnlockContext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lock %s already expired", l.mutex.Name())
	}
	return nil
}

// MemoryLocker 进程内锁，单实例部署或 Redis 不可用时使用
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	opts  LockOptions
	clock func() time.Time
}

type memoryEntry struct {
	token   string
	expires time.Time
}

// NewMemoryLocker 创建进程内锁
func NewMemoryLocker(opts LockOptions) *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]memoryEntry),
		opts:  opts.normalized(),
		clock: time.Now,
	}
}

func (l *MemoryLocker) Name() string { return "memory" }

func (l *MemoryLocker) tryAcquire(key, token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if entry, ok := l.held[key]; ok && now.Before(entry.expires) {
		return false
	}
	l.held[key] = memoryEntry{token: token, expires: now.Add(l.opts.TTL)}
	return true
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string) (Lock, error) {
	token := uuid.NewString()
	for i := 0; i < l.opts.Tries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, key, ctx.Err())
			case <-time.After(l.opts.RetryDelay):
			}
		}
		if l.tryAcquire(key, token) {
			return &memoryLock{locker: l, key: key, token: token}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
}

type memoryLock struct {
	locker *MemoryLocker
	key    string
	token  string
}

// Release 仅删除自己持有的锁，过期后被他人重新获取的锁不受影响
func (l *memoryLock) Release(ctx context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	entry, ok := l.locker.held[l.key]
	if !ok || entry.token != l.token {
		return fmt.Errorf("lock %s already expired", l.key)
	}
	delete(l.locker.held, l.key)
	return nil
}

// FallbackLocker Redis 优先；Redis 故障时降级到进程内锁
type FallbackLocker struct {
	primary  Locker
	fallback Locker
}

// NewFallbackLocker primary 为 nil 时直接使用 fallback
func NewFallbackLocker(primary, fallback Locker) *FallbackLocker {
	return &FallbackLocker{primary: primary, fallback: fallback}
}

func (l *FallbackLocker) Name() string {
	if l.primary == nil {
		return l.fallback.Name()
	}
	return l.primary.Name() + "+" + l.fallback.Name()
}

func (l *FallbackLocker) Acquire(ctx context.Context, key string) (Lock, error) {
	if l.primary == nil {
		return l.fallback.Acquire(ctx, key)
	}
	lock, err := l.primary.Acquire(ctx, key)
	if err == nil || errors.Is(err, ErrLockNotAcquired) {
		return lock, err
	}
	zap.L().Warn("Primary lock backend failed, falling back",
		zap.String("key", key),
		zap.String("backend", l.fallback.Name()),
		zap.Error(err))
	return l.fallback.Acquire(ctx, key)
}

// NewLocker 根据 Redis 可用性选择锁实现
func NewLocker(opts LockOptions) Locker {
	memory := NewMemoryLocker(opts)
	if !IsAvailable() {
		return memory
	}
	return NewFallbackLocker(NewRedisLocker(GetClient(), opts), memory)
}
