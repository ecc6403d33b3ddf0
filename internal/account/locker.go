package account

import (
	"context"
	"sync"
	"time"

	xerrors "SafeSwap-Chain/internal/errors"
	storageredis "SafeSwap-Chain/internal/storage/redis"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultLockTTL bounds how long a crashed holder can block a user.
const DefaultLockTTL = 5 * time.Minute

// Locker serialises sequences per user. Acquire never waits: a held lock
// yields SEQUENCE_BUSY.
type Locker interface {
	Acquire(ctx context.Context, user common.Address) (release func(), err error)
}

func busy(user common.Address) error {
	return xerrors.New(xerrors.CodeSequenceBusy, "another sequence is running for this user",
		xerrors.WithMetadata("user", user.Hex()))
}

// MemoryLocker 是进程内的用户锁。
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker 创建进程内锁。
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

// Acquire 尝试获取用户锁。
func (l *MemoryLocker) Acquire(_ context.Context, user common.Address) (func(), error) {
	key := normalizeKey(user)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, busy(user)
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// releaseScript 仅在令牌匹配时删除锁，避免释放他人在过期后取得的锁。
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 使用 SET NX PX 实现跨进程的用户锁。
type RedisLocker struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisLocker 创建 Redis 锁。
func NewRedisLocker(client goredis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl}
}

// Acquire 尝试获取用户锁。
func (l *RedisLocker) Acquire(ctx context.Context, user common.Address) (func(), error) {
	key := storageredis.Key(l.prefix, "lock", normalizeKey(user))
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取 Redis 用户锁失败")
	}
	if !ok {
		return nil, busy(user)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
		})
	}, nil
}
