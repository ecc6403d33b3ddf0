package account

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	xerrors "SafeSwap-Chain/internal/errors"
	storageredis "SafeSwap-Chain/internal/storage/redis"

	"github.com/ethereum/go-ethereum/common"
	goredis "github.com/redis/go-redis/v9"
)

// Redis 哈希字段。user 与 safeAddress 与浏览器端的存储键保持一致。
const (
	fieldUser         = "user"
	fieldSafeAddress  = "safeAddress"
	fieldState        = "state"
	fieldSaltNonce    = "saltNonce"
	fieldOwners       = "owners"
	fieldThreshold    = "threshold"
	fieldDeploymentTx = "deploymentTx"
	fieldCreatedAt    = "createdAt"
	fieldUpdatedAt    = "updatedAt"
)

const redisSaveAttempts = 3

// hashReader is satisfied by both the client and a WATCH transaction.
type hashReader interface {
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
}

// RedisStore 以每个用户一个哈希的形式保存账户。
type RedisStore struct {
	client goredis.UniversalClient
	prefix string
	owned  bool
}

// NewRedisStore 使用已有的客户端创建账户存储，调用方负责关闭客户端。
func NewRedisStore(client goredis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// OpenRedisStore 连接 Redis 并创建账户存储。
func OpenRedisStore(ctx context.Context, cfg storageredis.Config) (*RedisStore, error) {
	client, err := storageredis.NewClient(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 Redis 账户存储失败")
	}
	return &RedisStore{client: client, prefix: cfg.KeyPrefix, owned: true}, nil
}

func (s *RedisStore) key(user common.Address) string {
	return storageredis.Key(s.prefix, "account", normalizeKey(user))
}

// Login 写入 user 字段，首次登录时初始化账户。
func (s *RedisStore) Login(ctx context.Context, user common.Address) (*Account, error) {
	key := s.key(user)
	now := strconv.FormatInt(time.Now().Unix(), 10)
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldState, string(StateUnknown))
		pipe.HSetNX(ctx, key, fieldCreatedAt, now)
		pipe.HSet(ctx, key, fieldUser, user.Hex(), fieldUpdatedAt, now)
		return nil
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 登录写入失败")
	}
	return s.Get(ctx, user)
}

// Logout 清空 user 字段，safeAddress 保持不变。
func (s *RedisStore) Logout(ctx context.Context, user common.Address) error {
	key := s.key(user)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 查询账户失败")
	}
	if exists == 0 {
		return nil
	}
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if err := s.client.HSet(ctx, key, fieldUser, "", fieldUpdatedAt, now).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 登出写入失败")
	}
	return nil
}

// Get 读取账户哈希。
func (s *RedisStore) Get(ctx context.Context, user common.Address) (*Account, error) {
	return s.load(ctx, s.client, user)
}

func (s *RedisStore) load(ctx context.Context, c hashReader, user common.Address) (*Account, error) {
	values, err := c.HGetAll(ctx, s.key(user)).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 读取账户失败")
	}
	if len(values) == 0 {
		return nil, xerrors.New(xerrors.CodeNotFound, "account not found")
	}
	return decodeHash(user, values)
}

// Save 在 WATCH 事务内校验状态迁移并写入。
func (s *RedisStore) Save(ctx context.Context, acct *Account) error {
	if acct == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "account is nil")
	}
	key := s.key(acct.UserAddress)
	txf := func(tx *goredis.Tx) error {
		prev, err := s.load(ctx, tx, acct.UserAddress)
		if err != nil && xerrors.CodeOf(err) != xerrors.CodeNotFound {
			return err
		}
		if err := CheckTransition(prev, acct); err != nil {
			return err
		}
		fields := encodeHash(acct)
		if prev != nil {
			// 登录状态只由 Login/Logout 维护。
			delete(fields, fieldUser)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			return nil
		})
		return err
	}
	for attempt := 0; attempt < redisSaveAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if _, ok := xerrors.From(err); ok {
			return err
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 保存账户失败")
	}
	return xerrors.New(xerrors.CodeConflict, "account was modified concurrently")
}

// Close 关闭由本存储创建的客户端。
func (s *RedisStore) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

func encodeHash(acct *Account) map[string]any {
	owners := make([]string, len(acct.Owners))
	for i, o := range acct.Owners {
		owners[i] = o.Hex()
	}
	safe := ""
	if acct.HasSafe() {
		safe = acct.SafeAddress.Hex()
	}
	tx := ""
	if acct.DeploymentTx != (common.Hash{}) {
		tx = acct.DeploymentTx.Hex()
	}
	user := ""
	if acct.LoggedIn {
		user = acct.UserAddress.Hex()
	}
	updated := acct.UpdatedAt
	if updated == 0 {
		updated = time.Now().Unix()
	}
	return map[string]any{
		fieldUser:         user,
		fieldSafeAddress:  safe,
		fieldState:        string(acct.State),
		fieldSaltNonce:    acct.SaltNonce,
		fieldOwners:       strings.Join(owners, ","),
		fieldThreshold:    strconv.FormatUint(acct.Threshold, 10),
		fieldDeploymentTx: tx,
		fieldCreatedAt:    strconv.FormatInt(acct.CreatedAt, 10),
		fieldUpdatedAt:    strconv.FormatInt(updated, 10),
	}
}

func decodeHash(user common.Address, values map[string]string) (*Account, error) {
	acct := &Account{
		UserAddress: user,
		LoggedIn:    values[fieldUser] != "",
		State:       State(values[fieldState]),
		SaltNonce:   values[fieldSaltNonce],
	}
	if acct.State == "" {
		acct.State = StateUnknown
	}
	if !acct.State.Valid() {
		return nil, xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("stored account has invalid state %q", acct.State))
	}
	if raw := values[fieldSafeAddress]; raw != "" {
		if !common.IsHexAddress(raw) {
			return nil, xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("stored safe address %q is invalid", raw))
		}
		acct.SafeAddress = common.HexToAddress(raw)
	}
	if raw := values[fieldOwners]; raw != "" {
		for _, o := range strings.Split(raw, ",") {
			acct.Owners = append(acct.Owners, common.HexToAddress(o))
		}
	}
	if raw := values[fieldDeploymentTx]; raw != "" {
		acct.DeploymentTx = common.HexToHash(raw)
	}
	acct.Threshold, _ = strconv.ParseUint(values[fieldThreshold], 10, 64)
	acct.CreatedAt, _ = strconv.ParseInt(values[fieldCreatedAt], 10, 64)
	acct.UpdatedAt, _ = strconv.ParseInt(values[fieldUpdatedAt], 10, 64)
	return acct, nil
}
