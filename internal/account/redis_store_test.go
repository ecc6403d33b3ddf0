package account

import (
	"context"
	"os"
	"testing"
	"time"

	xerrors "SafeSwap-Chain/internal/errors"
	storageredis "SafeSwap-Chain/internal/storage/redis"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisForTest connects to SAFESWAP_TEST_REDIS_ADDR or skips.
func redisForTest(t *testing.T) storageredis.Config {
	t.Helper()
	addr := os.Getenv("SAFESWAP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SAFESWAP_TEST_REDIS_ADDR not set")
	}
	cfg := storageredis.Config{Address: addr, KeyPrefix: "safeswap-test-" + uuid.NewString()[:8]}
	return cfg
}

func TestRedisStoreLifecycle(t *testing.T) {
	cfg := redisForTest(t)
	ctx := context.Background()

	store, err := OpenRedisStore(ctx, cfg)
	require.NoError(t, err)
	defer store.Close()

	acct, err := store.Login(ctx, userAddr)
	require.NoError(t, err)
	assert.True(t, acct.LoggedIn)
	assert.Equal(t, StateUnknown, acct.State)

	require.NoError(t, acct.Predict(safeAddr, "9", []common.Address{agentAddr, userAddr}, 1))
	require.NoError(t, store.Save(ctx, acct))

	require.NoError(t, store.Logout(ctx, userAddr))
	stored, err := store.Get(ctx, userAddr)
	require.NoError(t, err)
	assert.False(t, stored.LoggedIn)
	assert.Equal(t, safeAddr, stored.SafeAddress)
	assert.Equal(t, []common.Address{agentAddr, userAddr}, stored.Owners)

	stored.SafeAddress = otherSafe
	err = store.Save(ctx, stored)
	assert.Equal(t, xerrors.CodeSafeStateInvalid, xerrors.CodeOf(err))
}

func TestRedisLockerIsExclusive(t *testing.T) {
	cfg := redisForTest(t)
	ctx := context.Background()

	client, err := storageredis.NewClient(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()

	locker := NewRedisLocker(client, cfg.KeyPrefix, time.Minute)
	release, err := locker.Acquire(ctx, userAddr)
	require.NoError(t, err)
	_, err = locker.Acquire(ctx, userAddr)
	assert.Equal(t, xerrors.CodeSequenceBusy, xerrors.CodeOf(err))
	release()

	again, err := locker.Acquire(ctx, userAddr)
	require.NoError(t, err)
	again()
}

func TestRedisHashRoundTrip(t *testing.T) {
	acct := &Account{
		UserAddress:  userAddr,
		LoggedIn:     true,
		State:        StateDeployed,
		SafeAddress:  safeAddr,
		SaltNonce:    "123",
		Owners:       []common.Address{agentAddr, userAddr},
		Threshold:    1,
		DeploymentTx: deployTx,
		CreatedAt:    5,
		UpdatedAt:    6,
	}
	fields := encodeHash(acct)
	assert.Equal(t, userAddr.Hex(), fields[fieldUser])
	assert.Equal(t, safeAddr.Hex(), fields[fieldSafeAddress])

	values := make(map[string]string, len(fields))
	for k, v := range fields {
		values[k] = v.(string)
	}
	decoded, err := decodeHash(userAddr, values)
	require.NoError(t, err)
	assert.Equal(t, acct, decoded)

	values[fieldState] = "bogus"
	_, err = decodeHash(userAddr, values)
	assert.Error(t, err)
}
