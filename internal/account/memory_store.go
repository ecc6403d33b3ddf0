package account

import (
	"context"
	"sync"
	"time"

	xerrors "SafeSwap-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore 是进程内的账户存储，适用于开发和测试。
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewMemoryStore 创建内存账户存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*Account)}
}

// Login 标记用户已登录。
func (s *MemoryStore) Login(_ context.Context, user common.Address) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalizeKey(user)
	acct, ok := s.accounts[key]
	if !ok {
		acct = New(user)
		s.accounts[key] = acct
	}
	acct.LoggedIn = true
	acct.UpdatedAt = time.Now().Unix()
	return acct.Clone(), nil
}

// Logout 清除登录标记。
func (s *MemoryStore) Logout(_ context.Context, user common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.accounts[normalizeKey(user)]; ok {
		acct.LoggedIn = false
		acct.UpdatedAt = time.Now().Unix()
	}
	return nil
}

// Get 返回账户副本。
func (s *MemoryStore) Get(_ context.Context, user common.Address) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[normalizeKey(user)]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "account not found")
	}
	return acct.Clone(), nil
}

// Save 校验状态迁移后写入账户。
func (s *MemoryStore) Save(_ context.Context, acct *Account) error {
	if acct == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "account is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalizeKey(acct.UserAddress)
	prev := s.accounts[key]
	if err := CheckTransition(prev, acct); err != nil {
		return err
	}
	next := acct.Clone()
	if prev != nil && next.CreatedAt == 0 {
		next.CreatedAt = prev.CreatedAt
	}
	s.accounts[key] = next
	return nil
}

// Close 实现 Store 接口。
func (s *MemoryStore) Close() error { return nil }
