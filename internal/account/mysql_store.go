package account

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "SafeSwap-Chain/internal/errors"
	storagemysql "SafeSwap-Chain/internal/storage/mysql"

	"github.com/ethereum/go-ethereum/common"
)

const accountColumns = `user_address, logged_in, state, safe_address, salt_nonce, owners, threshold, deployment_tx, created_at, updated_at`

// MySQLStore 使用 accounts 表保存账户。
type MySQLStore struct {
	db    *sql.DB
	owned bool
}

// NewMySQLStore 基于已迁移的连接池创建存储，连接池由调用方关闭。
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// OpenMySQLStore 打开连接、执行迁移并创建存储。
func OpenMySQLStore(ctx context.Context, cfg storagemysql.Config) (*MySQLStore, error) {
	db, err := storagemysql.OpenAndMigrate(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 MySQL 账户存储失败")
	}
	return &MySQLStore{db: db, owned: true}, nil
}

// Login 插入或更新登录标记。
func (s *MySQLStore) Login(ctx context.Context, user common.Address) (*Account, error) {
	now := time.Now().Unix()
	const stmt = `INSERT INTO accounts (user_address, logged_in, state, created_at, updated_at)
        VALUES (?, 1, ?, ?, ?)
        ON DUPLICATE KEY UPDATE logged_in = 1, updated_at = VALUES(updated_at)`
	if _, err := s.db.ExecContext(ctx, stmt, normalizeKey(user), string(StateUnknown), now, now); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入登录状态失败")
	}
	return s.Get(ctx, user)
}

// Logout 清除登录标记。
func (s *MySQLStore) Logout(ctx context.Context, user common.Address) error {
	const stmt = `UPDATE accounts SET logged_in = 0, updated_at = ? WHERE user_address = ?`
	if _, err := s.db.ExecContext(ctx, stmt, time.Now().Unix(), normalizeKey(user)); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入登出状态失败")
	}
	return nil
}

// Get 查询账户。
func (s *MySQLStore) Get(ctx context.Context, user common.Address) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_address = ?`, normalizeKey(user))
	return scanAccount(row)
}

// Save 在事务中锁定当前行，校验状态迁移后写入。
func (s *MySQLStore) Save(ctx context.Context, acct *Account) error {
	if acct == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "account is nil")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启账户事务失败")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_address = ? FOR UPDATE`, normalizeKey(acct.UserAddress))
	prev, err := scanAccount(row)
	if err != nil && xerrors.CodeOf(err) != xerrors.CodeNotFound {
		return err
	}
	if err := CheckTransition(prev, acct); err != nil {
		return err
	}

	updated := acct.UpdatedAt
	if updated == 0 {
		updated = time.Now().Unix()
	}
	created := acct.CreatedAt
	if created == 0 {
		created = updated
	}
	const stmt = `INSERT INTO accounts (` + accountColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE state = VALUES(state), safe_address = VALUES(safe_address),
            salt_nonce = VALUES(salt_nonce), owners = VALUES(owners), threshold = VALUES(threshold),
            deployment_tx = VALUES(deployment_tx), updated_at = VALUES(updated_at)`
	if _, err := tx.ExecContext(ctx, stmt,
		normalizeKey(acct.UserAddress),
		acct.LoggedIn,
		string(acct.State),
		safeColumn(acct),
		acct.SaltNonce,
		joinOwners(acct.Owners),
		acct.Threshold,
		hashColumn(acct.DeploymentTx),
		created,
		updated,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存账户失败")
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交账户事务失败")
	}
	return nil
}

// Close 关闭连接池。
func (s *MySQLStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		user, state, safe, salt, tx string
		owners                      sql.NullString
		loggedIn                    bool
		threshold                   uint64
		created, updated            int64
	)
	if err := row.Scan(&user, &loggedIn, &state, &safe, &salt, &owners, &threshold, &tx, &created, &updated); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, xerrors.New(xerrors.CodeNotFound, "account not found")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取账户失败")
	}
	acct := &Account{
		UserAddress: common.HexToAddress(user),
		LoggedIn:    loggedIn,
		State:       State(state),
		SaltNonce:   salt,
		Threshold:   threshold,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}
	if !acct.State.Valid() {
		return nil, xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("stored account has invalid state %q", state))
	}
	if safe != "" {
		acct.SafeAddress = common.HexToAddress(safe)
	}
	if tx != "" {
		acct.DeploymentTx = common.HexToHash(tx)
	}
	if owners.Valid && owners.String != "" {
		for _, o := range strings.Split(owners.String, ",") {
			acct.Owners = append(acct.Owners, common.HexToAddress(o))
		}
	}
	return acct, nil
}

func safeColumn(acct *Account) string {
	if !acct.HasSafe() {
		return ""
	}
	return acct.SafeAddress.Hex()
}

func hashColumn(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}

func joinOwners(owners []common.Address) string {
	parts := make([]string, len(owners))
	for i, o := range owners {
		parts[i] = o.Hex()
	}
	return strings.Join(parts, ",")
}
