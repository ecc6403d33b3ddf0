package account

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Store persists accounts. Save validates the transition against the stored
// record atomically, so two writers cannot move one Safe backwards.
type Store interface {
	// Login marks user as logged in, creating the record on first login.
	Login(ctx context.Context, user common.Address) (*Account, error)
	// Logout clears the login flag. The Safe address is kept.
	Logout(ctx context.Context, user common.Address) error
	// Get returns the record of user or a NOT_FOUND error.
	Get(ctx context.Context, user common.Address) (*Account, error)
	// Save writes acct after CheckTransition against the stored record.
	Save(ctx context.Context, acct *Account) error
	Close() error
}
