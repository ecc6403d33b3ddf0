// Package account owns the persisted wallet session: who is logged in and
// which Safe belongs to them. Every write goes through the state machine in
// this file, so the Safe address can only move forward from unknown to
// predicted to deployed.
package account

import (
	"fmt"
	"strings"
	"time"

	xerrors "SafeSwap-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// State is the lifecycle stage of a user's Safe.
type State string

const (
	StateUnknown   State = "unknown"
	StatePredicted State = "predicted"
	StateDeployed  State = "deployed"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateUnknown, StatePredicted, StateDeployed:
		return true
	}
	return false
}

// Account is the authoritative session record of one wallet user.
type Account struct {
	UserAddress  common.Address   `json:"user_address"`
	LoggedIn     bool             `json:"logged_in"`
	State        State            `json:"state"`
	SafeAddress  common.Address   `json:"safe_address"`
	SaltNonce    string           `json:"salt_nonce,omitempty"`
	Owners       []common.Address `json:"owners,omitempty"`
	Threshold    uint64           `json:"threshold,omitempty"`
	DeploymentTx common.Hash      `json:"deployment_tx"`
	CreatedAt    int64            `json:"created_at"`
	UpdatedAt    int64            `json:"updated_at"`
}

// New returns a fresh record for user.
func New(user common.Address) *Account {
	now := time.Now().Unix()
	return &Account{UserAddress: user, State: StateUnknown, CreatedAt: now, UpdatedAt: now}
}

// HasSafe reports whether a Safe address has been recorded.
func (a *Account) HasSafe() bool {
	return a != nil && a.SafeAddress != (common.Address{})
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Owners = append([]common.Address(nil), a.Owners...)
	return &clone
}

// Predict records a counterfactual Safe. Re-predicting is allowed only for
// the same address; a deployed Safe can no longer be replaced.
func (a *Account) Predict(safe common.Address, saltNonce string, owners []common.Address, threshold uint64) error {
	if safe == (common.Address{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "predicted safe address is empty")
	}
	next := a.Clone()
	next.State = StatePredicted
	next.SafeAddress = safe
	next.SaltNonce = saltNonce
	next.Owners = append([]common.Address(nil), owners...)
	next.Threshold = threshold
	if err := CheckTransition(a, next); err != nil {
		return err
	}
	*a = *next
	a.touch()
	return nil
}

// MarkDeployed records that the predicted Safe now has code on chain.
func (a *Account) MarkDeployed(safe common.Address, tx common.Hash) error {
	next := a.Clone()
	next.State = StateDeployed
	next.SafeAddress = safe
	if tx != (common.Hash{}) {
		next.DeploymentTx = tx
	}
	if err := CheckTransition(a, next); err != nil {
		return err
	}
	*a = *next
	a.touch()
	return nil
}

func (a *Account) touch() {
	a.UpdatedAt = time.Now().Unix()
}

// CheckTransition validates moving a stored record prev to next. A nil prev
// stands for a record that does not exist yet.
func CheckTransition(prev, next *Account) error {
	if next == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "account is nil")
	}
	if !next.State.Valid() {
		return invalidState("unknown state %q", next.State)
	}
	from := StateUnknown
	if prev != nil {
		from = prev.State
		if prev.UserAddress != next.UserAddress {
			return invalidState("account belongs to %s", prev.UserAddress.Hex())
		}
	}
	switch next.State {
	case StateUnknown:
		if next.HasSafe() {
			return invalidState("unknown account must not carry a safe address")
		}
		if from != StateUnknown {
			return invalidState("cannot move from %s back to unknown", from)
		}
	case StatePredicted:
		switch from {
		case StateUnknown:
		case StatePredicted:
			if prev.SafeAddress != next.SafeAddress {
				return invalidState("predicted safe %s cannot be replaced by %s", prev.SafeAddress.Hex(), next.SafeAddress.Hex())
			}
		default:
			return invalidState("cannot move from %s to predicted", from)
		}
	case StateDeployed:
		if from == StateUnknown {
			return xerrors.New(xerrors.CodeSafeNotPredicted, "safe must be predicted before deployment")
		}
		if prev.SafeAddress != next.SafeAddress {
			return invalidState("deployed safe %s does not match recorded %s", next.SafeAddress.Hex(), prev.SafeAddress.Hex())
		}
	}
	if next.State != StateUnknown && !next.HasSafe() {
		return invalidState("%s account needs a safe address", next.State)
	}
	return nil
}

func invalidState(format string, args ...any) error {
	return xerrors.New(xerrors.CodeSafeStateInvalid, fmt.Sprintf(format, args...))
}

// normalizeKey is the lowercase hex form used as a storage key.
func normalizeKey(user common.Address) string {
	return strings.ToLower(user.Hex())
}
