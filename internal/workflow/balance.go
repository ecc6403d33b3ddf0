package workflow

import (
	"context"
	"math/big"

	xerrors "SafeSwap-Chain/internal/errors"
	"SafeSwap-Chain/internal/units"

	"github.com/ethereum/go-ethereum/common"
)

// balanceDisplayWidth is the number of characters a balance is cut to.
const balanceDisplayWidth = 7

// FormatBalance renders wei in ether units without trailing zeros, cut to
// seven characters.
func FormatBalance(wei *big.Int) string {
	if wei == nil || wei.Sign() == 0 {
		return "0"
	}
	s := units.FormatEther(wei)
	if len(s) > balanceDisplayWidth {
		s = s[:balanceDisplayWidth]
	}
	return s
}

// Balance is one native balance reading.
type Balance struct {
	Address common.Address `json:"address"`
	Wei     string         `json:"wei,omitempty"`
	Display string         `json:"display"`
	Error   string         `json:"error,omitempty"`
}

// Wallet is what the wallet card shows.
type Wallet struct {
	Network    Network        `json:"network"`
	User       Balance        `json:"user"`
	Safe       *Balance       `json:"safe,omitempty"`
	AgentOwner common.Address `json:"agent_owner"`
	SafeAppURL string         `json:"safe_app_url,omitempty"`
	SafeState  string         `json:"safe_state"`
}

// Balances reads the user and Safe balances independently; a failed read
// is reported on its entry and does not hide the other one.
func (s *Service) Balances(ctx context.Context, user common.Address) (*Wallet, error) {
	if err := s.requireChain(); err != nil {
		return nil, err
	}
	wallet := &Wallet{
		Network:    s.network,
		User:       s.readBalance(ctx, user),
		AgentOwner: s.signer.Address(),
		SafeState:  "unknown",
	}
	acct, err := s.accounts.Get(ctx, user)
	if err != nil && xerrors.CodeOf(err) != xerrors.CodeNotFound {
		return nil, err
	}
	if acct != nil {
		wallet.SafeState = string(acct.State)
		if acct.HasSafe() {
			safeBalance := s.readSafeBalance(ctx, acct.SafeAddress)
			wallet.Safe = &safeBalance
			wallet.SafeAppURL = SafeAppURL(s.network.ShortName, acct.SafeAddress)
		}
	}
	return wallet, nil
}

func (s *Service) readBalance(ctx context.Context, address common.Address) Balance {
	wei, err := s.chain.BalanceAt(ctx, address, nil)
	return newBalance(address, wei, err)
}

// readSafeBalance reads the Safe side through the kit bound to address.
func (s *Service) readSafeBalance(ctx context.Context, address common.Address) Balance {
	kit, err := s.kit(ctx)
	if err != nil {
		return newBalance(address, nil, err)
	}
	wei, err := kit.Connect(address).Balance(ctx)
	return newBalance(address, wei, err)
}

func newBalance(address common.Address, wei *big.Int, err error) Balance {
	b := Balance{Address: address}
	if err != nil {
		b.Display = "-"
		b.Error = err.Error()
		return b
	}
	b.Wei = wei.String()
	b.Display = FormatBalance(wei)
	return b
}
