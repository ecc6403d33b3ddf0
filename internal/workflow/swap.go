package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"SafeSwap-Chain/internal/account"
	"SafeSwap-Chain/internal/cow"
	xerrors "SafeSwap-Chain/internal/errors"
	"SafeSwap-Chain/internal/safe"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SwapStage is how far InitSwap got. It is reported with partial failures.
type SwapStage string

const (
	StageValidated      SwapStage = "validated"
	StageOrderSubmitted SwapStage = "order_submitted"
	StageOrderPosted    SwapStage = "order_posted"
	StagePreSignBuilt   SwapStage = "presign_built"
	StageSafeTxCreated  SwapStage = "safe_tx_created"
	StageExecuted       SwapStage = "executed"
	StageConfirmed      SwapStage = "confirmed"
)

// SwapResult describes an initiated swap.
type SwapResult struct {
	SafeAddress common.Address `json:"safe_address"`
	OrderUID    string         `json:"order_uid,omitempty"`
	SellAmount  string         `json:"sell_amount,omitempty"`
	BuyAmount   string         `json:"buy_amount,omitempty"`
	ValidTo     uint32         `json:"valid_to,omitempty"`
	SafeTxHash  common.Hash    `json:"safe_tx_hash"`
	TxHash      common.Hash    `json:"tx_hash"`
	BlockNumber uint64         `json:"block_number,omitempty"`
	Stage       SwapStage      `json:"stage"`
}

// InitSwap posts the configured sell order for the user's Safe and
// authorises it on chain with setPreSignature executed through the Safe as
// a single CALL. Once the order reached the relay nothing is retried or
// rolled back; a failure from then on returns the partial result together
// with a PARTIAL_EXECUTION error.
func (s *Service) InitSwap(ctx context.Context, user common.Address) (result *SwapResult, err error) {
	if s.trading == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "swap relay is not configured")
	}
	if _, err := s.session(ctx, user); err != nil {
		return nil, err
	}
	finish, err := s.begin(ctx, "init_swap", user)
	if err != nil {
		return nil, err
	}
	defer func() { finish(err) }()

	acct, err := s.session(ctx, user)
	if err != nil {
		return nil, err
	}
	switch acct.State {
	case account.StateUnknown:
		return nil, xerrors.New(xerrors.CodeSafeNotPredicted, "create and deploy the safe before swapping")
	case account.StatePredicted:
		return nil, xerrors.New(xerrors.CodeSafeNotDeployed, "deploy the safe before swapping")
	}

	kit, err := s.kit(ctx)
	if err != nil {
		return nil, err
	}
	kit = kit.Connect(acct.SafeAddress)
	if err := s.validateSafe(ctx, kit); err != nil {
		return nil, err
	}
	s.checkAllowance(ctx, acct.SafeAddress)

	result = &SwapResult{SafeAddress: acct.SafeAddress, Stage: StageValidated}
	posted, err := s.trading.PostSwapOrder(ctx, cow.TradeParameters{
		Kind:              cow.OrderKindSell,
		SellToken:         s.swap.SellToken,
		SellTokenDecimals: s.swap.SellTokenDecimals,
		BuyToken:          s.swap.BuyToken,
		BuyTokenDecimals:  s.swap.BuyTokenDecimals,
		Amount:            s.swap.Amount,
		SlippageBps:       s.swap.SlippageBps,
		ValidFor:          s.swap.ValidFor,
	}, acct.SafeAddress)
	if err != nil {
		var submitErr *cow.SubmitError
		if errors.As(err, &submitErr) && !submitErr.Rejected() {
			result.Stage = StageOrderSubmitted
			result.ValidTo = submitErr.Order.ValidTo
			return result, relayError(err)
		}
		return nil, relayError(err)
	}
	result.OrderUID = posted.UID
	result.SellAmount = posted.Order.SellAmount
	result.BuyAmount = posted.Order.BuyAmount
	result.ValidTo = posted.Order.ValidTo
	result.Stage = StageOrderPosted
	s.log.Info("swap order posted",
		"user", user.Hex(),
		"safe_address", acct.SafeAddress.Hex(),
		"order_uid", posted.UID,
		"sell_amount", posted.Order.SellAmount,
		"buy_amount", posted.Order.BuyAmount,
	)

	preSign, err := s.trading.GetPreSignTransaction(ctx, posted.UID, acct.SafeAddress)
	if err != nil {
		return result, partial(err, "build pre-signature transaction", result)
	}
	result.Stage = StagePreSignBuilt

	call := safe.MetaTransaction{
		To:        preSign.To,
		Value:     preSign.Value,
		Data:      preSign.Data,
		Operation: safe.Call,
	}
	safeTx, err := kit.CreateTransaction(ctx, safe.CreateTransactionOptions{
		Transactions: []safe.MetaTransaction{call},
		OnlyCalls:    true,
	})
	if err != nil {
		return result, partial(err, "create safe transaction", result)
	}
	if err := sameCall(call, safeTx.Data.MetaTransaction); err != nil {
		return result, partial(err, "create safe transaction", result)
	}
	if result.SafeTxHash, err = kit.TransactionHash(safeTx); err != nil {
		return result, partial(err, "hash safe transaction", result)
	}
	result.Stage = StageSafeTxCreated

	exec, err := kit.ExecuteTransaction(ctx, safeTx)
	if err != nil {
		return result, partial(err, "execute safe transaction", result)
	}
	result.TxHash = exec.Transaction.Hash()
	result.Stage = StageExecuted
	s.log.Info("swap pre-signature sent",
		"user", user.Hex(),
		"safe_address", acct.SafeAddress.Hex(),
		"order_uid", posted.UID,
		"safe_tx_hash", result.SafeTxHash.Hex(),
		"tx_hash", result.TxHash.Hex(),
	)

	waitCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()
	receipt, err := kit.WaitForExecution(waitCtx, exec)
	if receipt != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if err != nil {
		if errors.Is(err, safe.ErrExecutionFailed) || (receipt != nil && receipt.Status != types.ReceiptStatusSuccessful) {
			return result, xerrors.Wrap(xerrors.CodeTxReverted, err, "safe transaction failed",
				xerrors.WithMetadata("order_uid", result.OrderUID),
				xerrors.WithMetadata("tx_hash", result.TxHash.Hex()),
				xerrors.WithMetadata("stage", string(result.Stage)),
				xerrors.WithRetryable(false),
			)
		}
		return result, partial(err, "wait for safe transaction", result)
	}
	result.Stage = StageConfirmed
	s.log.Info("swap initiated",
		"user", user.Hex(),
		"safe_address", acct.SafeAddress.Hex(),
		"order_uid", posted.UID,
		"tx_hash", result.TxHash.Hex(),
		"block_number", result.BlockNumber,
	)
	return result, nil
}

// validateSafe re-checks on chain that the recorded Safe exists and that
// the agent can still execute through it.
func (s *Service) validateSafe(ctx context.Context, kit *safe.Kit) error {
	deployed, err := kit.IsDeployed(ctx)
	if err != nil {
		return chainError(err, "check safe code")
	}
	if !deployed {
		return xerrors.New(xerrors.CodeSafeStateInvalid, "recorded safe has no code on chain",
			xerrors.WithMetadata("safe_address", kit.Address().Hex()))
	}
	owner, err := kit.IsOwner(ctx, s.signer.Address())
	if err != nil {
		return chainError(err, "read safe owners")
	}
	if !owner {
		return xerrors.New(xerrors.CodeSafeStateInvalid, "agent is no longer a safe owner",
			xerrors.WithMetadata("safe_address", kit.Address().Hex()))
	}
	return nil
}

// checkAllowance warns when the vault relayer cannot pull the sell token;
// the order would be posted but never filled.
func (s *Service) checkAllowance(ctx context.Context, owner common.Address) {
	allowance, err := cow.Allowance(ctx, s.chain, s.swap.SellToken, owner, cow.DefaultVaultRelayer)
	if err != nil {
		s.log.Warn("allowance check skipped", "safe_address", owner.Hex(), "error", err.Error())
		return
	}
	if allowance.Sign() == 0 {
		s.log.Warn("vault relayer has no allowance for the sell token",
			"safe_address", owner.Hex(),
			"token", s.swap.SellToken.Hex(),
		)
	}
}

func sameCall(want, got safe.MetaTransaction) error {
	if got.Operation != safe.Call {
		return fmt.Errorf("safe transaction uses %s, want call", got.Operation)
	}
	if got.To != want.To || !sameValue(got.Value, want.Value) || !bytes.Equal(got.Data, want.Data) {
		return errors.New("safe transaction does not carry the pre-signature call")
	}
	return nil
}

func sameValue(a, b *big.Int) bool {
	if a == nil {
		a = new(big.Int)
	}
	if b == nil {
		b = new(big.Int)
	}
	return a.Cmp(b) == 0
}

func relayError(err error) error {
	var submitErr *cow.SubmitError
	if errors.As(err, &submitErr) && !submitErr.Rejected() {
		// The POST may have reached the book; a replay would quote again and
		// post a second order with another validTo.
		return xerrors.Wrap(xerrors.CodePartialExecution, err, "order submission outcome unknown",
			xerrors.WithMetadata("stage", string(StageOrderSubmitted)),
			xerrors.WithMetadata("valid_to", strconv.FormatUint(uint64(submitErr.Order.ValidTo), 10)),
			xerrors.WithRetryable(false),
		)
	}
	var apiErr *cow.APIError
	if errors.As(err, &apiErr) {
		return xerrors.Wrap(xerrors.CodeRelayFailure, err, "order relay rejected the swap",
			xerrors.WithMetadata("error_type", apiErr.ErrorType),
			xerrors.WithRetryable(submitErr == nil && apiErr.Temporary()),
		)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "order relay timed out")
	}
	return xerrors.Wrap(xerrors.CodeRelayFailure, err, "prepare swap order")
}

func partial(err error, message string, result *SwapResult) error {
	return xerrors.Wrap(xerrors.CodePartialExecution, err, message,
		xerrors.WithMetadata("order_uid", result.OrderUID),
		xerrors.WithMetadata("stage", string(result.Stage)),
		xerrors.WithRetryable(false),
	)
}
