package workflow

import (
	"context"
	"fmt"

	"SafeSwap-Chain/internal/account"
	xerrors "SafeSwap-Chain/internal/errors"
	"SafeSwap-Chain/internal/safe"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SafeInfo is the provisioning result.
type SafeInfo struct {
	Address   common.Address   `json:"address"`
	SaltNonce string           `json:"salt_nonce"`
	Owners    []common.Address `json:"owners"`
	Threshold uint64           `json:"threshold"`
	State     account.State    `json:"state"`
	AppURL    string           `json:"app_url,omitempty"`
}

// DeployResult is the outcome of Deploy.
type DeployResult struct {
	SafeAddress common.Address `json:"safe_address"`
	TxHash      common.Hash    `json:"tx_hash"`
	BlockNumber uint64         `json:"block_number"`
	// AlreadyDeployed is set when code was found and nothing was sent.
	AlreadyDeployed bool `json:"already_deployed"`
}

// SafeStatus is one fresh on-chain reading of the user's Safe.
type SafeStatus struct {
	Address   common.Address   `json:"address"`
	Deployed  bool             `json:"deployed"`
	Owners    []common.Address `json:"owners"`
	Threshold uint64           `json:"threshold"`
	State     account.State    `json:"state"`
	// OwnersChanged is set when the on-chain owners no longer match the
	// owners recorded at provisioning.
	OwnersChanged bool `json:"owners_changed,omitempty"`
}

// Provision predicts the user's Safe and records it without deploying. It
// requires a logged-in session; without one nothing is persisted.
func (s *Service) Provision(ctx context.Context, user common.Address) (info *SafeInfo, err error) {
	acct, err := s.session(ctx, user)
	if err != nil {
		return nil, err
	}
	finish, err := s.begin(ctx, "provision", user)
	if err != nil {
		return nil, err
	}
	defer func() { finish(err) }()

	// Reload under the lock.
	if acct, err = s.session(ctx, user); err != nil {
		return nil, err
	}
	if acct.State == account.StateDeployed {
		return s.safeInfo(acct), nil
	}

	kit, err := s.kit(ctx)
	if err != nil {
		return nil, err
	}
	predicted, err := s.predictedConfig(acct, kit)
	if err != nil {
		return nil, err
	}
	predictedKit, err := kit.WithPredictedSafe(ctx, predicted)
	if err != nil {
		return nil, chainError(err, "predict safe address")
	}
	address := predictedKit.Address()
	if err := acct.Predict(address, predicted.SaltNonce, predicted.Owners, predicted.Threshold); err != nil {
		return nil, err
	}
	if err := s.accounts.Save(ctx, acct); err != nil {
		return nil, err
	}

	info = s.safeInfo(acct)
	s.log.Info("safe predicted",
		"user", user.Hex(),
		"safe_address", address.Hex(),
		"salt_nonce", predicted.SaltNonce,
		"app_url", info.AppURL,
	)
	return info, nil
}

// predictedConfig builds the owner pair and picks the salt nonce. A Safe
// that is already predicted keeps its nonce so the address cannot drift.
func (s *Service) predictedConfig(acct *account.Account, kit *safe.Kit) (safe.PredictedSafe, error) {
	owners := []common.Address{s.signer.Address(), acct.UserAddress}
	cfg := safe.AccountConfig{Owners: owners, Threshold: SafeThreshold}
	if err := cfg.Validate(); err != nil {
		return safe.PredictedSafe{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid safe owners")
	}
	nonce := acct.SaltNonce
	if acct.State != account.StatePredicted || nonce == "" {
		switch s.saltMode {
		case SaltRandom:
			random, err := safe.RandomSaltNonce()
			if err != nil {
				return safe.PredictedSafe{}, err
			}
			nonce = random
		default:
			nonce = safe.DeriveSaltNonce(kit.ChainID(), owners)
		}
	}
	return safe.PredictedSafe{AccountConfig: cfg, SaltNonce: nonce}, nil
}

func (s *Service) safeInfo(acct *account.Account) *SafeInfo {
	return &SafeInfo{
		Address:   acct.SafeAddress,
		SaltNonce: acct.SaltNonce,
		Owners:    append([]common.Address(nil), acct.Owners...),
		Threshold: acct.Threshold,
		State:     acct.State,
		AppURL:    SafeAppURL(s.network.ShortName, acct.SafeAddress),
	}
}

// Deploy submits the deployment of the predicted Safe, waits for one
// confirmation, checks the code and records the Safe as deployed.
func (s *Service) Deploy(ctx context.Context, user common.Address) (result *DeployResult, err error) {
	if _, err := s.session(ctx, user); err != nil {
		return nil, err
	}
	finish, err := s.begin(ctx, "deploy", user)
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
		return nil, xerrors.New(xerrors.CodeSafeNotPredicted, "create the safe before deploying it")
	case account.StateDeployed:
		return &DeployResult{SafeAddress: acct.SafeAddress, TxHash: acct.DeploymentTx, AlreadyDeployed: true}, nil
	}

	kit, err := s.kit(ctx)
	if err != nil {
		return nil, err
	}
	predictedKit, err := kit.WithPredictedSafe(ctx, safe.PredictedSafe{
		AccountConfig: safe.AccountConfig{Owners: acct.Owners, Threshold: acct.Threshold},
		SaltNonce:     acct.SaltNonce,
	})
	if err != nil {
		return nil, chainError(err, "predict safe address")
	}
	if predictedKit.Address() != acct.SafeAddress {
		return nil, xerrors.New(xerrors.CodeSafeStateInvalid,
			fmt.Sprintf("recorded safe %s does not match prediction %s", acct.SafeAddress.Hex(), predictedKit.Address().Hex()))
	}

	deployed, err := predictedKit.IsDeployed(ctx)
	if err != nil {
		return nil, chainError(err, "check safe code")
	}
	result = &DeployResult{SafeAddress: acct.SafeAddress}
	if deployed {
		result.AlreadyDeployed = true
	} else {
		tx, err := predictedKit.SendDeployment(ctx)
		if err != nil {
			return nil, chainError(err, "send safe deployment")
		}
		result.TxHash = tx.Hash()
		s.log.Info("safe deployment sent", "user", user.Hex(), "safe_address", acct.SafeAddress.Hex(), "tx_hash", tx.Hash().Hex())

		receipt, err := s.waitMined(ctx, tx)
		if err != nil {
			return result, afterBroadcast(err, "wait for safe deployment", result.TxHash)
		}
		result.BlockNumber = receipt.BlockNumber.Uint64()
		if receipt.Status != types.ReceiptStatusSuccessful {
			return result, xerrors.New(xerrors.CodeTxReverted, "safe deployment reverted",
				xerrors.WithMetadata("tx_hash", tx.Hash().Hex()))
		}
		if deployed, err = predictedKit.IsDeployed(ctx); err != nil {
			return result, afterBroadcast(err, "verify safe code", result.TxHash)
		}
		if !deployed {
			return result, xerrors.New(xerrors.CodeSafeStateInvalid, "no code at the predicted address after deployment",
				xerrors.WithMetadata("tx_hash", tx.Hash().Hex()))
		}
	}

	if err := acct.MarkDeployed(acct.SafeAddress, result.TxHash); err != nil {
		return result, err
	}
	if err := s.accounts.Save(ctx, acct); err != nil {
		return result, err
	}
	s.log.Info("safe deployed",
		"user", user.Hex(),
		"safe_address", acct.SafeAddress.Hex(),
		"tx_hash", result.TxHash.Hex(),
		"salt_nonce", acct.SaltNonce,
		"app_url", SafeAppURL(s.network.ShortName, acct.SafeAddress),
	)
	return result, nil
}

func (s *Service) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()
	return s.chain.WaitMined(ctx, tx.Hash())
}

// afterBroadcast marks a failure that happened once a transaction was on
// the wire. Such failures are never retried.
func afterBroadcast(err error, message string, txHash common.Hash) error {
	return xerrors.Wrap(xerrors.CodePartialExecution, err, message,
		xerrors.WithMetadata("tx_hash", txHash.Hex()),
		xerrors.WithRetryable(false),
	)
}

// Status re-reads the recorded Safe from chain. It returns nil and no error
// when no Safe address is recorded for user.
func (s *Service) Status(ctx context.Context, user common.Address) (*SafeStatus, error) {
	acct, err := s.accounts.Get(ctx, user)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeNotFound {
			return nil, nil
		}
		return nil, err
	}
	if !acct.HasSafe() {
		return nil, nil
	}
	if err := s.requireChain(); err != nil {
		return nil, err
	}
	kit, err := s.kit(ctx)
	if err != nil {
		return nil, err
	}
	if len(acct.Owners) > 0 && acct.SaltNonce != "" {
		predictedKit, err := kit.WithPredictedSafe(ctx, safe.PredictedSafe{
			AccountConfig: safe.AccountConfig{Owners: acct.Owners, Threshold: acct.Threshold},
			SaltNonce:     acct.SaltNonce,
		})
		if err == nil && predictedKit.Address() == acct.SafeAddress {
			kit = predictedKit
		} else {
			kit = kit.Connect(acct.SafeAddress)
		}
	} else {
		kit = kit.Connect(acct.SafeAddress)
	}

	status := &SafeStatus{Address: acct.SafeAddress, State: acct.State}
	if status.Deployed, err = kit.IsDeployed(ctx); err != nil {
		return nil, chainError(err, "check safe code")
	}
	if !status.Deployed {
		if _, ok := kit.Predicted(); !ok {
			return status, nil
		}
	}
	if status.Owners, err = kit.Owners(ctx); err != nil {
		return nil, chainError(err, "read safe owners")
	}
	if status.Threshold, err = kit.Threshold(ctx); err != nil {
		return nil, chainError(err, "read safe threshold")
	}
	if status.Deployed && len(acct.Owners) > 0 && !safe.HasSameOwners(acct.Owners, status.Owners) {
		status.OwnersChanged = true
		s.log.Warn("safe owners differ from the recorded owners",
			"user", user.Hex(),
			"safe_address", acct.SafeAddress.Hex(),
			"recorded", len(acct.Owners),
			"onchain", len(status.Owners),
		)
	}
	s.log.Info("safe status",
		"user", user.Hex(),
		"safe_address", acct.SafeAddress.Hex(),
		"deployed", status.Deployed,
		"threshold", status.Threshold,
	)
	return status, nil
}
