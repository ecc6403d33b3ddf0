package safe

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"

	"SafeSwap-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrNoAddress is returned by reads on a kit that has neither a predicted
// nor a connected Safe.
var ErrNoAddress = errors.New("safe kit has no address")

// Kit talks to one Safe, deployed or predicted, on one chain.
type Kit struct {
	client     web3.Client
	deployment Deployment
	signer     *Signer
	chainID    *big.Int

	address   common.Address
	predicted *PredictedSafe
}

// NewKit binds a kit to a chain. The signer may be nil for read-only use.
func NewKit(ctx context.Context, client web3.Client, deployment Deployment, signer *Signer) (*Kit, error) {
	if client == nil {
		return nil, errors.New("safe kit requires a chain client")
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	return &Kit{client: client, deployment: deployment, signer: signer, chainID: chainID}, nil
}

// WithPredictedSafe returns a kit for the counterfactual Safe p.
func (k *Kit) WithPredictedSafe(ctx context.Context, p PredictedSafe) (*Kit, error) {
	address, err := PredictAddress(ctx, k.client, k.deployment, p)
	if err != nil {
		return nil, err
	}
	clone := *k
	clone.address = address
	clone.predicted = &p
	return &clone, nil
}

// Connect returns a kit bound to an existing Safe address.
func (k *Kit) Connect(address common.Address) *Kit {
	clone := *k
	clone.address = address
	clone.predicted = nil
	return &clone
}

// Address returns the Safe address, predicted or connected.
func (k *Kit) Address() common.Address {
	return k.address
}

// ChainID returns the chain the kit is bound to.
func (k *Kit) ChainID() *big.Int {
	return new(big.Int).Set(k.chainID)
}

// Deployment returns the contract set the kit uses.
func (k *Kit) Deployment() Deployment {
	return k.deployment
}

// Predicted returns the counterfactual config, if the kit was built from one.
func (k *Kit) Predicted() (PredictedSafe, bool) {
	if k.predicted == nil {
		return PredictedSafe{}, false
	}
	return *k.predicted, true
}

// IsDeployed reports whether contract code exists at the Safe address.
func (k *Kit) IsDeployed(ctx context.Context) (bool, error) {
	if k.address == (common.Address{}) {
		return false, ErrNoAddress
	}
	code, err := k.client.CodeAt(ctx, k.address, nil)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

func (k *Kit) call(ctx context.Context, method string) ([]any, error) {
	if k.address == (common.Address{}) {
		return nil, ErrNoAddress
	}
	input, err := SafeABI.Pack(method)
	if err != nil {
		return nil, err
	}
	out, err := k.client.CallContract(ctx, gethcore.CallMsg{To: &k.address, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("safe %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("safe %s: no contract at %s", method, k.address.Hex())
	}
	values, err := SafeABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	return values, nil
}

// Owners returns the owner list. A predicted Safe answers from its config.
func (k *Kit) Owners(ctx context.Context) ([]common.Address, error) {
	if k.predicted != nil {
		if deployed, err := k.IsDeployed(ctx); err != nil || !deployed {
			return append([]common.Address(nil), k.predicted.Owners...), err
		}
	}
	values, err := k.call(ctx, "getOwners")
	if err != nil {
		return nil, err
	}
	owners, ok := values[0].([]common.Address)
	if !ok {
		return nil, errors.New("unexpected getOwners result")
	}
	return owners, nil
}

// Threshold returns the signing threshold. A predicted Safe answers from its
// config.
func (k *Kit) Threshold(ctx context.Context) (uint64, error) {
	if k.predicted != nil {
		if deployed, err := k.IsDeployed(ctx); err != nil || !deployed {
			return k.predicted.Threshold, err
		}
	}
	values, err := k.call(ctx, "getThreshold")
	if err != nil {
		return 0, err
	}
	threshold, ok := values[0].(*big.Int)
	if !ok {
		return 0, errors.New("unexpected getThreshold result")
	}
	return threshold.Uint64(), nil
}

// Nonce returns the Safe transaction nonce; zero for an undeployed Safe.
func (k *Kit) Nonce(ctx context.Context) (uint64, error) {
	deployed, err := k.IsDeployed(ctx)
	if err != nil || !deployed {
		return 0, err
	}
	values, err := k.call(ctx, "nonce")
	if err != nil {
		return 0, err
	}
	nonce, ok := values[0].(*big.Int)
	if !ok {
		return 0, errors.New("unexpected nonce result")
	}
	return nonce.Uint64(), nil
}

// Balance returns the native balance held by the Safe.
func (k *Kit) Balance(ctx context.Context) (*big.Int, error) {
	if k.address == (common.Address{}) {
		return nil, ErrNoAddress
	}
	return k.client.BalanceAt(ctx, k.address, nil)
}

// IsOwner reports whether account is currently an owner.
func (k *Kit) IsOwner(ctx context.Context, account common.Address) (bool, error) {
	owners, err := k.Owners(ctx)
	if err != nil {
		return false, err
	}
	for _, owner := range owners {
		if owner == account {
			return true, nil
		}
	}
	return false, nil
}

// DeploymentTransaction returns the factory call that deploys the predicted
// Safe.
func (k *Kit) DeploymentTransaction() (MetaTransaction, error) {
	if k.predicted == nil {
		return MetaTransaction{}, errors.New("deployment requires a predicted safe")
	}
	initializer, err := EncodeSetup(k.deployment, k.predicted.AccountConfig)
	if err != nil {
		return MetaTransaction{}, err
	}
	nonce, err := k.predicted.saltNonce()
	if err != nil {
		return MetaTransaction{}, err
	}
	data, err := ProxyFactoryABI.Pack("createProxyWithNonce", k.deployment.Singleton, initializer, nonce)
	if err != nil {
		return MetaTransaction{}, fmt.Errorf("encode createProxyWithNonce: %w", err)
	}
	return MetaTransaction{To: k.deployment.ProxyFactory, Value: new(big.Int), Data: data, Operation: Call}, nil
}

// SendDeployment broadcasts the deployment transaction from the agent.
func (k *Kit) SendDeployment(ctx context.Context) (*types.Transaction, error) {
	if k.signer == nil {
		return nil, errors.New("deployment requires a signer")
	}
	meta, err := k.DeploymentTransaction()
	if err != nil {
		return nil, err
	}
	return k.signer.SendCall(ctx, k.client, meta.To, meta.Value, meta.Data, 0)
}

// CreateTransactionOptions controls how meta transactions are combined.
type CreateTransactionOptions struct {
	Transactions []MetaTransaction
	// OnlyCalls routes batches through MultiSendCallOnly, which rejects
	// delegate calls.
	OnlyCalls bool
}

// CreateTransaction builds an unsigned Safe transaction. A single meta
// transaction is executed directly; several are batched through multisend.
func (k *Kit) CreateTransaction(ctx context.Context, opts CreateTransactionOptions) (*Transaction, error) {
	if len(opts.Transactions) == 0 {
		return nil, errors.New("no transactions to build")
	}
	var meta MetaTransaction
	if len(opts.Transactions) == 1 {
		meta = normalize(opts.Transactions[0])
	} else {
		txs := make([]MetaTransaction, len(opts.Transactions))
		for i, tx := range opts.Transactions {
			if opts.OnlyCalls && tx.Operation != Call {
				return nil, fmt.Errorf("transaction %d is a %s, only calls are allowed", i, tx.Operation)
			}
			txs[i] = normalize(tx)
		}
		packed, err := EncodeMultiSend(txs)
		if err != nil {
			return nil, err
		}
		data, err := MultiSendABI.Pack("multiSend", packed)
		if err != nil {
			return nil, fmt.Errorf("encode multiSend: %w", err)
		}
		meta = MetaTransaction{To: k.deployment.MultiSendCallOnly, Value: new(big.Int), Data: data, Operation: DelegateCall}
	}
	if opts.OnlyCalls && len(opts.Transactions) == 1 && meta.Operation != Call {
		return nil, fmt.Errorf("transaction is a %s, only calls are allowed", meta.Operation)
	}

	nonce, err := k.Nonce(ctx)
	if err != nil {
		return nil, err
	}
	return &Transaction{Data: TransactionData{
		MetaTransaction: meta,
		SafeTxGas:       new(big.Int),
		BaseGas:         new(big.Int),
		GasPrice:        new(big.Int),
		Nonce:           nonce,
	}}, nil
}

// TransactionHash returns the EIP-712 hash of tx for this Safe.
func (k *Kit) TransactionHash(tx *Transaction) (common.Hash, error) {
	return TransactionHash(k.chainID, k.address, tx.Data)
}

// Execution is a broadcast execTransaction call.
type Execution struct {
	SafeTxHash  common.Hash
	Transaction *types.Transaction
}

// ExecuteTransaction sends execTransaction from the agent. When the agent is
// an owner and has not signed yet, its approval is given implicitly as
// msg.sender.
func (k *Kit) ExecuteTransaction(ctx context.Context, tx *Transaction) (*Execution, error) {
	if k.signer == nil {
		return nil, errors.New("execution requires a signer")
	}
	deployed, err := k.IsDeployed(ctx)
	if err != nil {
		return nil, err
	}
	if !deployed {
		return nil, fmt.Errorf("safe %s is not deployed", k.address.Hex())
	}
	if _, signed := tx.Signatures[k.signer.Address()]; !signed {
		owner, err := k.IsOwner(ctx, k.signer.Address())
		if err != nil {
			return nil, err
		}
		if owner {
			tx.AddSignature(PreValidatedSignature(k.signer.Address()))
		}
	}
	threshold, err := k.Threshold(ctx)
	if err != nil {
		return nil, err
	}
	if uint64(len(tx.Signatures)) < threshold {
		return nil, fmt.Errorf("safe transaction has %d signatures, threshold is %d", len(tx.Signatures), threshold)
	}

	safeTxHash, err := k.TransactionHash(tx)
	if err != nil {
		return nil, err
	}
	d := tx.Data
	input, err := SafeABI.Pack("execTransaction",
		d.To, d.Value, []byte(d.Data), uint8(d.Operation),
		d.SafeTxGas, d.BaseGas, d.GasPrice, d.GasToken, d.RefundReceiver,
		tx.EncodedSignatures(),
	)
	if err != nil {
		return nil, fmt.Errorf("encode execTransaction: %w", err)
	}
	sent, err := k.signer.SendCall(ctx, k.client, k.address, new(big.Int), input, 0)
	if err != nil {
		return nil, err
	}
	return &Execution{SafeTxHash: safeTxHash, Transaction: sent}, nil
}

// ErrExecutionFailed reports that the Safe emitted ExecutionFailure.
var ErrExecutionFailed = errors.New("safe transaction execution failed")

// WaitForExecution waits for one confirmation of exec and checks that the
// Safe reported success.
func (k *Kit) WaitForExecution(ctx context.Context, exec *Execution) (*types.Receipt, error) {
	receipt, err := k.client.WaitMined(ctx, exec.Transaction.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("execTransaction %s reverted", exec.Transaction.Hash().Hex())
	}
	for _, l := range receipt.Logs {
		if l.Address != k.address || len(l.Topics) == 0 {
			continue
		}
		switch l.Topics[0] {
		case executionFailureTopic:
			return receipt, ErrExecutionFailed
		case executionSuccessTopic:
			if eventTxHash(l) == exec.SafeTxHash {
				return receipt, nil
			}
		}
	}
	return receipt, nil
}

// eventTxHash reads txHash from an Execution* log, indexed or not.
func eventTxHash(l *types.Log) common.Hash {
	if len(l.Topics) > 1 {
		return l.Topics[1]
	}
	if len(l.Data) >= 32 {
		return common.BytesToHash(l.Data[:32])
	}
	return common.Hash{}
}

// HasSameOwners reports whether two owner lists hold the same addresses in
// the same order.
func HasSameOwners(a, b []common.Address) bool {
	return slices.Equal(a, b)
}
