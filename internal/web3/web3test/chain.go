// Package web3test provides an in-memory web3.Client for unit tests.
package web3test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"SafeSwap-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// CallHandler answers eth_call and eth_estimateGas for a contract address.
type CallHandler func(msg gethcore.CallMsg) ([]byte, error)

// SendHook observes a broadcast transaction and returns the logs and status
// its receipt should carry.
type SendHook func(from common.Address, tx *types.Transaction) ([]*types.Log, uint64, error)

// Chain is a programmable fake chain. The zero value is not usable; call
// NewChain.
type Chain struct {
	mu sync.Mutex

	name     string
	chainID  *big.Int
	block    uint64
	balances map[common.Address]*big.Int
	codes    map[common.Address][]byte
	nonces   map[common.Address]uint64
	handlers map[common.Address]CallHandler
	receipts map[common.Hash]*types.Receipt
	sent     []*types.Transaction
	onSend   []SendHook

	// Err, when set, is returned by every RPC method.
	Err error
	// GasEstimate is returned by EstimateGas when no handler overrides it.
	GasEstimate uint64
	closed      bool
}

// NewChain returns an empty fake chain with the given chain id.
func NewChain(chainID int64) *Chain {
	return &Chain{
		name:        "fake",
		chainID:     big.NewInt(chainID),
		block:       1,
		balances:    make(map[common.Address]*big.Int),
		codes:       make(map[common.Address][]byte),
		nonces:      make(map[common.Address]uint64),
		handlers:    make(map[common.Address]CallHandler),
		receipts:    make(map[common.Hash]*types.Receipt),
		GasEstimate: 100_000,
	}
}

// SetBalance sets the wei balance of account.
func (c *Chain) SetBalance(account common.Address, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[account] = new(big.Int).Set(wei)
}

// SetCode installs runtime code at account.
func (c *Chain) SetCode(account common.Address, code []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[account] = append([]byte(nil), code...)
}

// Handle registers the call handler for a contract address.
func (c *Chain) Handle(contract common.Address, handler CallHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[contract] = handler
}

// OnSend registers a hook invoked for every broadcast transaction.
func (c *Chain) OnSend(hook SendHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSend = append(c.onSend, hook)
}

// Sent returns the transactions broadcast so far.
func (c *Chain) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

// Closed reports whether Close was called.
func (c *Chain) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Chain) Name() string { return c.name }

func (c *Chain) ChainID(context.Context) (*big.Int, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	return new(big.Int).Set(c.chainID), nil
}

func (c *Chain) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	if c.Err != nil {
		return web3.ChainSnapshot{}, c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return web3.ChainSnapshot{
		Name:        c.name,
		ChainID:     "0x" + c.chainID.Text(16),
		BlockNumber: fmt.Sprintf("0x%x", c.block),
	}, nil
}

func (c *Chain) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if bal, ok := c.balances[account]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (c *Chain) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.codes[account]...), nil
}

func (c *Chain) handler(to *common.Address) (CallHandler, bool) {
	if to == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handlers[*to]
	return h, ok
}

func (c *Chain) CallContract(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	h, ok := c.handler(msg.To)
	if !ok {
		// eth_call against an address without code returns empty data.
		return nil, nil
	}
	return h(msg)
}

func (c *Chain) EstimateGas(_ context.Context, msg gethcore.CallMsg) (uint64, error) {
	if c.Err != nil {
		return 0, c.Err
	}
	if h, ok := c.handler(msg.To); ok {
		if _, err := h(msg); err != nil {
			return 0, err
		}
	}
	return c.GasEstimate, nil
}

func (c *Chain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	if c.Err != nil {
		return 0, c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

func (c *Chain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	return big.NewInt(1_000_000_000), nil
}

func (c *Chain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return &types.Header{Number: new(big.Int).SetUint64(c.block), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (c *Chain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if c.Err != nil {
		return c.Err
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return fmt.Errorf("recover sender: %w", err)
	}

	c.mu.Lock()
	hooks := append([]SendHook(nil), c.onSend...)
	c.mu.Unlock()

	status := types.ReceiptStatusSuccessful
	var logs []*types.Log
	for _, hook := range hooks {
		hookLogs, hookStatus, err := hook(from, tx)
		if err != nil {
			return err
		}
		logs = append(logs, hookLogs...)
		if hookStatus == types.ReceiptStatusFailed {
			status = types.ReceiptStatusFailed
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.block++
	c.nonces[from] = tx.Nonce() + 1
	c.sent = append(c.sent, tx)
	for i, l := range logs {
		l.TxHash = tx.Hash()
		l.BlockNumber = c.block
		l.Index = uint(i)
	}
	c.receipts[tx.Hash()] = &types.Receipt{
		Type:        tx.Type(),
		Status:      status,
		TxHash:      tx.Hash(),
		GasUsed:     tx.Gas(),
		Logs:        logs,
		BlockNumber: new(big.Int).SetUint64(c.block),
	}
	return nil
}

func (c *Chain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	receipt, ok := c.receipts[hash]
	if !ok {
		return nil, gethcore.NotFound
	}
	return receipt, nil
}

func (c *Chain) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := c.TransactionReceipt(ctx, hash)
	if errors.Is(err, gethcore.NotFound) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return receipt, err
}

func (c *Chain) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

var _ web3.Client = (*Chain)(nil)
