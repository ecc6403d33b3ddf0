package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"SafeSwap-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

const defaultPollInterval = time.Second

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name         string
	RPCURL       string
	Notes        string
	PollInterval time.Duration
}

// backend mirrors the RPC surface shared by ethclient.Client and the
// simulated backend client.
type backend interface {
	gethcore.ChainIDReader
	gethcore.BlockNumberReader
	gethcore.ChainStateReader
	gethcore.ContractCaller
	gethcore.GasEstimator
	gethcore.GasPricer1559
	gethcore.TransactionSender
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error)
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name         string
	notes        string
	rpcClient    *gethrpc.Client
	eth          *ethclient.Client
	backend      backend
	sim          *simulated.Backend
	pollInterval time.Duration

	mu      sync.Mutex
	chainID *big.Int
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Client{
		name:         cfg.Name,
		notes:        cfg.Notes,
		rpcClient:    rpcClient,
		eth:          eth,
		backend:      eth,
		pollInterval: poll,
	}, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend for testing
// purposes. Every sent transaction is sealed into a block immediately.
func NewSimulatedClient(name string, sim *simulated.Backend) *Client {
	return &Client{
		name:         name,
		backend:      sim.Client(),
		sim:          sim,
		notes:        "simulated backend",
		pollInterval: 10 * time.Millisecond,
	}
}

// Name returns the configured chain name.
func (c *Client) Name() string {
	return c.name
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
	if c.sim != nil {
		_ = c.sim.Close()
		c.sim = nil
	}
	c.backend = nil
}

func (c *Client) rpc() (backend, error) {
	if c == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == nil {
		return nil, errors.New("客户端缺少链访问后端")
	}
	return c.backend, nil
}

// ChainID returns the network chain id, cached after the first lookup.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	b, err := c.rpc()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}

	id, err := b.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	c.mu.Lock()
	c.chainID = new(big.Int).Set(id)
	c.mu.Unlock()
	return id, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	b, err := c.rpc()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	blockNumber, err := b.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		Name:        c.name,
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// BalanceAt returns the wei balance of the given account.
func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	b, err := c.rpc()
	if err != nil {
		return nil, err
	}
	balance, err := b.BalanceAt(ctx, account, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// CodeAt returns the contract code deployed at the given account.
func (c *Client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	b, err := c.rpc()
	if err != nil {
		return nil, err
	}
	code, err := b.CodeAt(ctx, account, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("查询合约代码失败: %w", err)
	}
	return code, nil
}

// CallContract executes a read-only message call.
func (c *Client) CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error) {
	b, err := c.rpc()
	if err != nil {
		return nil, err
	}
	out, err := b.CallContract(ctx, msg, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("调用合约失败: %w", err)
	}
	return out, nil
}

// EstimateGas asks the node for a gas limit for msg.
func (c *Client) EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error) {
	b, err := c.rpc()
	if err != nil {
		return 0, err
	}
	gas, err := b.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("估算 gas 失败: %w", err)
	}
	return gas, nil
}

// PendingNonceAt returns the next nonce for account.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b, err := c.rpc()
	if err != nil {
		return 0, err
	}
	nonce, err := b.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("查询交易计数失败: %w", err)
	}
	return nonce, nil
}

// SuggestGasTipCap returns the node's priority fee suggestion.
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	b, err := c.rpc()
	if err != nil {
		return nil, err
	}
	tip, err := b.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取小费建议失败: %w", err)
	}
	return tip, nil
}

// HeaderByNumber returns a block header; nil selects the latest block.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error) {
	b, err := c.rpc()
	if err != nil {
		return nil, err
	}
	head, err := b.HeaderByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("获取区块头失败: %w", err)
	}
	return head, nil
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *coretypes.Transaction) error {
	b, err := c.rpc()
	if err != nil {
		return err
	}
	if err := b.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("发送交易失败: %w", err)
	}
	if c.sim != nil {
		c.sim.Commit()
	}
	return nil
}

// TransactionReceipt returns the receipt of a mined transaction.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	b, err := c.rpc()
	if err != nil {
		return nil, err
	}
	return b.TransactionReceipt(ctx, hash)
}

// WaitMined polls for the receipt of hash until it is available.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	b, err := c.rpc()
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := b.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return nil, fmt.Errorf("查询交易回执失败: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
