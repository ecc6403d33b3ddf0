// Package safetest emulates the Safe proxy factory and Safe proxies on top of
// a web3test.Chain so kit and workflow tests run without a node.
package safetest

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"SafeSwap-Chain/internal/safe"
	"SafeSwap-Chain/internal/web3/web3test"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// CreationCode is the proxy init code the fake factory reports.
var CreationCode = common.FromHex("0x608060405234801561001057600080fd5b50")

// SafeState is the storage of one emulated Safe.
type SafeState struct {
	Owners    []common.Address
	Threshold uint64
	Nonce     uint64
	Executed  []safe.TransactionData
}

// Contracts emulates a Safe deployment.
type Contracts struct {
	mu         sync.Mutex
	chain      *web3test.Chain
	chainID    *big.Int
	deployment safe.Deployment
	safes      map[common.Address]*SafeState

	// FailExecutions makes Safes emit ExecutionFailure instead of success.
	FailExecutions bool
}

// Install registers the factory on chain and returns the emulator.
func Install(chain *web3test.Chain, chainID int64, d safe.Deployment) *Contracts {
	c := &Contracts{
		chain:      chain,
		chainID:    big.NewInt(chainID),
		deployment: d,
		safes:      make(map[common.Address]*SafeState),
	}
	chain.SetCode(d.ProxyFactory, []byte{0x01})
	chain.Handle(d.ProxyFactory, c.factoryCall)
	chain.OnSend(c.onSend)
	return c
}

// Safe returns a copy of the state of the Safe at address.
func (c *Contracts) Safe(address common.Address) (SafeState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.safes[address]
	if !ok {
		return SafeState{}, false
	}
	clone := *state
	clone.Owners = append([]common.Address(nil), state.Owners...)
	clone.Executed = append([]safe.TransactionData(nil), state.Executed...)
	return clone, true
}

// SetOwners rewrites the owner list of a deployed Safe.
func (c *Contracts) SetOwners(address common.Address, owners []common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.safes[address]; ok {
		state.Owners = append([]common.Address(nil), owners...)
	}
}

func (c *Contracts) factoryCall(msg gethcore.CallMsg) ([]byte, error) {
	if len(msg.Data) < 4 {
		return nil, errors.New("factory: short calldata")
	}
	method, err := safe.ProxyFactoryABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "proxyCreationCode":
		return method.Outputs.Pack(CreationCode)
	case "createProxyWithNonce":
		return method.Outputs.Pack(common.Address{})
	default:
		return nil, fmt.Errorf("factory: unsupported method %s", method.Name)
	}
}

func (c *Contracts) safeCall(address common.Address) web3test.CallHandler {
	return func(msg gethcore.CallMsg) ([]byte, error) {
		if len(msg.Data) < 4 {
			return nil, errors.New("safe: short calldata")
		}
		method, err := safe.SafeABI.MethodById(msg.Data[:4])
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		state := c.safes[address]
		owners := append([]common.Address(nil), state.Owners...)
		threshold, nonce := state.Threshold, state.Nonce
		c.mu.Unlock()

		switch method.Name {
		case "getOwners":
			return method.Outputs.Pack(owners)
		case "getThreshold":
			return method.Outputs.Pack(new(big.Int).SetUint64(threshold))
		case "nonce":
			return method.Outputs.Pack(new(big.Int).SetUint64(nonce))
		case "VERSION":
			return method.Outputs.Pack(c.deployment.Version)
		case "execTransaction":
			return method.Outputs.Pack(true)
		default:
			return nil, fmt.Errorf("safe: unsupported method %s", method.Name)
		}
	}
}

func (c *Contracts) onSend(_ common.Address, tx *types.Transaction) ([]*types.Log, uint64, error) {
	if tx.To() == nil || len(tx.Data()) < 4 {
		return nil, types.ReceiptStatusSuccessful, nil
	}
	to := *tx.To()
	if to == c.deployment.ProxyFactory {
		return c.deploy(tx.Data())
	}
	c.mu.Lock()
	_, known := c.safes[to]
	c.mu.Unlock()
	if known {
		return c.exec(to, tx.Data())
	}
	return nil, types.ReceiptStatusSuccessful, nil
}

func (c *Contracts) deploy(data []byte) ([]*types.Log, uint64, error) {
	method, err := safe.ProxyFactoryABI.MethodById(data[:4])
	if err != nil || method.Name != "createProxyWithNonce" {
		return nil, types.ReceiptStatusFailed, nil
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, 0, err
	}
	initializer := args[1].([]byte)
	saltNonce := args[2].(*big.Int)

	setup, err := safe.SafeABI.MethodById(initializer[:4])
	if err != nil {
		return nil, 0, err
	}
	setupArgs, err := setup.Inputs.Unpack(initializer[4:])
	if err != nil {
		return nil, 0, err
	}
	address := safe.ComputeAddress(c.deployment, CreationCode, initializer, saltNonce)

	c.mu.Lock()
	if _, exists := c.safes[address]; exists {
		c.mu.Unlock()
		// CREATE2 collision reverts.
		return nil, types.ReceiptStatusFailed, nil
	}
	c.safes[address] = &SafeState{
		Owners:    setupArgs[0].([]common.Address),
		Threshold: setupArgs[1].(*big.Int).Uint64(),
	}
	c.mu.Unlock()

	c.chain.SetCode(address, []byte{0x60, 0x80})
	c.chain.Handle(address, c.safeCall(address))
	return nil, types.ReceiptStatusSuccessful, nil
}

var (
	successTopic = crypto.Keccak256Hash([]byte("ExecutionSuccess(bytes32,uint256)"))
	failureTopic = crypto.Keccak256Hash([]byte("ExecutionFailure(bytes32,uint256)"))
)

func (c *Contracts) exec(address common.Address, data []byte) ([]*types.Log, uint64, error) {
	method, err := safe.SafeABI.MethodById(data[:4])
	if err != nil || method.Name != "execTransaction" {
		return nil, types.ReceiptStatusFailed, nil
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.safes[address]
	txData := safe.TransactionData{
		MetaTransaction: safe.MetaTransaction{
			To:        args[0].(common.Address),
			Value:     args[1].(*big.Int),
			Data:      args[2].([]byte),
			Operation: safe.OperationType(args[3].(uint8)),
		},
		SafeTxGas:      args[4].(*big.Int),
		BaseGas:        args[5].(*big.Int),
		GasPrice:       args[6].(*big.Int),
		GasToken:       args[7].(common.Address),
		RefundReceiver: args[8].(common.Address),
		Nonce:          state.Nonce,
	}
	signatures := args[9].([]byte)
	if uint64(len(signatures)/65) < state.Threshold {
		return nil, types.ReceiptStatusFailed, nil
	}

	hash, err := safe.TransactionHash(c.chainID, address, txData)
	if err != nil {
		return nil, types.ReceiptStatusFailed, err
	}
	state.Nonce++
	topic := successTopic
	if c.FailExecutions {
		topic = failureTopic
	} else {
		state.Executed = append(state.Executed, txData)
	}
	logData := append(hash.Bytes(), make([]byte, 32)...)
	return []*types.Log{{Address: address, Topics: []common.Hash{topic}, Data: logData}}, types.ReceiptStatusSuccessful, nil
}
