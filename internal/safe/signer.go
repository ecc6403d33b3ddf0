package safe

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"SafeSwap-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// gasBufferPercent is added on top of node gas estimates.
const gasBufferPercent = 20

// Signer holds the agent key that owns every Safe and pays for deployments
// and executions.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner parses a hex encoded private key, with or without 0x prefix.
func NewSigner(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, errors.New("agent private key is empty")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse agent private key: %w", err)
	}
	return NewSignerFromKey(key), nil
}

// NewSignerFromKey wraps an existing key.
func NewSignerFromKey(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the signer's account.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignHash returns a 65 byte signature over hash with v in {27, 28}, the
// form Safe.checkSignatures accepts for EIP-712 approvals.
func (s *Signer) SignHash(hash common.Hash) (Signature, error) {
	sig, err := crypto.Sign(hash.Bytes(), s.key)
	if err != nil {
		return Signature{}, fmt.Errorf("sign hash: %w", err)
	}
	sig[64] += 27
	return Signature{Signer: s.address, Data: sig}, nil
}

// SendCall signs an EIP-1559 transaction to `to` and broadcasts it. The gas
// limit is estimated with a buffer when gas is zero.
func (s *Signer) SendCall(ctx context.Context, client web3.Client, to common.Address, value *big.Int, data []byte, gas uint64) (*types.Transaction, error) {
	if value == nil {
		value = new(big.Int)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	nonce, err := client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return nil, err
	}
	if gas == 0 {
		estimate, err := client.EstimateGas(ctx, gethcore.CallMsg{From: s.address, To: &to, Value: value, Data: data})
		if err != nil {
			return nil, err
		}
		gas = estimate + estimate*gasBufferPercent/100
	}
	tip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, err
	}
	head, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}
	return signed, nil
}
