package ethereum

import (
	"context"
	"math/big"
	"testing"
	"time"

	"SafeSwap-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
)

// simpleContractBin deploys a contract that emits one log when called.
const simpleContractBin = "0x6027600c60003960276000f37f0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f2060006000a100"

func newSimulated(t *testing.T) (*Client, *big.Int, common.Address, func(*coretypes.DynamicFeeTx) *coretypes.Transaction) {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	sim := simulated.NewBackend(coretypes.GenesisAlloc{
		from: {Balance: new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))},
	}, simulated.WithBlockGasLimit(8_000_000))
	client := NewSimulatedClient("simulated", sim)
	t.Cleanup(client.Close)

	ctx := context.Background()
	chainID, err := client.ChainID(ctx)
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}

	sign := func(tx *coretypes.DynamicFeeTx) *coretypes.Transaction {
		nonce, err := client.PendingNonceAt(ctx, from)
		if err != nil {
			t.Fatalf("pending nonce: %v", err)
		}
		head, err := client.HeaderByNumber(ctx, nil)
		if err != nil {
			t.Fatalf("latest header: %v", err)
		}
		tx.ChainID = chainID
		tx.Nonce = nonce
		tx.GasTipCap = big.NewInt(1_000_000_000)
		tx.GasFeeCap = new(big.Int).Add(head.BaseFee, tx.GasTipCap)
		signed, err := coretypes.SignTx(coretypes.NewTx(tx), coretypes.LatestSignerForChainID(chainID), key)
		if err != nil {
			t.Fatalf("sign tx: %v", err)
		}
		return signed
	}
	return client, chainID, from, sign
}

func TestClientDeployCallAndWait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, chainID, from, sign := newSimulated(t)

	deploy := sign(&coretypes.DynamicFeeTx{Gas: 200_000, Data: common.FromHex(simpleContractBin)})
	if err := client.SendTransaction(ctx, deploy); err != nil {
		t.Fatalf("send deploy: %v", err)
	}
	receipt, err := client.WaitMined(ctx, deploy.Hash())
	if err != nil {
		t.Fatalf("wait deploy: %v", err)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		t.Fatalf("deploy failed with status %d", receipt.Status)
	}
	contract := crypto.CreateAddress(from, deploy.Nonce())
	if receipt.ContractAddress != contract {
		t.Fatalf("unexpected contract address %s", receipt.ContractAddress.Hex())
	}

	code, err := client.CodeAt(ctx, contract, nil)
	if err != nil {
		t.Fatalf("code at: %v", err)
	}
	if len(code) == 0 {
		t.Fatal("expected deployed code")
	}

	gas, err := client.EstimateGas(ctx, gethcore.CallMsg{From: from, To: &contract})
	if err != nil {
		t.Fatalf("estimate gas: %v", err)
	}
	call := sign(&coretypes.DynamicFeeTx{Gas: gas + 10_000, To: &contract})
	if err := client.SendTransaction(ctx, call); err != nil {
		t.Fatalf("send call: %v", err)
	}
	callReceipt, err := client.WaitMined(ctx, call.Hash())
	if err != nil {
		t.Fatalf("wait call: %v", err)
	}
	if len(callReceipt.Logs) != 1 {
		t.Fatalf("expected one log, got %d", len(callReceipt.Logs))
	}

	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snapshot.ChainID != "0x"+chainID.Text(16) {
		t.Fatalf("unexpected chain id %s", snapshot.ChainID)
	}
	if snapshot.BlockNumber == "0x0" {
		t.Fatal("expected block number to advance after deployment")
	}
}

func TestClientBalanceAndEmptyCode(t *testing.T) {
	ctx := context.Background()
	client, _, from, _ := newSimulated(t)

	balance, err := client.BalanceAt(ctx, from, nil)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() <= 0 {
		t.Fatalf("expected funded account, got %s", balance)
	}

	stranger := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	empty, err := client.BalanceAt(ctx, stranger, nil)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if empty.Sign() != 0 {
		t.Fatalf("expected zero balance, got %s", empty)
	}
	code, err := client.CodeAt(ctx, stranger, nil)
	if err != nil {
		t.Fatalf("code at: %v", err)
	}
	if len(code) != 0 {
		t.Fatalf("expected no code at EOA")
	}
}

func TestWaitMinedHonoursContext(t *testing.T) {
	client, _, _, _ := newSimulated(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.WaitMined(ctx, common.HexToHash("0x01")); err == nil {
		t.Fatal("expected context error for unknown transaction")
	}
}

func TestClosedClientFails(t *testing.T) {
	client, _, from, _ := newSimulated(t)
	client.Close()
	if _, err := client.BalanceAt(context.Background(), from, nil); err == nil {
		t.Fatal("expected error after close")
	}
}

var _ web3.Client = (*Client)(nil)
