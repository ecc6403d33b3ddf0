package cow

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"SafeSwap-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Canonical protocol contracts, identical on every supported chain.
var (
	DefaultSettlement   = common.HexToAddress("0x9008D19f58AAbD9eD0D60971565AA8510560ab41")
	DefaultVaultRelayer = common.HexToAddress("0xC92E8bdf79f0507f65a392b0ab4667716BFE0110")
)

const settlementABIJSON = `[
 {"type":"function","name":"setPreSignature","stateMutability":"nonpayable","inputs":[
  {"name":"orderUid","type":"bytes"},{"name":"signed","type":"bool"}],"outputs":[]},
 {"type":"function","name":"preSignature","stateMutability":"view","inputs":[
  {"name":"","type":"bytes"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const erc20ABIJSON = `[
 {"type":"function","name":"allowance","stateMutability":"view","inputs":[
  {"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[
  {"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
  {"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	// SettlementABI covers the GPv2Settlement pre-sign entry points.
	SettlementABI = mustParseABI(settlementABIJSON)
	// ERC20ABI covers the token reads the swap flow performs.
	ERC20ABI = mustParseABI(erc20ABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("cow: invalid ABI: " + err.Error())
	}
	return parsed
}

// EncodeSetPreSignature returns calldata for setPreSignature(uid, signed).
func EncodeSetPreSignature(uid []byte, signed bool) ([]byte, error) {
	return SettlementABI.Pack("setPreSignature", uid, signed)
}

// Allowance reads token.allowance(owner, spender).
func Allowance(ctx context.Context, client web3.Client, token, owner, spender common.Address) (*big.Int, error) {
	return readUint(ctx, client, token, "allowance", owner, spender)
}

// TokenBalanceOf reads token.balanceOf(account).
func TokenBalanceOf(ctx context.Context, client web3.Client, token, account common.Address) (*big.Int, error) {
	return readUint(ctx, client, token, "balanceOf", account)
}

func readUint(ctx context.Context, client web3.Client, token common.Address, method string, args ...any) (*big.Int, error) {
	input, err := ERC20ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := client.CallContract(ctx, gethcore.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("token %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("token %s: no contract at %s", method, token.Hex())
	}
	values, err := ERC20ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	return values[0].(*big.Int), nil
}
