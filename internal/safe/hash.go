package safe

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// safeTxTypes is the EIP-712 schema of Safe 1.3+ transactions.
var safeTxTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"SafeTx": {
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "data", Type: "bytes"},
		{Name: "operation", Type: "uint8"},
		{Name: "safeTxGas", Type: "uint256"},
		{Name: "baseGas", Type: "uint256"},
		{Name: "gasPrice", Type: "uint256"},
		{Name: "gasToken", Type: "address"},
		{Name: "refundReceiver", Type: "address"},
		{Name: "nonce", Type: "uint256"},
	},
}

func orZero(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return n
}

// typedData returns the EIP-712 document owners sign for data.
func typedData(chainID *big.Int, safeAddress common.Address, data TransactionData) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       safeTxTypes,
		PrimaryType: "SafeTx",
		Domain: apitypes.TypedDataDomain{
			ChainId:           (*math.HexOrDecimal256)(orZero(chainID)),
			VerifyingContract: safeAddress.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"to":             data.To.Hex(),
			"value":          orZero(data.Value),
			"data":           []byte(data.Data),
			"operation":      big.NewInt(int64(data.Operation)),
			"safeTxGas":      orZero(data.SafeTxGas),
			"baseGas":        orZero(data.BaseGas),
			"gasPrice":       orZero(data.GasPrice),
			"gasToken":       data.GasToken.Hex(),
			"refundReceiver": data.RefundReceiver.Hex(),
			"nonce":          new(big.Int).SetUint64(data.Nonce),
		},
	}
}

// TransactionHash returns the EIP-712 hash owners sign for data.
func TransactionHash(chainID *big.Int, safeAddress common.Address, data TransactionData) (common.Hash, error) {
	hash, _, err := apitypes.TypedDataAndHash(typedData(chainID, safeAddress, data))
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash safe transaction: %w", err)
	}
	return common.BytesToHash(hash), nil
}
