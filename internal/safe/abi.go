package safe

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

const safeABIJSON = `[
 {"type":"function","name":"setup","stateMutability":"nonpayable","inputs":[
  {"name":"_owners","type":"address[]"},{"name":"_threshold","type":"uint256"},
  {"name":"to","type":"address"},{"name":"data","type":"bytes"},
  {"name":"fallbackHandler","type":"address"},{"name":"paymentToken","type":"address"},
  {"name":"payment","type":"uint256"},{"name":"paymentReceiver","type":"address"}],"outputs":[]},
 {"type":"function","name":"getOwners","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
 {"type":"function","name":"getThreshold","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"nonce","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"VERSION","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"execTransaction","stateMutability":"payable","inputs":[
  {"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},
  {"name":"operation","type":"uint8"},{"name":"safeTxGas","type":"uint256"},{"name":"baseGas","type":"uint256"},
  {"name":"gasPrice","type":"uint256"},{"name":"gasToken","type":"address"},{"name":"refundReceiver","type":"address"},
  {"name":"signatures","type":"bytes"}],"outputs":[{"name":"success","type":"bool"}]},
 {"type":"event","name":"ExecutionSuccess","anonymous":false,"inputs":[
  {"name":"txHash","type":"bytes32","indexed":false},{"name":"payment","type":"uint256","indexed":false}]},
 {"type":"event","name":"ExecutionFailure","anonymous":false,"inputs":[
  {"name":"txHash","type":"bytes32","indexed":false},{"name":"payment","type":"uint256","indexed":false}]}
]`

const proxyFactoryABIJSON = `[
 {"type":"function","name":"createProxyWithNonce","stateMutability":"nonpayable","inputs":[
  {"name":"_singleton","type":"address"},{"name":"initializer","type":"bytes"},{"name":"saltNonce","type":"uint256"}],
  "outputs":[{"name":"proxy","type":"address"}]},
 {"type":"function","name":"proxyCreationCode","stateMutability":"pure","inputs":[],"outputs":[{"name":"","type":"bytes"}]}
]`

const multiSendABIJSON = `[
 {"type":"function","name":"multiSend","stateMutability":"payable","inputs":[{"name":"transactions","type":"bytes"}],"outputs":[]}
]`

var (
	// SafeABI is the subset of the Safe singleton interface used by the kit.
	SafeABI = mustParseABI(safeABIJSON)
	// ProxyFactoryABI covers SafeProxyFactory deployment helpers.
	ProxyFactoryABI = mustParseABI(proxyFactoryABIJSON)
	// MultiSendABI covers MultiSend and MultiSendCallOnly.
	MultiSendABI = mustParseABI(multiSendABIJSON)

	// Topic hashes do not depend on which event arguments are indexed, so
	// they match both the 1.3.0 and 1.4.1 contracts.
	executionSuccessTopic = crypto.Keccak256Hash([]byte("ExecutionSuccess(bytes32,uint256)"))
	executionFailureTopic = crypto.Keccak256Hash([]byte("ExecutionFailure(bytes32,uint256)"))
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("safe: invalid ABI: " + err.Error())
	}
	return parsed
}
