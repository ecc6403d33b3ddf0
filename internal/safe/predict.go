package safe

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"SafeSwap-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// AccountConfig is the owner set and signing threshold of a Safe.
type AccountConfig struct {
	Owners    []common.Address `json:"owners"`
	Threshold uint64           `json:"threshold"`
}

// Validate checks the owner set the way Safe.setup would.
func (c AccountConfig) Validate() error {
	if len(c.Owners) == 0 {
		return errors.New("safe requires at least one owner")
	}
	if c.Threshold == 0 || c.Threshold > uint64(len(c.Owners)) {
		return fmt.Errorf("threshold %d out of range for %d owners", c.Threshold, len(c.Owners))
	}
	seen := make(map[common.Address]struct{}, len(c.Owners))
	for _, owner := range c.Owners {
		if owner == (common.Address{}) {
			return errors.New("owner cannot be the zero address")
		}
		if _, dup := seen[owner]; dup {
			return fmt.Errorf("duplicate owner %s", owner.Hex())
		}
		seen[owner] = struct{}{}
	}
	return nil
}

// PredictedSafe describes a Safe that has not been deployed yet. Its address
// is fully determined by the config, the salt nonce and the deployment.
type PredictedSafe struct {
	AccountConfig
	SaltNonce string `json:"salt_nonce"`
}

func (p PredictedSafe) saltNonce() (*big.Int, error) {
	n, ok := new(big.Int).SetString(p.SaltNonce, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid salt nonce %q", p.SaltNonce)
	}
	return n, nil
}

// EncodeSetup returns the Safe.setup calldata used as proxy initializer.
func EncodeSetup(d Deployment, cfg AccountConfig) ([]byte, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	data, err := SafeABI.Pack("setup",
		cfg.Owners,
		new(big.Int).SetUint64(cfg.Threshold),
		common.Address{},
		[]byte{},
		d.FallbackHandler,
		common.Address{},
		big.NewInt(0),
		common.Address{},
	)
	if err != nil {
		return nil, fmt.Errorf("encode setup: %w", err)
	}
	return data, nil
}

// CalculateSalt mirrors SafeProxyFactory: keccak256(keccak256(initializer) ++ saltNonce).
func CalculateSalt(initializer []byte, saltNonce *big.Int) [32]byte {
	return crypto.Keccak256Hash(crypto.Keccak256(initializer), math.U256Bytes(new(big.Int).Set(saltNonce)))
}

// ComputeAddress derives the CREATE2 address of a proxy from the factory's
// proxy creation code.
func ComputeAddress(d Deployment, creationCode, initializer []byte, saltNonce *big.Int) common.Address {
	initCode := make([]byte, 0, len(creationCode)+32)
	initCode = append(initCode, creationCode...)
	initCode = append(initCode, common.LeftPadBytes(d.Singleton.Bytes(), 32)...)
	return crypto.CreateAddress2(d.ProxyFactory, CalculateSalt(initializer, saltNonce), crypto.Keccak256(initCode))
}

// ProxyCreationCode reads the proxy init code from the factory contract.
func ProxyCreationCode(ctx context.Context, client web3.Client, d Deployment) ([]byte, error) {
	input, err := ProxyFactoryABI.Pack("proxyCreationCode")
	if err != nil {
		return nil, err
	}
	out, err := client.CallContract(ctx, gethcore.CallMsg{To: &d.ProxyFactory, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("read proxy creation code: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("proxy factory %s is not deployed on this chain", d.ProxyFactory.Hex())
	}
	values, err := ProxyFactoryABI.Unpack("proxyCreationCode", out)
	if err != nil {
		return nil, fmt.Errorf("decode proxy creation code: %w", err)
	}
	code, ok := values[0].([]byte)
	if !ok || len(code) == 0 {
		return nil, errors.New("proxy factory returned empty creation code")
	}
	return code, nil
}

// PredictAddress returns the address p will have once deployed.
func PredictAddress(ctx context.Context, client web3.Client, d Deployment, p PredictedSafe) (common.Address, error) {
	initializer, err := EncodeSetup(d, p.AccountConfig)
	if err != nil {
		return common.Address{}, err
	}
	nonce, err := p.saltNonce()
	if err != nil {
		return common.Address{}, err
	}
	code, err := ProxyCreationCode(ctx, client, d)
	if err != nil {
		return common.Address{}, err
	}
	return ComputeAddress(d, code, initializer, nonce), nil
}
