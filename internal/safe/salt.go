package safe

import (
	"crypto/rand"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// saltModulus keeps salt nonces at most ten decimal digits.
var saltModulus = big.NewInt(10_000_000_000)

// DeriveSaltNonce returns a salt nonce that is stable for a chain and owner
// list, so predicting the same Safe twice yields the same address.
func DeriveSaltNonce(chainID *big.Int, owners []common.Address) string {
	buf := make([]byte, 0, 32+20*len(owners))
	buf = append(buf, math.U256Bytes(new(big.Int).Set(chainID))...)
	for _, owner := range owners {
		buf = append(buf, owner.Bytes()...)
	}
	digest := new(big.Int).SetBytes(crypto.Keccak256(buf))
	return digest.Mod(digest, saltModulus).String()
}

// RandomSaltNonce returns a random ten digit salt nonce.
func RandomSaltNonce() (string, error) {
	span := new(big.Int).Sub(saltModulus, big.NewInt(1_000_000_000))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", err
	}
	return n.Add(n, big.NewInt(1_000_000_000)).String(), nil
}
