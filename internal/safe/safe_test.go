package safe

import (
	"math/big"
	"testing"

	"SafeSwap-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountConfigValidate(t *testing.T) {
	a := common.HexToAddress("0x01")
	b := common.HexToAddress("0x02")
	cases := []struct {
		name string
		cfg  AccountConfig
		ok   bool
	}{
		{"valid", AccountConfig{Owners: []common.Address{a, b}, Threshold: 1}, true},
		{"no owners", AccountConfig{Threshold: 1}, false},
		{"zero threshold", AccountConfig{Owners: []common.Address{a}}, false},
		{"threshold too high", AccountConfig{Owners: []common.Address{a}, Threshold: 2}, false},
		{"duplicate", AccountConfig{Owners: []common.Address{a, a}, Threshold: 1}, false},
		{"zero owner", AccountConfig{Owners: []common.Address{{}}, Threshold: 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDeriveSaltNonce(t *testing.T) {
	owners := []common.Address{common.HexToAddress("0x01"), common.HexToAddress("0x02")}
	first := DeriveSaltNonce(big.NewInt(1), owners)
	assert.Equal(t, first, DeriveSaltNonce(big.NewInt(1), owners))
	assert.NotEqual(t, first, DeriveSaltNonce(big.NewInt(5), owners))
	assert.NotEqual(t, first, DeriveSaltNonce(big.NewInt(1), []common.Address{owners[1], owners[0]}))

	n, ok := new(big.Int).SetString(first, 10)
	require.True(t, ok)
	assert.True(t, n.Cmp(saltModulus) < 0)
}

func TestRandomSaltNonceHasTenDigits(t *testing.T) {
	for i := 0; i < 20; i++ {
		nonce, err := RandomSaltNonce()
		require.NoError(t, err)
		assert.Len(t, nonce, 10)
	}
}

func TestEncodeMultiSendLayout(t *testing.T) {
	to := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	packed, err := EncodeMultiSend([]MetaTransaction{{To: to, Value: big.NewInt(3), Data: []byte{0xaa, 0xbb}}})
	require.NoError(t, err)
	require.Len(t, packed, 1+20+32+32+2)
	assert.Equal(t, byte(Call), packed[0])
	assert.Equal(t, to.Bytes(), packed[1:21])
	assert.Equal(t, byte(3), packed[52])
	assert.Equal(t, byte(2), packed[84])
	assert.Equal(t, []byte{0xaa, 0xbb}, packed[85:])

	_, err = EncodeMultiSend(nil)
	assert.Error(t, err)
}

func TestTransactionHashDependsOnDomain(t *testing.T) {
	hash := func(chainID int64, safe common.Address, data TransactionData) common.Hash {
		h, err := TransactionHash(big.NewInt(chainID), safe, data)
		require.NoError(t, err)
		return h
	}
	data := TransactionData{MetaTransaction: MetaTransaction{To: common.HexToAddress("0x01"), Value: big.NewInt(0)}}
	safeA := common.HexToAddress("0xa")
	base := hash(1, safeA, data)

	assert.NotEqual(t, base, hash(2, safeA, data))
	assert.NotEqual(t, base, hash(1, common.HexToAddress("0xb"), data))
	data.Nonce = 1
	assert.NotEqual(t, base, hash(1, safeA, data))
}

// The Safe contract computes getTransactionHash as
// keccak256(0x1901 || domainSeparator || keccak256(SafeTx encoding)).
func TestTransactionHashMatchesContractEncoding(t *testing.T) {
	word := func(n int64) []byte { return common.LeftPadBytes(big.NewInt(n).Bytes(), 32) }
	addr := func(a common.Address) []byte { return common.LeftPadBytes(a.Bytes(), 32) }

	chainID := int64(11155111)
	safeAddress := common.HexToAddress("0x5afe00000000000000000000000000000000beef")
	data := TransactionData{
		MetaTransaction: MetaTransaction{
			To:        common.HexToAddress("0x9008D19f58AAbD9eD0D60971565AA8510560ab41"),
			Value:     big.NewInt(0),
			Data:      []byte{0xec, 0x6c, 0xb1, 0x3f},
			Operation: Call,
		},
		Nonce: 3,
	}

	domain := crypto.Keccak256(
		crypto.Keccak256([]byte("EIP712Domain(uint256 chainId,address verifyingContract)")),
		word(chainID),
		addr(safeAddress),
	)
	structHash := crypto.Keccak256(
		crypto.Keccak256([]byte("SafeTx(address to,uint256 value,bytes data,uint8 operation,uint256 safeTxGas,uint256 baseGas,uint256 gasPrice,address gasToken,address refundReceiver,uint256 nonce)")),
		addr(data.To),
		word(0),
		crypto.Keccak256(data.Data),
		word(0),
		word(0),
		word(0),
		word(0),
		addr(common.Address{}),
		addr(common.Address{}),
		word(3),
	)
	want := crypto.Keccak256Hash([]byte{0x19, 0x01}, domain, structHash)

	got, err := TransactionHash(big.NewInt(chainID), safeAddress, data)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestHasSameOwners(t *testing.T) {
	a, b := common.HexToAddress("0x0a"), common.HexToAddress("0x0b")
	assert.True(t, HasSameOwners([]common.Address{a, b}, []common.Address{a, b}))
	assert.False(t, HasSameOwners([]common.Address{a, b}, []common.Address{b, a}))
	assert.False(t, HasSameOwners([]common.Address{a}, []common.Address{a, b}))
}

func TestSignHashRecoversSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := NewSignerFromKey(key)
	hash := crypto.Keccak256Hash([]byte("safe tx"))

	sig, err := signer.SignHash(hash)
	require.NoError(t, err)
	require.Len(t, sig.Data, 65)
	assert.Contains(t, []byte{27, 28}, sig.Data[64])

	raw := append([]byte(nil), sig.Data...)
	raw[64] -= 27
	pub, err := crypto.SigToPub(hash.Bytes(), raw)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), crypto.PubkeyToAddress(*pub))
}

func TestNewSignerParsesHex(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := "0x" + common.Bytes2Hex(crypto.FromECDSA(key))
	signer, err := NewSigner(hexKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), signer.Address())

	_, err = NewSigner("")
	assert.Error(t, err)
	_, err = NewSigner("zz")
	assert.Error(t, err)
}

func TestEncodedSignaturesSortedByOwner(t *testing.T) {
	high := PreValidatedSignature(common.HexToAddress("0xff"))
	low := PreValidatedSignature(common.HexToAddress("0x01"))
	tx := &Transaction{}
	tx.AddSignature(high)
	tx.AddSignature(low)
	encoded := tx.EncodedSignatures()
	require.Len(t, encoded, 130)
	assert.Equal(t, low.Data, encoded[:65])
	assert.Equal(t, high.Data, encoded[65:])
}

func TestDeploymentFor(t *testing.T) {
	d, err := DeploymentFor(web3.SafeContracts{Version: "1.3.0", ProxyFactory: "0x00000000000000000000000000000000000000f1"}, false)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf1"), d.ProxyFactory)
	assert.Equal(t, common.HexToAddress("0xd9Db270c1B5E3Bd161E8c8503c55cEABeE709552"), d.Singleton)

	_, err = DeploymentFor(web3.SafeContracts{Version: "0.9"}, false)
	assert.Error(t, err)
	_, err = DeploymentFor(web3.SafeContracts{Singleton: "nope"}, false)
	assert.Error(t, err)
}
