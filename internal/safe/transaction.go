package safe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

// OperationType selects how the Safe invokes the target.
type OperationType uint8

const (
	Call         OperationType = 0
	DelegateCall OperationType = 1
)

func (o OperationType) String() string {
	switch o {
	case Call:
		return "call"
	case DelegateCall:
		return "delegatecall"
	default:
		return fmt.Sprintf("operation(%d)", uint8(o))
	}
}

// MetaTransaction is a single call the Safe should perform.
type MetaTransaction struct {
	To        common.Address `json:"to"`
	Value     *big.Int       `json:"value"`
	Data      hexutil.Bytes  `json:"data"`
	Operation OperationType  `json:"operation"`
}

// TransactionData is the full SafeTx struct that owners sign.
type TransactionData struct {
	MetaTransaction
	SafeTxGas      *big.Int       `json:"safeTxGas"`
	BaseGas        *big.Int       `json:"baseGas"`
	GasPrice       *big.Int       `json:"gasPrice"`
	GasToken       common.Address `json:"gasToken"`
	RefundReceiver common.Address `json:"refundReceiver"`
	Nonce          uint64         `json:"nonce"`
}

// Signature is one owner's approval of a Safe transaction.
type Signature struct {
	Signer common.Address
	Data   []byte
}

// Transaction is a Safe transaction plus the signatures collected for it.
type Transaction struct {
	Data       TransactionData
	Signatures map[common.Address]Signature
}

// AddSignature records sig, replacing any earlier signature of the same owner.
func (t *Transaction) AddSignature(sig Signature) {
	if t.Signatures == nil {
		t.Signatures = make(map[common.Address]Signature)
	}
	t.Signatures[sig.Signer] = sig
}

// EncodedSignatures concatenates the signatures sorted by owner address, as
// Safe.checkSignatures requires.
func (t *Transaction) EncodedSignatures() []byte {
	owners := make([]common.Address, 0, len(t.Signatures))
	for owner := range t.Signatures {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool {
		return bytes.Compare(owners[i].Bytes(), owners[j].Bytes()) < 0
	})
	var out []byte
	for _, owner := range owners {
		out = append(out, t.Signatures[owner].Data...)
	}
	return out
}

// PreValidatedSignature is the approval an owner gives implicitly by being
// msg.sender of execTransaction: r = owner, s = 0, v = 1.
func PreValidatedSignature(owner common.Address) Signature {
	sig := make([]byte, 65)
	copy(sig[12:32], owner.Bytes())
	sig[64] = 1
	return Signature{Signer: owner, Data: sig}
}

// EncodeMultiSend packs txs into the MultiSend transactions blob: for each
// call uint8 operation, address to, uint256 value, uint256 length, bytes data.
func EncodeMultiSend(txs []MetaTransaction) ([]byte, error) {
	if len(txs) == 0 {
		return nil, errors.New("multisend requires at least one transaction")
	}
	var buf bytes.Buffer
	for _, tx := range txs {
		buf.WriteByte(byte(tx.Operation))
		buf.Write(tx.To.Bytes())
		value := tx.Value
		if value == nil {
			value = new(big.Int)
		}
		buf.Write(math.U256Bytes(new(big.Int).Set(value)))
		var length [32]byte
		binary.BigEndian.PutUint64(length[24:], uint64(len(tx.Data)))
		buf.Write(length[:])
		buf.Write(tx.Data)
	}
	return buf.Bytes(), nil
}

func normalize(tx MetaTransaction) MetaTransaction {
	if tx.Value == nil {
		tx.Value = new(big.Int)
	}
	if tx.Data == nil {
		tx.Data = hexutil.Bytes{}
	}
	return tx
}
