package cow

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// OrderKind is the side of the order that is fixed.
type OrderKind string

const (
	OrderKindSell OrderKind = "sell"
	OrderKindBuy  OrderKind = "buy"
)

// SigningScheme is how the order owner authorises the order.
type SigningScheme string

const (
	SigningSchemeEIP712  SigningScheme = "eip712"
	SigningSchemeEthSign SigningScheme = "ethsign"
	SigningSchemeEIP1271 SigningScheme = "eip1271"
	// SigningSchemePreSign authorises the order on chain through
	// GPv2Settlement.setPreSignature, which a Safe can call.
	SigningSchemePreSign SigningScheme = "presign"
)

// TokenBalance selects where sell tokens are taken from and buy tokens paid to.
type TokenBalance string

const TokenBalanceERC20 TokenBalance = "erc20"

// OrderStatus is the lifecycle state reported by the orderbook.
type OrderStatus string

const (
	OrderStatusPresignaturePending OrderStatus = "presignaturePending"
	OrderStatusOpen                OrderStatus = "open"
	OrderStatusFulfilled           OrderStatus = "fulfilled"
	OrderStatusCancelled           OrderStatus = "cancelled"
	OrderStatusExpired             OrderStatus = "expired"
)

// QuoteRequest is the body of POST /api/v1/quote. Amounts are decimal
// strings of base units.
type QuoteRequest struct {
	SellToken           common.Address  `json:"sellToken"`
	BuyToken            common.Address  `json:"buyToken"`
	Receiver            *common.Address `json:"receiver,omitempty"`
	From                common.Address  `json:"from"`
	Kind                OrderKind       `json:"kind"`
	SellAmountBeforeFee string          `json:"sellAmountBeforeFee,omitempty"`
	BuyAmountAfterFee   string          `json:"buyAmountAfterFee,omitempty"`
	AppData             string          `json:"appData"`
	AppDataHash         common.Hash     `json:"appDataHash"`
	PartiallyFillable   bool            `json:"partiallyFillable"`
	SellTokenBalance    TokenBalance    `json:"sellTokenBalance"`
	BuyTokenBalance     TokenBalance    `json:"buyTokenBalance"`
	SigningScheme       SigningScheme   `json:"signingScheme"`
	OnchainOrder        bool            `json:"onchainOrder"`
	PriceQuality        string          `json:"priceQuality"`
	ValidFor            uint32          `json:"validFor,omitempty"`
}

// OrderParameters are the quoted order terms.
type OrderParameters struct {
	SellToken         common.Address  `json:"sellToken"`
	BuyToken          common.Address  `json:"buyToken"`
	Receiver          *common.Address `json:"receiver,omitempty"`
	SellAmount        string          `json:"sellAmount"`
	BuyAmount         string          `json:"buyAmount"`
	ValidTo           uint32          `json:"validTo"`
	AppData           string          `json:"appData"`
	AppDataHash       string          `json:"appDataHash,omitempty"`
	FeeAmount         string          `json:"feeAmount"`
	Kind              OrderKind       `json:"kind"`
	PartiallyFillable bool            `json:"partiallyFillable"`
	SellTokenBalance  TokenBalance    `json:"sellTokenBalance"`
	BuyTokenBalance   TokenBalance    `json:"buyTokenBalance"`
	SigningScheme     SigningScheme   `json:"signingScheme"`
}

// QuoteResponse is the orderbook's answer to a quote request.
type QuoteResponse struct {
	Quote      OrderParameters `json:"quote"`
	From       common.Address  `json:"from"`
	Expiration string          `json:"expiration"`
	ID         *int64          `json:"id,omitempty"`
	Verified   bool            `json:"verified"`
}

// OrderCreation is the body of POST /api/v1/orders.
type OrderCreation struct {
	SellToken         common.Address  `json:"sellToken"`
	BuyToken          common.Address  `json:"buyToken"`
	Receiver          *common.Address `json:"receiver,omitempty"`
	SellAmount        string          `json:"sellAmount"`
	BuyAmount         string          `json:"buyAmount"`
	ValidTo           uint32          `json:"validTo"`
	AppData           string          `json:"appData"`
	AppDataHash       common.Hash     `json:"appDataHash"`
	FeeAmount         string          `json:"feeAmount"`
	Kind              OrderKind       `json:"kind"`
	PartiallyFillable bool            `json:"partiallyFillable"`
	SellTokenBalance  TokenBalance    `json:"sellTokenBalance"`
	BuyTokenBalance   TokenBalance    `json:"buyTokenBalance"`
	SigningScheme     SigningScheme   `json:"signingScheme"`
	Signature         hexutil.Bytes   `json:"signature"`
	From              common.Address  `json:"from"`
	QuoteID           *int64          `json:"quoteId,omitempty"`
}

// Order is an order as stored by the orderbook.
type Order struct {
	UID                string         `json:"uid"`
	Owner              common.Address `json:"owner"`
	Status             OrderStatus    `json:"status"`
	CreationDate       string         `json:"creationDate"`
	SellToken          common.Address `json:"sellToken"`
	BuyToken           common.Address `json:"buyToken"`
	SellAmount         string         `json:"sellAmount"`
	BuyAmount          string         `json:"buyAmount"`
	ExecutedSellAmount string         `json:"executedSellAmount"`
	ExecutedBuyAmount  string         `json:"executedBuyAmount"`
	ValidTo            uint32         `json:"validTo"`
	Kind               OrderKind      `json:"kind"`
	SigningScheme      SigningScheme  `json:"signingScheme"`
	Invalidated        bool           `json:"invalidated"`
}

// OrderUIDLength is the byte length of an order UID: digest, owner, validTo.
const OrderUIDLength = 32 + 20 + 4

// DecodeOrderUID parses a 0x prefixed order UID.
func DecodeOrderUID(uid string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(uid), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid order uid %q: %w", uid, err)
	}
	if len(raw) != OrderUIDLength {
		return nil, fmt.Errorf("order uid has %d bytes, want %d", len(raw), OrderUIDLength)
	}
	return raw, nil
}

// OrderUIDOwner returns the owner encoded in an order UID.
func OrderUIDOwner(uid []byte) common.Address {
	return common.BytesToAddress(uid[32:52])
}
