package cow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"SafeSwap-Chain/internal/units"
	"SafeSwap-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	// DefaultSlippageBps is applied when the caller leaves slippage unset.
	DefaultSlippageBps = 50
	// DefaultValidFor is how long a posted order stays fillable.
	DefaultValidFor = 30 * time.Minute
	// DefaultPreSignGas is used when gas estimation for setPreSignature fails.
	DefaultPreSignGas uint64 = 150_000

	maxBps = 10_000
)

// TradeParameters describe a swap in human units.
type TradeParameters struct {
	Kind              OrderKind
	SellToken         common.Address
	SellTokenDecimals int
	BuyToken          common.Address
	BuyTokenDecimals  int
	// Amount is the sell amount for sell orders and the buy amount for buy
	// orders, as a decimal string in token units.
	Amount      string
	SlippageBps int
	Receiver    *common.Address
	ValidFor    time.Duration
}

func (p TradeParameters) validate() error {
	if p.Kind != OrderKindSell && p.Kind != OrderKindBuy {
		return fmt.Errorf("unsupported order kind %q", p.Kind)
	}
	if p.SellToken == (common.Address{}) || p.BuyToken == (common.Address{}) {
		return errors.New("sell and buy tokens are required")
	}
	if p.SellToken == p.BuyToken {
		return errors.New("sell and buy tokens must differ")
	}
	if strings.TrimSpace(p.Amount) == "" {
		return errors.New("trade amount is required")
	}
	if p.SlippageBps < 0 || p.SlippageBps >= maxBps {
		return fmt.Errorf("slippage %d bps out of range", p.SlippageBps)
	}
	return nil
}

// PostedOrder is the outcome of PostSwapOrder.
type PostedOrder struct {
	UID   string
	Order OrderCreation
	Quote QuoteResponse
}

// PreSignTransaction is the call an order owner makes to authorise a
// presign order on chain.
type PreSignTransaction struct {
	To       common.Address `json:"to"`
	Value    *big.Int       `json:"value"`
	Data     hexutil.Bytes  `json:"data"`
	GasLimit uint64         `json:"gasLimit"`
}

// TradingSDK builds, quotes and posts presign orders for a smart contract
// owner such as a Safe.
type TradingSDK struct {
	orderbook  *Client
	chain      web3.Client
	appCode    string
	settlement common.Address
	now        func() time.Time
}

// SDKOption customises a TradingSDK.
type SDKOption func(*TradingSDK)

// WithClock replaces time.Now, used for validTo.
func WithClock(now func() time.Time) SDKOption {
	return func(s *TradingSDK) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSettlement overrides the GPv2Settlement address.
func WithSettlement(addr common.Address) SDKOption {
	return func(s *TradingSDK) {
		if addr != (common.Address{}) {
			s.settlement = addr
		}
	}
}

// NewTradingSDK wires the orderbook client and the chain used for gas
// estimation.
func NewTradingSDK(orderbook *Client, chain web3.Client, appCode string, opts ...SDKOption) (*TradingSDK, error) {
	if orderbook == nil {
		return nil, errors.New("trading sdk requires an orderbook client")
	}
	if chain == nil {
		return nil, errors.New("trading sdk requires a chain client")
	}
	s := &TradingSDK{
		orderbook:  orderbook,
		chain:      chain,
		appCode:    appCode,
		settlement: DefaultSettlement,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Settlement returns the settlement contract orders are signed for.
func (s *TradingSDK) Settlement() common.Address {
	return s.settlement
}

// Orderbook exposes the underlying REST client.
func (s *TradingSDK) Orderbook() *Client {
	return s.orderbook
}

// SubmitError is a failure of the order POST itself. Everything before it
// (validation, app data, quote) failed without touching the relay's book.
type SubmitError struct {
	Order OrderCreation
	Err   error
}

func (e *SubmitError) Error() string {
	return "post order: " + e.Err.Error()
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// Rejected reports whether the relay answered with a definitive client
// error, so the order is known not to be in the book. Server errors, rate
// limiting and transport failures leave the outcome unknown.
func (e *SubmitError) Rejected() bool {
	var apiErr *APIError
	if !errors.As(e.Err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && !apiErr.Temporary()
}

// PostSwapOrder quotes the trade for owner, applies slippage and posts a
// presign order. The returned order is not executable until owner calls
// setPreSignature, see GetPreSignTransaction.
func (s *TradingSDK) PostSwapOrder(ctx context.Context, params TradeParameters, owner common.Address) (*PostedOrder, error) {
	if params.Kind == "" {
		params.Kind = OrderKindSell
	}
	if params.SlippageBps == 0 {
		params.SlippageBps = DefaultSlippageBps
	}
	if params.ValidFor <= 0 {
		params.ValidFor = DefaultValidFor
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	if owner == (common.Address{}) {
		return nil, errors.New("order owner is required")
	}

	appData, appDataHash, err := NewMarketAppData(s.appCode, params.SlippageBps).Encode()
	if err != nil {
		return nil, fmt.Errorf("encode app data: %w", err)
	}

	req := QuoteRequest{
		SellToken:         params.SellToken,
		BuyToken:          params.BuyToken,
		Receiver:          params.Receiver,
		From:              owner,
		Kind:              params.Kind,
		AppData:           appData,
		AppDataHash:       appDataHash,
		SellTokenBalance:  TokenBalanceERC20,
		BuyTokenBalance:   TokenBalanceERC20,
		SigningScheme:     SigningSchemePreSign,
		OnchainOrder:      false,
		PriceQuality:      "optimal",
		PartiallyFillable: false,
	}
	switch params.Kind {
	case OrderKindSell:
		amount, err := units.ParseUnits(params.Amount, params.SellTokenDecimals)
		if err != nil {
			return nil, fmt.Errorf("parse sell amount: %w", err)
		}
		req.SellAmountBeforeFee = amount.String()
	case OrderKindBuy:
		amount, err := units.ParseUnits(params.Amount, params.BuyTokenDecimals)
		if err != nil {
			return nil, fmt.Errorf("parse buy amount: %w", err)
		}
		req.BuyAmountAfterFee = amount.String()
	}
	if req.SellAmountBeforeFee == "0" || req.BuyAmountAfterFee == "0" {
		return nil, errors.New("trade amount must be positive")
	}

	quote, err := s.orderbook.Quote(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("quote order: %w", err)
	}
	sellAmount, buyAmount, err := applySlippage(params.Kind, quote.Quote, params.SlippageBps)
	if err != nil {
		return nil, err
	}

	order := OrderCreation{
		SellToken:         params.SellToken,
		BuyToken:          params.BuyToken,
		Receiver:          params.Receiver,
		SellAmount:        sellAmount.String(),
		BuyAmount:         buyAmount.String(),
		ValidTo:           uint32(s.now().Add(params.ValidFor).Unix()),
		AppData:           appData,
		AppDataHash:       appDataHash,
		FeeAmount:         "0",
		Kind:              params.Kind,
		PartiallyFillable: false,
		SellTokenBalance:  TokenBalanceERC20,
		BuyTokenBalance:   TokenBalanceERC20,
		SigningScheme:     SigningSchemePreSign,
		Signature:         owner.Bytes(),
		From:              owner,
		QuoteID:           quote.ID,
	}
	uid, err := s.orderbook.PostOrder(ctx, order)
	if err != nil {
		return nil, &SubmitError{Order: order, Err: err}
	}
	return &PostedOrder{UID: uid, Order: order, Quote: *quote}, nil
}

// applySlippage folds the quoted fee into the sell amount and widens the
// free side of the order by bps.
func applySlippage(kind OrderKind, quote OrderParameters, bps int) (*big.Int, *big.Int, error) {
	sell, ok := new(big.Int).SetString(quote.SellAmount, 10)
	if !ok {
		return nil, nil, fmt.Errorf("quote has invalid sellAmount %q", quote.SellAmount)
	}
	buy, ok := new(big.Int).SetString(quote.BuyAmount, 10)
	if !ok {
		return nil, nil, fmt.Errorf("quote has invalid buyAmount %q", quote.BuyAmount)
	}
	if fee := strings.TrimSpace(quote.FeeAmount); fee != "" {
		feeAmount, ok := new(big.Int).SetString(fee, 10)
		if !ok {
			return nil, nil, fmt.Errorf("quote has invalid feeAmount %q", quote.FeeAmount)
		}
		sell.Add(sell, feeAmount)
	}
	switch kind {
	case OrderKindSell:
		buy.Mul(buy, big.NewInt(int64(maxBps-bps)))
		buy.Quo(buy, big.NewInt(maxBps))
	case OrderKindBuy:
		sell.Mul(sell, big.NewInt(int64(maxBps+bps)))
		sell.Quo(sell, big.NewInt(maxBps))
	}
	if sell.Sign() <= 0 || buy.Sign() <= 0 {
		return nil, nil, errors.New("quoted amounts are not positive after slippage")
	}
	return sell, buy, nil
}

// GetPreSignTransaction returns the setPreSignature(uid, true) call account
// must make. Gas is estimated from account with a 20% buffer.
func (s *TradingSDK) GetPreSignTransaction(ctx context.Context, uid string, account common.Address) (*PreSignTransaction, error) {
	raw, err := DecodeOrderUID(uid)
	if err != nil {
		return nil, err
	}
	if owner := OrderUIDOwner(raw); owner != account {
		return nil, fmt.Errorf("order %s belongs to %s, not %s", uid, owner.Hex(), account.Hex())
	}
	data, err := EncodeSetPreSignature(raw, true)
	if err != nil {
		return nil, fmt.Errorf("encode setPreSignature: %w", err)
	}
	settlement := s.settlement
	gas := DefaultPreSignGas
	estimate, err := s.chain.EstimateGas(ctx, gethcore.CallMsg{From: account, To: &settlement, Data: data})
	if err == nil && estimate > 0 {
		gas = estimate + estimate/5
	}
	return &PreSignTransaction{
		To:       settlement,
		Value:    new(big.Int),
		Data:     data,
		GasLimit: gas,
	}, nil
}
