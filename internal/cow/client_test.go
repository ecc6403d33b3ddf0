package cow

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUID(owner common.Address, validTo uint32) string {
	raw := make([]byte, OrderUIDLength)
	for i := 0; i < 32; i++ {
		raw[i] = byte(i + 1)
	}
	copy(raw[32:52], owner.Bytes())
	binary.BigEndian.PutUint32(raw[52:], validTo)
	return hexutil.Encode(raw)
}

func TestBaseURLForChain(t *testing.T) {
	url, err := BaseURLForChain(11155111)
	require.NoError(t, err)
	assert.Equal(t, "https://api.cow.fi/sepolia", url)

	url, err = BaseURLForChain(42161)
	require.NoError(t, err)
	assert.Equal(t, "https://api.cow.fi/arbitrum_one", url)

	_, err = BaseURLForChain(1337)
	assert.Error(t, err)
}

func TestNewClientRejectsInvalidURL(t *testing.T) {
	_, err := NewClient("not a url")
	assert.Error(t, err)
}

func TestClientQuoteAndPostOrder(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	uid := testUID(owner, 1700000000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sepolia/api/v1/quote":
			require.Equal(t, http.MethodPost, r.Method)
			var req QuoteRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, owner, req.From)
			assert.Equal(t, SigningSchemePreSign, req.SigningScheme)
			_ = json.NewEncoder(w).Encode(QuoteResponse{
				Quote: OrderParameters{SellAmount: "990", BuyAmount: "2000", FeeAmount: "10", Kind: OrderKindSell},
				From:  owner,
			})
		case "/sepolia/api/v1/orders":
			require.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			_ = json.NewEncoder(w).Encode(uid)
		case "/sepolia/api/v1/orders/" + uid:
			_ = json.NewEncoder(w).Encode(Order{UID: uid, Owner: owner, Status: OrderStatusPresignaturePending})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/sepolia/", WithHTTPClient(srv.Client()), WithRateLimit(0, 0))
	require.NoError(t, err)
	ctx := context.Background()

	quote, err := client.Quote(ctx, QuoteRequest{From: owner, SigningScheme: SigningSchemePreSign})
	require.NoError(t, err)
	assert.Equal(t, "990", quote.Quote.SellAmount)

	got, err := client.PostOrder(ctx, OrderCreation{From: owner})
	require.NoError(t, err)
	assert.Equal(t, uid, got)

	order, err := client.GetOrder(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusPresignaturePending, order.Status)
	assert.Equal(t, owner, order.Owner)
}

func TestClientDecodesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errorType":"NoLiquidity","description":"no route found"}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = client.Quote(context.Background(), QuoteRequest{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %T", err)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "NoLiquidity", apiErr.ErrorType)
	assert.Equal(t, "no route found", apiErr.Description)
	assert.False(t, apiErr.Temporary())
}

func TestClientPlainTextErrorIsTemporary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = client.GetOrder(context.Background(), testUID(common.Address{}, 1))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "upstream down", apiErr.Description)
	assert.True(t, apiErr.Temporary())
}

func TestPostOrderRejectsMalformedUID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode("0x1234")
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	_, err = client.PostOrder(context.Background(), OrderCreation{})
	assert.Error(t, err)
}

func TestAppDataEncodingIsCanonical(t *testing.T) {
	doc, hash, err := NewMarketAppData("awesome-app", 50).Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"appCode":"awesome-app","metadata":{"orderClass":{"orderClass":"market"},"quote":{"slippageBips":50}},"version":"1.3.0"}`, doc)

	_, again, err := NewMarketAppData("awesome-app", 50).Encode()
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	_, other, err := NewMarketAppData("awesome-app", 100).Encode()
	require.NoError(t, err)
	assert.NotEqual(t, hash, other)
}

func TestDecodeOrderUID(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	raw, err := DecodeOrderUID(testUID(owner, 42))
	require.NoError(t, err)
	assert.Equal(t, owner, OrderUIDOwner(raw))

	_, err = DecodeOrderUID("0xzz")
	assert.Error(t, err)
	_, err = DecodeOrderUID("0x" + "00")
	assert.Error(t, err)
}
