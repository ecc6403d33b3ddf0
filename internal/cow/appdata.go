package cow

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AppDataVersion is the app-data schema version emitted.
const AppDataVersion = "1.3.0"

// AppData is the order metadata document. Fields are declared in lexical
// key order so encoding/json emits the canonical, key-sorted form the
// orderbook hashes.
type AppData struct {
	AppCode     string          `json:"appCode"`
	Environment string          `json:"environment,omitempty"`
	Metadata    AppDataMetadata `json:"metadata"`
	Version     string          `json:"version"`
}

// AppDataMetadata carries the order class and quote settings.
type AppDataMetadata struct {
	OrderClass *OrderClassMetadata `json:"orderClass,omitempty"`
	Quote      *QuoteMetadata      `json:"quote,omitempty"`
}

// OrderClassMetadata labels the order as market, limit or liquidity.
type OrderClassMetadata struct {
	OrderClass string `json:"orderClass"`
}

// QuoteMetadata records the slippage the order was built with.
type QuoteMetadata struct {
	SlippageBips int `json:"slippageBips"`
}

// NewMarketAppData returns the document for a market order.
func NewMarketAppData(appCode string, slippageBps int) AppData {
	return AppData{
		AppCode: appCode,
		Metadata: AppDataMetadata{
			OrderClass: &OrderClassMetadata{OrderClass: "market"},
			Quote:      &QuoteMetadata{SlippageBips: slippageBps},
		},
		Version: AppDataVersion,
	}
}

// Encode returns the document and its keccak256 hash.
func (a AppData) Encode() (string, common.Hash, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return "", common.Hash{}, err
	}
	return string(raw), crypto.Keccak256Hash(raw), nil
}
