package api

import (
	"wealthlog/pkg/wealthlog"
)

type addAccountPayload struct {
	AccountID   string            `json:"account_id"`
	AccountName string            `json:"account_name"`
	Broker      *string           `json:"broker"`
	Balance     *wealthlog.Amount `json:"balance"`
}

type setBalancePayload struct {
	Balance *wealthlog.Amount `json:"balance"`
}

type addTransactionPayload struct {
	AccountID string            `json:"account_id"`
	Symbol    string            `json:"symbol"`
	Type      string            `json:"transaction_type"`
	Quantity  *wealthlog.Amount `json:"quantity"`
	Price     *wealthlog.Amount `json:"price"`
	Amount    *wealthlog.Amount `json:"amount"`
	Date      string            `json:"transaction_date"`
	AssetType string            `json:"asset_type"`
	Metadata  *string           `json:"metadata"`
}

type sellPayload struct {
	AccountID string            `json:"account_id"`
	Symbol    string            `json:"symbol"`
	Quantity  *wealthlog.Amount `json:"quantity"`
	Price     *wealthlog.Amount `json:"price"`
	Date      string            `json:"transaction_date"`
}

type reconstructPayload struct {
	AccountID string `json:"account_id"`
}

type pricePayload struct {
	Symbol  string   `json:"symbol"`
	Date    string   `json:"date"`
	Open    float64  `json:"open"`
	High    float64  `json:"high"`
	Low     float64  `json:"low"`
	Close   float64  `json:"close"`
	Volume  *float64 `json:"volume"`
	Source  string   `json:"source"`
	Quality float64  `json:"quality"`
}

type backfillPayload struct {
	Symbols []string `json:"symbols"`
	Start   string   `json:"start"`
	End     string   `json:"end"`
}

type autoUpdatePayload struct {
	AutoUpdate bool `json:"auto_update"`
}

type applySuggestionPayload struct {
	SuggestionID string `json:"suggestion_id"`
}

type resolvePayload struct {
	Resolution string `json:"resolution"`
}

type sellResponse struct {
	TransactionID int64                 `json:"transaction_id"`
	Result        *wealthlog.SellResult `json:"result"`
}

// suggestionView is the wire shape of a repair proposal; the Apply
// closure stays server-side and is invoked by id.
type suggestionView struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	Description string `json:"description"`
}

type reconciliationResponse struct {
	Report      *wealthlog.ReconciliationReport `json:"report"`
	Suggestions []suggestionView                `json:"suggestions"`
}
