package wealthlog

// TransactionTypes lists the accepted transaction kinds.
var TransactionTypes = []string{
	"BUY",
	"SELL",
	"DIVIDEND",
	"DEPOSIT",
	"WITHDRAWAL",
	"FEE",
	"SPLIT",
}

// AssetTypes lists the accepted symbol classifications. The asset type
// decides which price oracle a symbol routes to.
var AssetTypes = []string{"stock", "etf", "crypto", "cash"}

// Transaction is an immutable ledger entry. Rows are append-only: after
// creation the only permitted mutation is the metadata annotation written
// by the lot ledger (realized gain audit).
type Transaction struct {
	ID        int64   `json:"id"`
	AccountID string  `json:"account_id"`
	Symbol    *string `json:"symbol"`
	Type      string  `json:"transaction_type"`
	Quantity  *Amount `json:"quantity"`
	Price     *Amount `json:"price"`
	Amount    Amount  `json:"amount"`
	Date      string  `json:"transaction_date"`
	Metadata  *string `json:"metadata"`
	CreatedAt *string `json:"created_at"`
}

// AddTransactionRequest defines inputs to append a transaction.
type AddTransactionRequest struct {
	AccountID string
	Symbol    string
	Type      string
	Quantity  *Amount
	Price     *Amount
	Amount    *Amount
	Date      string
	AssetType string
	Metadata  *string
}

// TransactionFilter controls transaction queries.
type TransactionFilter struct {
	AccountID string
	Symbol    string
	Type      string
	StartDate string
	EndDate   string
	Limit     int
	Offset    int
}

// Holding is a derived snapshot of one (account, symbol) position. It is
// a cache over the transaction log and is always re-derivable from it.
type Holding struct {
	AccountID    string  `json:"account_id"`
	Symbol       string  `json:"symbol"`
	AssetType    string  `json:"asset_type"`
	Quantity     Amount  `json:"quantity"`
	CostBasis    Amount  `json:"cost_basis"`
	AvgCost      Amount  `json:"avg_cost"`
	CurrentPrice float64 `json:"current_price"`
	PriceSource  string  `json:"price_source"`
	CurrentValue float64 `json:"current_value"`
	UpdatedAt    *string `json:"updated_at"`
}

// Lot statuses.
const (
	LotOpen   = "open"
	LotClosed = "closed"
)

// Lot is a discrete purchase batch tracked for FIFO cost-basis and
// realized-gain accounting.
type Lot struct {
	ID                  int64  `json:"id"`
	AccountID           string `json:"account_id"`
	Symbol              string `json:"symbol"`
	PurchaseDate        string `json:"purchase_date"`
	Quantity            Amount `json:"quantity"`
	QuantityRemaining   Amount `json:"quantity_remaining"`
	CostPerShare        Amount `json:"cost_per_share"`
	TotalCost           Amount `json:"total_cost"`
	SourceTransactionID int64  `json:"source_transaction_id"`
	Status              string `json:"status"`
}

// SellResult reports the outcome of a FIFO sell.
type SellResult struct {
	QuantitySold Amount  `json:"quantity_sold"`
	CostBasis    Amount  `json:"cost_basis"`
	RealizedGain Amount  `json:"realized_gain"`
	LotsTouched  []int64 `json:"lots_touched"`
}

// Price quality scores. Real data always outranks any fill; a stored
// entry is never overwritten by lower-quality data.
const (
	QualityReal         = 1.0
	QualityFilled       = 0.7
	QualityInterpolated = 0.5
	QualityMissing      = 0.0
)

// PricePoint is one OHLC entry in the per-symbol price history.
type PricePoint struct {
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

// PriceQuote is the answer to a point-in-time price lookup, carrying the
// provenance of the number so callers can tell real data from estimates.
type PriceQuote struct {
	Symbol  string  `json:"symbol"`
	Date    string  `json:"date"`
	Price   float64 `json:"price"`
	Quality float64 `json:"quality"`
	Source  string  `json:"source"`
}

// GapRange is a contiguous run of missing weekdays in a price history.
type GapRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Days  int    `json:"days"`
}

// SyncReport summarizes a backfill run, including partial progress when
// the run was cancelled mid-way.
type SyncReport struct {
	SymbolsProcessed int      `json:"symbols_processed"`
	PointsStored     int      `json:"points_stored"`
	PointsSkipped    int      `json:"points_skipped"`
	Errors           []string `json:"errors"`
	Cancelled        bool     `json:"cancelled"`
}

// Reconciliation severity levels.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// ReconciliationCheck compares an account's stored balance against the
// sum of its transaction amounts. Ephemeral, computed on demand.
type ReconciliationCheck struct {
	AccountID        string `json:"account_id"`
	ExpectedBalance  Amount `json:"expected_balance"`
	ActualBalance    Amount `json:"actual_balance"`
	Difference       Amount `json:"difference"`
	TransactionCount int    `json:"transaction_count"`
	Severity         string `json:"severity"`
	Passed           bool   `json:"passed"`
}

// Discrepancy flags a mismatch between stored and freshly derived state.
type Discrepancy struct {
	AccountID  string `json:"account_id"`
	Symbol     string `json:"symbol"`
	Field      string `json:"field"`
	Stored     Amount `json:"stored"`
	Derived    Amount `json:"derived"`
	Difference Amount `json:"difference"`
}

// Suggestion is a proposed repair. Apply is optional and idempotent; the
// engine never invokes it without an explicit request.
type Suggestion struct {
	ID          string       `json:"id"`
	AccountID   string       `json:"account_id"`
	Description string       `json:"description"`
	Apply       func() error `json:"-"`
}

// ReconciliationReport bundles the on-demand audit results for one account.
type ReconciliationReport struct {
	Balance       *ReconciliationCheck `json:"balance"`
	Discrepancies []Discrepancy        `json:"discrepancies"`
	Duplicates    [][]Transaction      `json:"duplicates"`
}

// SyncError is one row of the append-only recovery audit log.
type SyncError struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Message    string  `json:"message"`
	Context    *string `json:"context"`
	Resolved   bool    `json:"resolved"`
	Resolution *string `json:"resolution"`
	CreatedAt  *string `json:"created_at"`
}

// RecoveryResult reports the outcome of an automated recovery attempt.
type RecoveryResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Account represents an investment account. Balance is the externally
// reported cash balance that reconciliation checks against.
type Account struct {
	AccountID   string  `json:"account_id"`
	AccountName string  `json:"account_name"`
	Broker      *string `json:"broker"`
	Balance     Amount  `json:"balance"`
	CreatedAt   *string `json:"created_at"`
}

// Symbol represents symbol metadata used for oracle routing.
type Symbol struct {
	ID         int64   `json:"id"`
	Symbol     string  `json:"symbol"`
	Name       *string `json:"name"`
	AssetType  string  `json:"asset_type"`
	AutoUpdate int     `json:"auto_update"`
}

// PortfolioPoint is one entry in the cumulative market-value series.
type PortfolioPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}
