package wealthlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HTTPDoer is an interface for making HTTP requests. It enables dependency
// injection for testing without network calls.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Quote is a latest-price answer from the oracle.
type Quote struct {
	Symbol string
	Price  float64
	Date   string
	Source string
}

// coinGeckoIDs maps common crypto tickers to CoinGecko asset ids.
// Unknown tickers fall back to the lowercased symbol.
var coinGeckoIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"ADA":  "cardano",
	"DOGE": "dogecoin",
	"XRP":  "ripple",
	"DOT":  "polkadot",
	"LTC":  "litecoin",
}

type priceOracleOptions struct {
	Logger        *slog.Logger
	CacheTTL      time.Duration
	FailThreshold int
	FailWindow    time.Duration
	Cooldown      time.Duration
	HTTPTimeout   time.Duration
	HTTPClient    HTTPDoer // Optional: inject custom client for testing
}

type priceOracle struct {
	logger        *slog.Logger
	cacheTTL      time.Duration
	failThreshold int
	failWindow    time.Duration
	cooldown      time.Duration
	client        HTTPDoer

	// Separate locks for cache and circuit breaker to reduce contention.
	cacheMu      sync.RWMutex
	cache        map[string]cacheEntry
	circuitMu    sync.Mutex
	serviceState map[string]*serviceState
}

type cacheEntry struct {
	quote Quote
	ts    time.Time
}

type serviceState struct {
	failCount     int
	firstFailAt   time.Time
	cooldownUntil time.Time
}

func newPriceOracle(opts priceOracleOptions) *priceOracle {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.HTTPTimeout}
	}
	return &priceOracle{
		logger:        logger,
		cacheTTL:      opts.CacheTTL,
		failThreshold: opts.FailThreshold,
		failWindow:    opts.FailWindow,
		cooldown:      opts.Cooldown,
		client:        client,
		cache:         map[string]cacheEntry{},
		serviceState:  map[string]*serviceState{},
	}
}

// FetchQuote asks the oracle for the latest price of a symbol. The asset
// type routes crypto symbols and equities to different providers.
func (c *Core) FetchQuote(symbol, assetType string) (*Quote, error) {
	return c.oracle.fetchQuote(symbol, assetType)
}

func (o *priceOracle) fetchQuote(symbol, assetType string) (*Quote, error) {
	symbol = normalizeSymbol(symbol)
	assetType = normalizeAssetType(assetType)
	if assetType == "" {
		assetType = "stock"
	}
	if assetType == "cash" {
		return &Quote{Symbol: symbol, Price: 1.0, Date: todayISO(), Source: "fixed"}, nil
	}

	if cached, ok := o.getCached(symbol); ok {
		return &cached, nil
	}

	attempts := o.buildQuoteAttempts(symbol, assetType)
	if attempts == nil {
		return nil, fmt.Errorf("quote for %s: %w", symbol, ErrUnknownSymbolType)
	}

	var errorsList []string
	for _, attempt := range attempts {
		service := attempt.name
		if !o.serviceAvailable(service) {
			errorsList = append(errorsList, fmt.Sprintf("%s: circuit open", service))
			continue
		}
		price, err := attempt.fn()
		if err == nil && price != nil {
			o.recordServiceSuccess(service)
			quote := Quote{Symbol: symbol, Price: *price, Date: todayISO(), Source: service}
			o.setCached(symbol, quote)
			return &quote, nil
		}
		if err != nil {
			errorsList = append(errorsList, fmt.Sprintf("%s: %v", service, err))
		} else {
			errorsList = append(errorsList, fmt.Sprintf("%s: no data", service))
		}
		o.recordServiceFailure(service)
	}

	if len(errorsList) == 0 {
		errorsList = append(errorsList, "no providers available")
	}
	return nil, fmt.Errorf("quote for %s failed: %s", symbol, strings.Join(errorsList, "; "))
}

type fetchAttempt struct {
	name string
	fn   func() (*float64, error)
}

func (o *priceOracle) buildQuoteAttempts(symbol, assetType string) []fetchAttempt {
	switch assetType {
	case "crypto":
		return []fetchAttempt{
			{"CoinGecko", func() (*float64, error) { return o.coingeckoFetchPrice(symbol) }},
			{"Binance", func() (*float64, error) { return o.binanceFetchPrice(symbol) }},
		}
	case "stock", "etf":
		return []fetchAttempt{
			{"Yahoo Finance", func() (*float64, error) { return o.yahooFetchQuote(symbol) }},
			{"Stooq", func() (*float64, error) { return o.stooqFetchQuote(symbol) }},
		}
	default:
		return nil
	}
}

// fetchDailyHistory pulls daily OHLC bars for a date range. The returned
// points carry QualityReal and the providing service as source.
func (o *priceOracle) fetchDailyHistory(symbol, assetType, start, end string) ([]PricePoint, error) {
	symbol = normalizeSymbol(symbol)
	assetType = normalizeAssetType(assetType)

	startDate, ok := parseISODate(start)
	if !ok {
		return nil, NewError(ErrCodeValidation, fmt.Sprintf("invalid start date: %s", start))
	}
	endDate, ok := parseISODate(end)
	if !ok {
		return nil, NewError(ErrCodeValidation, fmt.Sprintf("invalid end date: %s", end))
	}

	switch assetType {
	case "crypto":
		return o.coingeckoFetchHistory(symbol, startDate, endDate)
	case "stock", "etf":
		return o.yahooFetchHistory(symbol, startDate, endDate)
	default:
		return nil, fmt.Errorf("history for %s: %w", symbol, ErrUnknownSymbolType)
	}
}

func (o *priceOracle) getCached(symbol string) (Quote, bool) {
	o.cacheMu.RLock()
	defer o.cacheMu.RUnlock()
	entry, ok := o.cache[symbol]
	if !ok {
		return Quote{}, false
	}
	if time.Since(entry.ts) <= o.cacheTTL {
		return entry.quote, true
	}
	return Quote{}, false
}

func (o *priceOracle) setCached(symbol string, quote Quote) {
	o.cacheMu.Lock()
	defer o.cacheMu.Unlock()
	o.cache[symbol] = cacheEntry{quote: quote, ts: time.Now()}
}

func (o *priceOracle) serviceAvailable(service string) bool {
	o.circuitMu.Lock()
	defer o.circuitMu.Unlock()
	state, ok := o.serviceState[service]
	if !ok {
		return true
	}
	return time.Now().After(state.cooldownUntil)
}

func (o *priceOracle) recordServiceFailure(service string) {
	o.circuitMu.Lock()
	defer o.circuitMu.Unlock()
	state := o.serviceState[service]
	now := time.Now()
	if state == nil {
		state = &serviceState{firstFailAt: now}
		o.serviceState[service] = state
	}
	if now.Sub(state.firstFailAt) > o.failWindow {
		state.failCount = 0
		state.firstFailAt = now
	}
	state.failCount++
	if state.failCount >= o.failThreshold {
		state.cooldownUntil = now.Add(o.cooldown)
	}
}

func (o *priceOracle) recordServiceSuccess(service string) {
	o.circuitMu.Lock()
	defer o.circuitMu.Unlock()
	delete(o.serviceState, service)
}

// Yahoo Finance chart API.
func (o *priceOracle) yahooFetchQuote(symbol string) (*float64, error) {
	url := fmt.Sprintf("https://query1.finance.yahoo.com/v8/finance/chart/%s?interval=1d&range=1d", symbol)
	body, err := o.httpGet(context.Background(), url, map[string]string{"User-Agent": "Mozilla/5.0"})
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	chart, _ := payload["chart"].(map[string]any)
	results, _ := chart["result"].([]any)
	if len(results) == 0 {
		return nil, nil
	}
	result, _ := results[0].(map[string]any)
	meta, _ := result["meta"].(map[string]any)
	if meta != nil {
		if price, err := parseFloat(meta["regularMarketPrice"]); err == nil && price > 0 {
			return &price, nil
		}
	}
	indicators, _ := result["indicators"].(map[string]any)
	quoteArr, _ := indicators["quote"].([]any)
	if len(quoteArr) == 0 {
		return nil, nil
	}
	quote, _ := quoteArr[0].(map[string]any)
	closes, _ := quote["close"].([]any)
	if len(closes) == 0 {
		return nil, nil
	}
	price, err := parseFloat(closes[len(closes)-1])
	if err != nil {
		return nil, err
	}
	return &price, nil
}

func (o *priceOracle) yahooFetchHistory(symbol string, start, end time.Time) ([]PricePoint, error) {
	url := fmt.Sprintf(
		"https://query1.finance.yahoo.com/v8/finance/chart/%s?interval=1d&period1=%d&period2=%d",
		symbol, start.Unix(), end.AddDate(0, 0, 1).Unix(),
	)
	body, err := o.httpGet(context.Background(), url, map[string]string{"User-Agent": "Mozilla/5.0"})
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	chart, _ := payload["chart"].(map[string]any)
	results, _ := chart["result"].([]any)
	if len(results) == 0 {
		return nil, nil
	}
	result, _ := results[0].(map[string]any)
	timestamps, _ := result["timestamp"].([]any)
	indicators, _ := result["indicators"].(map[string]any)
	quoteArr, _ := indicators["quote"].([]any)
	if len(quoteArr) == 0 {
		return nil, nil
	}
	quote, _ := quoteArr[0].(map[string]any)
	opens, _ := quote["open"].([]any)
	highs, _ := quote["high"].([]any)
	lows, _ := quote["low"].([]any)
	closes, _ := quote["close"].([]any)
	volumes, _ := quote["volume"].([]any)

	var points []PricePoint
	for i, ts := range timestamps {
		unix, err := parseFloat(ts)
		if err != nil {
			continue
		}
		closePrice, err := parseFloat(at(closes, i))
		if err != nil || closePrice <= 0 {
			continue
		}
		p := PricePoint{
			Symbol:  symbol,
			Date:    time.Unix(int64(unix), 0).UTC().Format(isoDate),
			Close:   closePrice,
			Source:  "Yahoo Finance",
			Quality: QualityReal,
		}
		if v, err := parseFloat(at(opens, i)); err == nil {
			p.Open = v
		} else {
			p.Open = closePrice
		}
		if v, err := parseFloat(at(highs, i)); err == nil {
			p.High = v
		} else {
			p.High = closePrice
		}
		if v, err := parseFloat(at(lows, i)); err == nil {
			p.Low = v
		} else {
			p.Low = closePrice
		}
		if v, err := parseFloat(at(volumes, i)); err == nil {
			p.Volume = &v
		}
		points = append(points, p)
	}
	return points, nil
}

// Stooq daily quote CSV endpoint.
func (o *priceOracle) stooqFetchQuote(symbol string) (*float64, error) {
	url := fmt.Sprintf("https://stooq.com/q/l/?s=%s.us&f=sd2t2ohlcv&h&e=csv", strings.ToLower(symbol))
	body, err := o.httpGet(context.Background(), url, nil)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) < 2 {
		return nil, nil
	}
	fields := strings.Split(lines[1], ",")
	// Symbol,Date,Time,Open,High,Low,Close,Volume
	if len(fields) < 7 {
		return nil, nil
	}
	price, err := strconv.ParseFloat(fields[6], 64)
	if err != nil || price <= 0 {
		return nil, nil
	}
	return &price, nil
}

// CoinGecko simple price endpoint.
func (o *priceOracle) coingeckoFetchPrice(symbol string) (*float64, error) {
	id := coingeckoID(symbol)
	url := fmt.Sprintf("https://api.coingecko.com/api/v3/simple/price?ids=%s&vs_currencies=usd", id)
	body, err := o.httpGet(context.Background(), url, nil)
	if err != nil {
		return nil, err
	}
	var payload map[string]map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	entry, ok := payload[id]
	if !ok {
		return nil, nil
	}
	price, err := parseFloat(entry["usd"])
	if err != nil {
		return nil, err
	}
	return &price, nil
}

func (o *priceOracle) coingeckoFetchHistory(symbol string, start, end time.Time) ([]PricePoint, error) {
	id := coingeckoID(symbol)
	url := fmt.Sprintf(
		"https://api.coingecko.com/api/v3/coins/%s/market_chart/range?vs_currency=usd&from=%d&to=%d",
		id, start.Unix(), end.AddDate(0, 0, 1).Unix(),
	)
	body, err := o.httpGet(context.Background(), url, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Prices [][]float64 `json:"prices"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	// Keep the last sample per day; the range endpoint returns intraday
	// granularity for short windows.
	byDate := map[string]float64{}
	var order []string
	for _, pair := range payload.Prices {
		if len(pair) < 2 {
			continue
		}
		date := time.UnixMilli(int64(pair[0])).UTC().Format(isoDate)
		if _, seen := byDate[date]; !seen {
			order = append(order, date)
		}
		byDate[date] = pair[1]
	}

	var points []PricePoint
	for _, date := range order {
		price := byDate[date]
		if price <= 0 {
			continue
		}
		points = append(points, PricePoint{
			Symbol:  symbol,
			Date:    date,
			Open:    price,
			High:    price,
			Low:     price,
			Close:   price,
			Source:  "CoinGecko",
			Quality: QualityReal,
		})
	}
	return points, nil
}

// Binance spot ticker endpoint, used as a crypto fallback.
func (o *priceOracle) binanceFetchPrice(symbol string) (*float64, error) {
	url := fmt.Sprintf("https://api.binance.com/api/v3/ticker/price?symbol=%sUSDT", symbol)
	body, err := o.httpGet(context.Background(), url, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	if payload.Price == "" {
		return nil, nil
	}
	price, err := strconv.ParseFloat(payload.Price, 64)
	if err != nil {
		return nil, err
	}
	return &price, nil
}

func coingeckoID(symbol string) string {
	if id, ok := coinGeckoIDs[symbol]; ok {
		return id
	}
	return strings.ToLower(symbol)
}

func at(arr []any, i int) any {
	if i < 0 || i >= len(arr) {
		return nil
	}
	return arr[i]
}

// maxResponseSize limits external API responses to 1MB to prevent memory exhaustion.
const maxResponseSize = 1 << 20 // 1MB

func (o *priceOracle) httpGet(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
}

func parseFloat(value any) (float64, error) {
	switch v := value.(type) {
	case nil:
		return 0, errors.New("no value")
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		if v == "" {
			return 0, errors.New("empty")
		}
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", value)
	}
}
