package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"wealthlog/pkg/wealthlog"
)

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseIntDefault(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) getAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.core.GetAccounts()
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *handler) addAccount(w http.ResponseWriter, r *http.Request) {
	var payload addAccountPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account := wealthlog.Account{
		AccountID:   payload.AccountID,
		AccountName: payload.AccountName,
		Broker:      payload.Broker,
	}
	if payload.Balance != nil {
		account.Balance = *payload.Balance
	}
	if _, err := h.core.AddAccount(account); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"account_id": payload.AccountID})
}

func (h *handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	deleted, reason, err := h.core.DeleteAccount(accountID)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusConflict, reason)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *handler) setAccountBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	var payload setBalancePayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.Balance == nil {
		writeError(w, http.StatusBadRequest, "balance required")
		return
	}
	if err := h.core.SetAccountBalance(accountID, *payload.Balance); err != nil {
		if errors.Is(err, wealthlog.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *handler) getTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := wealthlog.TransactionFilter{
		AccountID: query.Get("account_id"),
		Symbol:    query.Get("symbol"),
		Type:      query.Get("transaction_type"),
		StartDate: query.Get("start_date"),
		EndDate:   query.Get("end_date"),
		Limit:     parseIntDefault(query.Get("limit"), 100),
		Offset:    parseIntDefault(query.Get("offset"), 0),
	}
	result, err := h.core.GetTransactions(filter)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) addTransaction(w http.ResponseWriter, r *http.Request) {
	var payload addTransactionPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.core.AddTransaction(wealthlog.AddTransactionRequest{
		AccountID: payload.AccountID,
		Symbol:    payload.Symbol,
		Type:      payload.Type,
		Quantity:  payload.Quantity,
		Price:     payload.Price,
		Amount:    payload.Amount,
		Date:      payload.Date,
		AssetType: payload.AssetType,
		Metadata:  payload.Metadata,
	})
	if err != nil {
		// The append may have succeeded with only the derived-state
		// rebuild failing; the caller gets the id plus the failure.
		if wealthlog.IsErrorCode(err, wealthlog.ErrCodeSync) {
			writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "warning": err.Error()})
			return
		}
		writeErrorResponse(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *handler) rollbackTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.core.RollbackTransaction(id); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rolled back"})
}

func (h *handler) undoLastTransaction(w http.ResponseWriter, r *http.Request) {
	undone, err := h.core.UndoLast()
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, undone)
}

func (h *handler) sellShares(w http.ResponseWriter, r *http.Request) {
	var payload sellPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.Quantity == nil || payload.Price == nil {
		writeError(w, http.StatusBadRequest, "quantity and price required")
		return
	}
	result, id, err := h.core.SellShares(payload.AccountID, payload.Symbol, *payload.Quantity, *payload.Price, payload.Date)
	if err != nil {
		if errors.Is(err, wealthlog.ErrInsufficientShares) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeErrorResponse(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, sellResponse{TransactionID: id, Result: result})
}

func (h *handler) getHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := h.core.GetHoldings(r.URL.Query().Get("account_id"))
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, holdings)
}

func (h *handler) reconstructHoldings(w http.ResponseWriter, r *http.Request) {
	var payload reconstructPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id required")
		return
	}
	holdings, err := h.core.ReconstructHoldings(payload.AccountID)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, holdings)
}

func (h *handler) getLots(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	accountID := query.Get("account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "account_id required")
		return
	}
	lots, err := h.core.GetLots(accountID, query.Get("symbol"), query.Get("open_only") == "1")
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, lots)
}

func (h *handler) upsertPrice(w http.ResponseWriter, r *http.Request) {
	var payload pricePayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	quality := payload.Quality
	if quality == 0 {
		quality = wealthlog.QualityReal
	}
	source := payload.Source
	if source == "" {
		source = "manual"
	}
	err := h.core.UpsertPricePoint(wealthlog.PricePoint{
		Symbol:  payload.Symbol,
		Date:    payload.Date,
		Open:    payload.Open,
		High:    payload.High,
		Low:     payload.Low,
		Close:   payload.Close,
		Volume:  payload.Volume,
		Source:  source,
		Quality: quality,
	})
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

func (h *handler) getPrice(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	date := r.URL.Query().Get("date")
	if date == "" {
		writeError(w, http.StatusBadRequest, "date required")
		return
	}
	quote, err := h.core.GetPrice(symbol, date)
	if err != nil {
		if errors.Is(err, wealthlog.ErrNoPriceData) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeErrorResponse(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (h *handler) getPriceHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	points, err := h.core.GetPriceHistory(chi.URLParam(r, "symbol"), query.Get("start"), query.Get("end"))
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *handler) getPriceGaps(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	gaps, err := h.core.FindGaps(chi.URLParam(r, "symbol"), query.Get("start"), query.Get("end"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, gaps)
}

func (h *handler) backfillPrices(w http.ResponseWriter, r *http.Request) {
	var payload backfillPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := h.core.BackfillPrices(r.Context(), payload.Symbols, wealthlog.BackfillOptions{
		Start:   payload.Start,
		End:     payload.End,
		Limiter: h.backfillLimiter,
	})
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) getSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := h.core.GetSymbols()
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, symbols)
}

func (h *handler) updateSymbolAutoUpdate(w http.ResponseWriter, r *http.Request) {
	var payload autoUpdatePayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.core.SetSymbolAutoUpdate(chi.URLParam(r, "symbol"), payload.AutoUpdate); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *handler) runReconciliation(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	report, err := h.core.RunReconciliation(accountID)
	if err != nil {
		if errors.Is(err, wealthlog.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, err)
		return
	}
	suggestions := h.core.SuggestFixes(accountID, report)
	views := make([]suggestionView, 0, len(suggestions))
	for _, s := range suggestions {
		views = append(views, suggestionView{ID: s.ID, AccountID: s.AccountID, Description: s.Description})
	}
	writeJSON(w, http.StatusOK, reconciliationResponse{Report: report, Suggestions: views})
}

// applySuggestion recomputes the report and applies the named fix. The
// recompute guards against stale ids: a suggestion that no longer exists
// is simply not found.
func (h *handler) applySuggestion(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	var payload applySuggestionPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := h.core.RunReconciliation(accountID)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err)
		return
	}
	for _, s := range h.core.SuggestFixes(accountID, report) {
		if s.ID == payload.SuggestionID {
			if err := s.Apply(); err != nil {
				writeErrorResponse(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
			return
		}
	}
	writeError(w, http.StatusNotFound, "suggestion not found")
}

func (h *handler) getSyncErrors(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	rows, err := h.core.GetSyncErrors(query.Get("unresolved") == "1", parseIntDefault(query.Get("limit"), 100))
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *handler) recoverSyncError(w http.ResponseWriter, r *http.Request) {
	result, err := h.core.RecoverSyncError(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) resolveSyncError(w http.ResponseWriter, r *http.Request) {
	var payload resolvePayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.core.ResolveSyncError(chi.URLParam(r, "id"), payload.Resolution); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (h *handler) getPortfolioHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	accountID := query.Get("account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "account_id required")
		return
	}
	points, err := h.core.PortfolioHistory(accountID, query.Get("start"), query.Get("end"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}
