package api

import (
	"errors"
	"net/http"

	"wealthlog/pkg/wealthlog"
)

// ErrorResponse represents an error API response with structured information.
type ErrorResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
}

// writeErrorResponse writes an error response with proper HTTP status and error details.
func writeErrorResponse(w http.ResponseWriter, httpStatus int, err error) {
	response := ErrorResponse{
		Code:    httpStatus,
		Message: err.Error(),
	}

	var structured *wealthlog.Error
	if errors.As(err, &structured) {
		response.ErrorCode = string(structured.Code)
		httpStatus = mapErrorCodeToHTTPStatus(structured.Code)
		response.Code = httpStatus
	}

	writeJSON(w, httpStatus, response)
}

// mapErrorCodeToHTTPStatus maps business error codes to HTTP status codes.
func mapErrorCodeToHTTPStatus(code wealthlog.ErrorCode) int {
	switch code {
	case wealthlog.ErrCodeInvalidInput, wealthlog.ErrCodeValidation:
		return http.StatusBadRequest
	case wealthlog.ErrCodeNotFound:
		return http.StatusNotFound
	case wealthlog.ErrCodeSync:
		// The write landed; only derived state lagged behind.
		return http.StatusAccepted
	case wealthlog.ErrCodeDatabase, wealthlog.ErrCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
