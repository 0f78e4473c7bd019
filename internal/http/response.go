package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/freshmilk/internal/domain"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError maps the domain error taxonomy to HTTP statuses.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		httpStatus int
		code       string
		details    string
	)

	var stockErr *domain.InsufficientStockError
	var missing *domain.ProductNotFoundError
	switch {
	case errors.As(err, &stockErr):
		httpStatus, code, details = http.StatusConflict, "insufficient_stock", stockErr.ProductID
	case errors.As(err, &missing):
		httpStatus, code, details = http.StatusNotFound, "product_not_found", missing.ProductID
	case errors.Is(err, domain.ErrInvalidRequest):
		httpStatus, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, domain.ErrNotFound):
		httpStatus, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrIllegalTransition):
		httpStatus, code = http.StatusConflict, "illegal_transition"
	case errors.Is(err, domain.ErrCartConflict):
		httpStatus, code = http.StatusConflict, "cart_conflict"
	case errors.Is(err, domain.ErrOrderPlacementFailed):
		httpStatus, code = http.StatusServiceUnavailable, "order_placement_failed"
	case errors.Is(err, domain.ErrPaymentGateway):
		httpStatus, code = http.StatusBadGateway, "payment_gateway_error"
	default:
		slog.ErrorContext(r.Context(), "unhandled service error", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	respondJSON(w, httpStatus, ErrorResponse{Error: err.Error(), Code: code, Details: details})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Invalid("invalid JSON body: %v", err)
	}
	return nil
}
