package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/kaanyurdkl/storefront/internal/domain"
	"github.com/kaanyurdkl/storefront/internal/identity"
	"github.com/kaanyurdkl/storefront/internal/orders"
	"github.com/kaanyurdkl/storefront/internal/repository"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, details string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Details: details,
	})
}

// handleServiceError maps the error taxonomy onto HTTP statuses:
// validation 400, unauthorized 401, not found 404, conflicts 409 and
// upstream failures 502.
func handleServiceError(w http.ResponseWriter, err error) {
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		respondError(w, http.StatusBadRequest, "validation_failed", validation.Error())
		return
	}

	var upstream *domain.UpstreamError
	if errors.As(err, &upstream) {
		respondError(w, http.StatusBadGateway, "upstream_failure", "a collaborator is unavailable, please retry")
		return
	}

	switch {
	case errors.Is(err, identity.ErrInvalidToken):
		respondError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
	case errors.Is(err, repository.ErrCartNotFound),
		errors.Is(err, repository.ErrItemNotFound),
		errors.Is(err, repository.ErrPromoCodeNotFound),
		errors.Is(err, orders.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, repository.ErrCartExists),
		errors.Is(err, repository.ErrMergeConflict),
		errors.Is(err, repository.ErrDuplicateCode),
		errors.Is(err, repository.ErrCodeExhausted),
		errors.Is(err, orders.ErrDuplicateOrder):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
	}
}
