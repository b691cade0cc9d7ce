package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/order"
	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/payment"
)

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]any{"success": false, "error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondWithValidationError(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
			Error:   "Validation failed",
			Details: formatValidationErrors(validationErrors),
		})
		return
	}
	log.Error().Err(err).Msg("Unexpected error type during validation")
	respondWithError(w, http.StatusInternalServerError, "Internal validation error")
}

func formatValidationErrors(validationErrors validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(validationErrors))
	for _, fieldError := range validationErrors {
		details[fieldError.Field()] = fmt.Sprintf("failed on the '%s' rule", fieldError.Tag())
	}
	return details
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrDuplicateOrderID):
		return http.StatusConflict
	case errors.Is(err, order.ErrInvalidStatusTransition),
		errors.Is(err, order.ErrTotalMismatch),
		errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, payment.ErrMissingFields),
		errors.Is(err, payment.ErrMissingOrderID),
		errors.Is(err, payment.ErrMalformedPayload):
		return http.StatusBadRequest
	case errors.Is(err, payment.ErrInvalidSignature):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
