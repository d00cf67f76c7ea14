package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
	"github.com/vladislavdragonenkov/campusmart/internal/service/lifecycle"
)

type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Step      string `json:"step,omitempty"`
	Retryable *bool  `json:"retryable,omitempty"`
	LoginURL  string `json:"login_url,omitempty"`
}

var errBadRequestBody = errors.New("request body must be valid JSON")

func statusFor(err error) int {
	var submission *domain.SubmissionError
	if errors.As(err, &submission) {
		if submission.Retryable() {
			return http.StatusServiceUnavailable
		}
		return http.StatusUnprocessableEntity
	}

	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, errBadRequestBody),
		errors.Is(err, domain.ErrProductIDRequired),
		errors.Is(err, domain.ErrOrderIDRequired),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrReasonRequired):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrCartEmpty),
		errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrCartItemNotFound),
		errors.Is(err, domain.ErrCheckoutNotFound),
		errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrOrderAccessDenied):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrCartStoreMismatch),
		errors.Is(err, domain.ErrOutOfStock),
		errors.Is(err, domain.ErrInventoryUnavailable),
		errors.Is(err, domain.ErrNoPreviousStep),
		errors.Is(err, domain.ErrCheckoutSubmitted),
		errors.Is(err, domain.ErrCheckoutNotReady),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrRefundAlreadyRequested),
		errors.Is(err, domain.ErrEscrowNotHolding),
		errors.Is(err, domain.ErrOrderVersionConflict),
		errors.Is(err, domain.ErrIdempotencyInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPaymentDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrPaymentTemporary),
		errors.Is(err, domain.ErrPaymentIndeterminate),
		errors.Is(err, domain.ErrInventoryTemporary),
		errors.Is(err, lifecycle.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) errorBody(r *http.Request, err error) (int, errorResponse) {
	status := statusFor(err)
	body := errorResponse{Error: err.Error()}

	if ve, ok := domain.AsValidationError(err); ok {
		body.Field = ve.Field
		body.Step = string(ve.Step)
		body.Error = ve.Message
	}
	var submission *domain.SubmissionError
	if errors.As(err, &submission) {
		retryable := submission.Retryable()
		body.Retryable = &retryable
	}
	if status == http.StatusUnauthorized {
		body.LoginURL = h.loginURL(r)
	}
	if status == http.StatusInternalServerError {
		body.Error = "internal error"
	}
	return status, body
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := h.errorBody(r, err)

	entry := h.logger.WithError(err).WithFields(log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}

	writeJSON(w, status, body)
}

// loginURL строит ссылку на вход с возвратом на текущую страницу.
func (h *Handler) loginURL(r *http.Request) string {
	return h.loginPath + "?return_to=" + url.QueryEscape(r.URL.RequestURI())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
