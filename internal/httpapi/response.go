package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/schuttebj/ampro-platform-sub001/internal/history"
	"github.com/schuttebj/ampro-platform-sub001/internal/notifier"
	"github.com/schuttebj/ampro-platform-sub001/internal/settings"
)

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type apiError struct {
	Status string    `json:"status"`
	Error  errorBody `json:"error"`
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, envelope{Status: "success", Data: data})
}

func writeMessage(w http.ResponseWriter, statusCode int, message string, data any) {
	writeJSON(w, statusCode, envelope{Status: "success", Message: message, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	writeJSON(w, statusCode, apiError{
		Status: "error",
		Error:  errorBody{Code: code, Message: message, RequestID: requestIDFromContext(r.Context())},
	})
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapDomainError(err)
	writeError(w, r, status, code, msg)
}

func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, notifier.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "notification not found"
	case errors.Is(err, notifier.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION", err.Error()
	case errors.Is(err, notifier.ErrDisabled):
		return http.StatusConflict, "DISABLED", "notifications are disabled"
	case errors.Is(err, notifier.ErrStopped):
		return http.StatusServiceUnavailable, "UNAVAILABLE", "engine stopped"
	case errors.Is(err, notifier.ErrFetch):
		return http.StatusBadGateway, "FETCH_FAILED", err.Error()
	case errors.Is(err, settings.ErrInvalidSettings),
		errors.Is(err, history.ErrInvalidFilter),
		errors.Is(err, history.ErrUnknownAction):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

func parseIntDefault(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
