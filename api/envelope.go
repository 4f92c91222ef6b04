package api

import (
	"encoding/json"
	"net/http"

	"temporal-fulfillment/saga"
)

// Kinds produced by the API layer itself
const (
	KindUnauthorized saga.Kind = "unauthorized"
	KindForbidden    saga.Kind = "forbidden"
	KindRateLimited  saga.Kind = "rate_limited"
)

// Envelope wraps every JSON response
type Envelope struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Kind      saga.Kind `json:"kind,omitempty"`
	Retriable bool      `json:"retriable,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind saga.Kind) int {
	switch kind {
	case saga.KindGuardViolation:
		return http.StatusUnprocessableEntity
	case saga.KindAlreadyFinalized, saga.KindConflict:
		return http.StatusConflict
	case saga.KindNotFound:
		return http.StatusNotFound
	case saga.KindUnavailable:
		return http.StatusServiceUnavailable
	case saga.KindBadRequest:
		return http.StatusBadRequest
	case saga.KindRejected:
		return http.StatusBadGateway
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, kind saga.Kind, msg string) {
	writeJSON(w, StatusFor(kind), Envelope{Error: msg, Kind: kind, Retriable: kind.Retriable()})
}

// writeResult reports a saga result. Failed sagas keep their steps in data
// so the caller can see how far the saga got.
func writeResult(w http.ResponseWriter, result saga.Result) {
	if result.Success {
		writeJSON(w, http.StatusOK, Envelope{Success: true, Message: result.Message, Data: result})
		return
	}
	writeJSON(w, StatusFor(result.Kind), Envelope{
		Error:     result.Error,
		Kind:      result.Kind,
		Retriable: result.Retriable,
		Data:      result,
	})
}
