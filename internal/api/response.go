// Package api implements the HTTP/JSON surface: ad-hoc call placement,
// CRUD over calls/campaigns/contacts/events, recording download, and
// the webhook and realtime endpoints it mounts alongside.
//
// Grounded on apicall's internal/api/server.go route-handling idiom
// (stdlib net/http, manual decode/validate, a uniform response
// envelope), routed with github.com/go-chi/chi/v5 (adopted from
// flowpbx-flowpbx) instead of apicall's hand-rolled path-prefix
// slicing, since this surface is dense with path parameters.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"voxcampaign/internal/apperr"
)

// envelope is the standard response shape for every endpoint: success,
// data, error, details, timestamp.
type envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Details   string      `json:"details,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: status < 400, Data: data, Timestamp: time.Now().UTC()})
}

func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindUnauthorized:
		status = http.StatusUnauthorized
	case apperr.KindForbidden:
		status = http.StatusForbidden
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindUpstream, apperr.KindTimeout:
		status = http.StatusBadGateway
	case apperr.KindStore:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: err.Error(), Timestamp: time.Now().UTC()})
}
