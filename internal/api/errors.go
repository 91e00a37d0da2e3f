package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/postmint/postmint/internal/provider"
	"github.com/postmint/postmint/internal/store"
	"github.com/postmint/postmint/pkg/config"
)

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] failed to encode response: %v", err)
	}
}

// respondError maps the error taxonomy to HTTP statuses: missing records
// and empty stock are 404, config problems 400, the running-test conflict
// 409, transport exhaustion 502, everything else 500.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var cfgErr *config.ConfigError
	switch {
	case errors.Is(err, store.ErrNoStock), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrTestRunning):
		status = http.StatusConflict
	case errors.As(err, &cfgErr):
		status = http.StatusBadRequest
	case provider.IsTransport(err):
		status = http.StatusBadGateway
	}
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}
