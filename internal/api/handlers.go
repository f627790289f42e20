/**
 * @description
 * This file contains the HTTP handler functions for the subscription-service.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * business logic in the service layer, and writing the HTTP response.
 */
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/echonow/subscription-service/internal/app"
	"github.com/echonow/subscription-service/internal/store"
)

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service app.Service
	logger  *slog.Logger
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service app.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// handleGetStatus handles the request to get a user's subscription status.
func (h *Handler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	status, err := h.service.GetStatus(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			respondWithJSON(w, http.StatusNotFound, errorResponse{Error: "user not found"})
			return
		}
		h.logger.Error("failed to load subscription status", "user_id", userID, "error", err)
		respondWithJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	respondWithJSON(w, http.StatusOK, status)
}

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
