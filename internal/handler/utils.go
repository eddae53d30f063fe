package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"FleetRiskAPI/internal/lock"
	"FleetRiskAPI/internal/logger"
	"FleetRiskAPI/internal/middleware"
	"FleetRiskAPI/internal/models"
)

const maxListLimit = 500

type ErrorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	err := json.NewEncoder(w).Encode(data)
	if err != nil {
		return
	}
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidScore), errors.Is(err, models.ErrInvalidSnapshot):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrStalePrediction),
		errors.Is(err, models.ErrAlreadyResolved),
		errors.Is(err, models.ErrOpenAlertExists):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lock.ErrLockLost):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrScoringTimeout),
		errors.Is(err, lock.ErrLockTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondServiceError(w http.ResponseWriter, log *logger.Logger, action string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("Failed to %s: %v", action, err)
	} else {
		log.Warn("Failed to %s: %v", action, err)
	}
	respondError(w, status, err.Error())
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return def
}

func queryLimit(r *http.Request, def int) int {
	limit := queryInt(r, "limit", def)
	if limit == 0 || limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// actor names the user performing a request, for audit fields.
func actor(r *http.Request) string {
	if p, ok := middleware.PrincipalFromContext(r.Context()); ok && p.UserID != "" {
		return p.UserID
	}
	return middleware.AnonymousUser
}

// requireRole wraps a single route with a role check.
func requireRole(fn http.HandlerFunc, roles ...string) http.Handler {
	return middleware.RequireRole(roles...)(fn)
}
