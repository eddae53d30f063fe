package handler

import (
	"context"
	"net/http"
	"time"

	"FleetRiskAPI/internal/logger"
	"FleetRiskAPI/internal/models"

	"github.com/gorilla/mux"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionChecker reports broker connectivity.
type ConnectionChecker interface {
	IsConnected() bool
}

type HealthHandler struct {
	ledger     pinger
	locker     pinger
	mqttClient ConnectionChecker
	log        *logger.Logger
}

// NewHealthHandler builds the health endpoints. mqttClient is nil when
// MQTT ingestion is disabled, in which case it does not affect readiness.
func NewHealthHandler(ledger, locker pinger, mqttClient ConnectionChecker, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		ledger:     ledger,
		locker:     locker,
		mqttClient: mqttClient,
		log:        log,
	}
}

func (h *HealthHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/health/live", h.Liveness).Methods("GET")
	r.HandleFunc("/health/ready", h.Readiness).Methods("GET")
}

func (h *HealthHandler) check(ctx context.Context) models.HealthResponse {
	response := models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	}

	response.Services.Database = h.ledger.Ping(ctx) == nil
	response.Services.Lock = h.locker.Ping(ctx) == nil
	response.Services.MQTT = h.mqttClient == nil || h.mqttClient.IsConnected()

	if !response.Services.Database || !response.Services.Lock || !response.Services.MQTT {
		response.Status = "degraded"
	}
	return response
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := h.check(ctx)

	statusCode := http.StatusOK
	if response.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
		h.log.Warn("Health check degraded - DB: %v, Lock: %v, MQTT: %v",
			response.Services.Database, response.Services.Lock, response.Services.MQTT)
	}

	respondJSON(w, statusCode, response)
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
	})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := h.check(ctx)
	if response.Status != "healthy" {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
