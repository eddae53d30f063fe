package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"FleetRiskAPI/internal/logger"
	"FleetRiskAPI/internal/middleware"
	"FleetRiskAPI/internal/models"
	"FleetRiskAPI/internal/service"

	"github.com/gorilla/mux"
)

type AlertHandler struct {
	alertService service.IAlertService
	log          *logger.Logger
}

func NewAlertHandler(alertService service.IAlertService, log *logger.Logger) *AlertHandler {
	return &AlertHandler{
		alertService: alertService,
		log:          log,
	}
}

type DispatchRequest struct {
	Channels     []string `json:"channels"`
	RecipientIDs []string `json:"recipient_ids"`
}

func (h *AlertHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/alerts/active", h.GetActiveAlerts).Methods("GET")
	r.HandleFunc("/alerts/history", h.GetAlertHistory).Methods("GET")
	r.HandleFunc("/alerts/stats", h.GetStatistics).Methods("GET")
	r.HandleFunc("/alerts/asset/{asset_id}", h.GetAssetAlerts).Methods("GET")
	r.Handle("/alerts/resolve/{id}",
		requireRole(h.Resolve, middleware.RoleAdmin, middleware.RoleTechnician)).Methods("PUT")
	r.Handle("/alerts/{id}/dispatch",
		requireRole(h.Dispatch, middleware.RoleAdmin)).Methods("POST")
	r.HandleFunc("/alerts/{id}/receipts", h.GetReceipts).Methods("GET")
	r.HandleFunc("/alerts/{id}", h.GetAlert).Methods("GET")
}

func (h *AlertHandler) GetActiveAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.alertService.GetActiveAlerts(r.Context())
	if err != nil {
		h.log.Error("Failed to get active alerts: %v", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, nonNil(alerts))
}

func (h *AlertHandler) GetAlertHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50)
	offset := queryInt(r, "offset", 0)

	alerts, err := h.alertService.GetAlertHistory(r.Context(), limit, offset)
	if err != nil {
		h.log.Error("Failed to get alert history: %v", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, nonNil(alerts))
}

func (h *AlertHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.alertService.GetStatistics(r.Context())
	if err != nil {
		h.log.Error("Failed to get alert statistics: %v", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

func (h *AlertHandler) GetAssetAlerts(w http.ResponseWriter, r *http.Request) {
	assetID := mux.Vars(r)["asset_id"]

	alerts, err := h.alertService.GetAssetAlerts(r.Context(), assetID)
	if err != nil {
		h.log.Error("Failed to get alerts for asset %s: %v", assetID, err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, nonNil(alerts))
}

func (h *AlertHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	alert, err := h.alertService.GetAlert(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.log, "get alert "+id, err)
		return
	}

	respondJSON(w, http.StatusOK, alert)
}

func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	alert, err := h.alertService.Resolve(r.Context(), id, actor(r))
	if err != nil {
		respondServiceError(w, h.log, "resolve alert "+id, err)
		return
	}

	respondJSON(w, http.StatusOK, alert)
}

// Dispatch re-sends an alert. An empty body targets every subscriber on
// every enabled channel.
func (h *AlertHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.log.Warn("Invalid request body: %v", err)
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	report, err := h.alertService.Redeliver(r.Context(), id, req.Channels, req.RecipientIDs)
	if err != nil {
		respondServiceError(w, h.log, "dispatch alert "+id, err)
		return
	}

	h.log.Info("Alert %s redispatched by %s: %d sent, %d failed", id, actor(r), report.Sent(), len(report.Failures))
	respondJSON(w, http.StatusOK, report)
}

func (h *AlertHandler) GetReceipts(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	receipts, err := h.alertService.GetReceipts(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.log, "get receipts for alert "+id, err)
		return
	}
	if receipts == nil {
		receipts = []models.NotificationReceipt{}
	}

	respondJSON(w, http.StatusOK, receipts)
}

func nonNil(alerts []models.Alert) []models.Alert {
	if alerts == nil {
		return []models.Alert{}
	}
	return alerts
}
