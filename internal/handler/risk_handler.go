package handler

import (
	"encoding/json"
	"net/http"

	"FleetRiskAPI/internal/logger"
	"FleetRiskAPI/internal/models"
	"FleetRiskAPI/internal/service"

	"github.com/gorilla/mux"
)

type RiskHandler struct {
	predictionService service.IPredictionService
	log               *logger.Logger
}

func NewRiskHandler(predictionService service.IPredictionService, log *logger.Logger) *RiskHandler {
	return &RiskHandler{
		predictionService: predictionService,
		log:               log,
	}
}

func (h *RiskHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/predictions/score", h.Score).Methods("POST")
	r.HandleFunc("/assets/{asset_id}/risk", h.GetRiskStatus).Methods("GET")
	r.HandleFunc("/assets/{asset_id}/predictions", h.ListPredictions).Methods("GET")
	r.HandleFunc("/assets/{asset_id}/work-orders", h.ListAssetWorkOrders).Methods("GET")
	r.HandleFunc("/work-orders", h.ListWorkOrders).Methods("GET")
}

// Score runs one feature snapshot through the scoring pipeline. Returns 201
// when alerting was applied and 202 when it was deferred to the sweeper.
func (h *RiskHandler) Score(w http.ResponseWriter, r *http.Request) {
	var req models.ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Warn("Invalid request body: %v", err)
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	outcome, err := h.predictionService.Process(r.Context(), req.Snapshot())
	if err != nil {
		respondServiceError(w, h.log, "score asset "+req.AssetID, err)
		return
	}

	status := http.StatusCreated
	if outcome.AlertingDeferred {
		status = http.StatusAccepted
	}
	respondJSON(w, status, outcome)
}

func (h *RiskHandler) GetRiskStatus(w http.ResponseWriter, r *http.Request) {
	assetID := mux.Vars(r)["asset_id"]

	status, err := h.predictionService.RiskStatus(r.Context(), assetID)
	if err != nil {
		respondServiceError(w, h.log, "get risk status for "+assetID, err)
		return
	}

	respondJSON(w, http.StatusOK, status)
}

func (h *RiskHandler) ListPredictions(w http.ResponseWriter, r *http.Request) {
	assetID := mux.Vars(r)["asset_id"]

	predictions, err := h.predictionService.ListPredictions(r.Context(), assetID, queryLimit(r, 50))
	if err != nil {
		respondServiceError(w, h.log, "list predictions for "+assetID, err)
		return
	}
	if predictions == nil {
		predictions = []models.Prediction{}
	}

	respondJSON(w, http.StatusOK, predictions)
}

func (h *RiskHandler) ListAssetWorkOrders(w http.ResponseWriter, r *http.Request) {
	h.listWorkOrders(w, r, mux.Vars(r)["asset_id"])
}

func (h *RiskHandler) ListWorkOrders(w http.ResponseWriter, r *http.Request) {
	h.listWorkOrders(w, r, r.URL.Query().Get("asset_id"))
}

func (h *RiskHandler) listWorkOrders(w http.ResponseWriter, r *http.Request, assetID string) {
	orders, err := h.predictionService.ListWorkOrders(r.Context(), assetID)
	if err != nil {
		respondServiceError(w, h.log, "list work orders", err)
		return
	}
	if orders == nil {
		orders = []models.WorkOrder{}
	}

	respondJSON(w, http.StatusOK, orders)
}
