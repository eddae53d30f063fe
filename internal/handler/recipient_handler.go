package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"FleetRiskAPI/internal/logger"
	"FleetRiskAPI/internal/middleware"
	"FleetRiskAPI/internal/models"
	"FleetRiskAPI/internal/repository"

	"github.com/gorilla/mux"
)

var knownChannels = map[string]bool{
	models.ChannelInApp: true,
	models.ChannelEmail: true,
	models.ChannelChat:  true,
}

// RecipientHandler administers the notification directory.
type RecipientHandler struct {
	recipients repository.IRecipientRepository
	log        *logger.Logger
}

func NewRecipientHandler(recipients repository.IRecipientRepository, log *logger.Logger) *RecipientHandler {
	return &RecipientHandler{
		recipients: recipients,
		log:        log,
	}
}

func (h *RecipientHandler) RegisterRoutes(r *mux.Router) {
	r.Handle("/recipients", requireRole(h.List, middleware.RoleAdmin)).Methods("GET")
	r.Handle("/recipients/{id}", requireRole(h.Upsert, middleware.RoleAdmin)).Methods("PUT")
}

func (h *RecipientHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.recipients.List(r.Context())
	if err != nil {
		h.log.Error("Failed to list recipients: %v", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []models.Recipient{}
	}

	respondJSON(w, http.StatusOK, list)
}

func (h *RecipientHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var rc models.Recipient
	if err := json.NewDecoder(r.Body).Decode(&rc); err != nil {
		h.log.Warn("Invalid request body: %v", err)
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	rc.ID = mux.Vars(r)["id"]

	if err := validateRecipient(rc); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.recipients.Upsert(r.Context(), &rc); err != nil {
		h.log.Error("Failed to save recipient %s: %v", rc.ID, err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.Info("Recipient %s updated by %s", rc.ID, actor(r))
	respondJSON(w, http.StatusOK, rc)
}

func validateRecipient(rc models.Recipient) error {
	for _, ch := range rc.Channels {
		if !knownChannels[ch] {
			return fmt.Errorf("unknown channel %q", ch)
		}
	}
	if rc.Wants(models.ChannelEmail) && rc.Email == "" {
		return fmt.Errorf("email channel requires an email address")
	}
	if rc.Wants(models.ChannelChat) && rc.ChatHandle == "" {
		return fmt.Errorf("chat channel requires a chat handle")
	}
	return nil
}
