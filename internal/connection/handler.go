package connection

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/wolfman30/practice-platform/internal/gateway"
	"github.com/wolfman30/practice-platform/internal/tenancy"
	"github.com/wolfman30/practice-platform/pkg/logging"
)

var validate = validator.New()

// SendTextRequest is the body of POST /v1/connection/messages.
type SendTextRequest struct {
	To   string `json:"to" validate:"required,e164|numeric"`
	Text string `json:"text" validate:"required,max=4096"`
}

// Handler serves the connection endpoints.
type Handler struct {
	service *Service
	monitor Monitor
	logger  *logging.Logger
}

// NewHandler creates a connection handler.
func NewHandler(service *Service, monitor Monitor, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, monitor: monitor, logger: logger}
}

// Connect handles POST /v1/connection.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	accountID, ok := tenancy.RequireAccountID(w, r)
	if !ok {
		return
	}
	inst, err := h.service.Connect(r.Context(), accountID)
	if err != nil {
		http.Error(w, "failed to create connection: "+err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

// Disconnect handles DELETE /v1/connection.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	accountID, ok := tenancy.RequireAccountID(w, r)
	if !ok {
		return
	}
	if err := h.service.Disconnect(r.Context(), accountID); err != nil {
		http.Error(w, "failed to delete connection: "+err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Pairing handles GET /v1/connection/pairing.
func (h *Handler) Pairing(w http.ResponseWriter, r *http.Request) {
	accountID, ok := tenancy.RequireAccountID(w, r)
	if !ok {
		return
	}
	inst, err := h.service.PairingArtifact(r.Context(), accountID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"pairing_artifact":   inst.PairingArtifact,
			"pairing_expires_at": inst.PairingExpiresAt,
			"status":             inst.Status,
		})
	case errors.Is(err, ErrNotFound), errors.Is(err, gateway.ErrInstanceNotFound):
		http.Error(w, "connection not found", http.StatusNotFound)
	default:
		h.logger.Error("failed to fetch pairing artifact", "account_id", accountID, "error", err)
		http.Error(w, "failed to fetch pairing artifact", http.StatusBadGateway)
	}
}

// SendText handles POST /v1/connection/messages.
func (h *Handler) SendText(w http.ResponseWriter, r *http.Request) {
	accountID, ok := tenancy.RequireAccountID(w, r)
	if !ok {
		return
	}
	var body SendTextRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := h.service.SendText(r.Context(), accountID, body.To, body.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"message_id": id})
	case errors.Is(err, ErrNotFound):
		http.Error(w, "connection not found", http.StatusNotFound)
	case errors.Is(err, ErrNotConnected):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("failed to send text", "account_id", accountID, "error", err)
		http.Error(w, "failed to send message", http.StatusBadGateway)
	}
}

// StartMonitoring handles POST /v1/monitoring/start, called on sign-in.
func (h *Handler) StartMonitoring(w http.ResponseWriter, r *http.Request) {
	accountID, ok := tenancy.RequireAccountID(w, r)
	if !ok {
		return
	}
	h.monitor.Start(accountID)
	w.WriteHeader(http.StatusAccepted)
}

// StopMonitoring handles POST /v1/monitoring/stop, called on sign-out.
func (h *Handler) StopMonitoring(w http.ResponseWriter, r *http.Request) {
	accountID, ok := tenancy.RequireAccountID(w, r)
	if !ok {
		return
	}
	h.monitor.Stop(accountID)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
