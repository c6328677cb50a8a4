package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/payflow/internal/app"
	"github.com/transfa/payflow/internal/domain"
	"github.com/transfa/payflow/internal/pinpad"
	"go.uber.org/zap"
)

// CheckoutHandlers serves the server-driven confirm flow of each user's workspace.
type CheckoutHandlers struct {
	registry *app.Registry
	logger   *zap.Logger
}

type startTransactionRequest struct {
	Kind        domain.TransactionKind `json:"kind"`
	Amount      int64                  `json:"amount"` // in kobo
	Recipient   string                 `json:"recipient"`
	Description string                 `json:"description"`
}

type startTransactionResponse struct {
	TransactionID string             `json:"transaction_id"`
	State         app.WorkspaceState `json:"state"`
}

type keyRequest struct {
	Key string `json:"key"`
}

type pinSetupResponse struct {
	PINSetup pinpad.Snapshot `json:"pin_setup"`
	Done     bool            `json:"done"`
	HasPIN   bool            `json:"has_pin"`
}

func NewCheckoutHandlers(registry *app.Registry, logger *zap.Logger) *CheckoutHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutHandlers{registry: registry, logger: logger.With(zap.String("component", "api"))}
}

// StartTransactionHandler validates the request and starts the pipeline in the background.
func (h *CheckoutHandlers) StartTransactionHandler(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var body startTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id, err := ws.Start(domain.TransactionRequest{
		Kind:        body.Kind,
		Amount:      body.Amount,
		Recipient:   body.Recipient,
		Description: body.Description,
		AuthToken:   BearerToken(r.Context()),
	})
	if err != nil {
		h.logger.Info("transaction rejected",
			zap.String("subject", ws.Subject),
			zap.String("kind", string(body.Kind)),
			zap.String("outcome", "reject"),
			zap.Error(err))
		h.writeWorkspaceError(w, err)
		return
	}

	h.logger.Info("transaction accepted",
		zap.String("subject", ws.Subject),
		zap.String("transaction_id", id.String()),
		zap.String("kind", string(body.Kind)),
		zap.Int64("amount", body.Amount))
	writeJSON(w, http.StatusAccepted, startTransactionResponse{TransactionID: id.String(), State: ws.State()})
}

// KeypadHandler forwards one key press to the open PIN pad.
func (h *CheckoutHandlers) KeypadHandler(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	var body keyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := ws.Key(body.Key); err != nil {
		h.writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws.State())
}

func (h *CheckoutHandlers) AckAlertHandler(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	if err := ws.AckAlert(); err != nil {
		h.writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws.State())
}

func (h *CheckoutHandlers) StateHandler(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ws.State())
}

func (h *CheckoutHandlers) DismissToastHandler(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	if !ws.DismissToast(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "Toast not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PINSetupHandler drives the create+confirm flow one key at a time.
func (h *CheckoutHandlers) PINSetupHandler(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	var body keyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	snapshot, done, err := ws.SetupKey(body.Key)
	if err != nil {
		h.writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pinSetupResponse{PINSetup: snapshot, Done: done, HasPIN: ws.State().HasPIN})
}

func (h *CheckoutHandlers) workspace(w http.ResponseWriter, r *http.Request) (*app.Workspace, bool) {
	userID, ok := GetClerkUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return nil, false
	}
	ws, err := h.registry.Get(userID)
	if err != nil {
		h.logger.Error("failed to open workspace", zap.String("subject", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return nil, false
	}
	return ws, true
}

func (h *CheckoutHandlers) writeWorkspaceError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": validationErr.Message,
			"field": validationErr.Field,
		})
	case errors.Is(err, domain.ErrBusy):
		writeError(w, http.StatusConflict, "A transaction is already in progress")
	case errors.Is(err, app.ErrNoActiveGate):
		writeError(w, http.StatusNotFound, "No PIN pad is open")
	case errors.Is(err, app.ErrNoActiveAlert):
		writeError(w, http.StatusNotFound, "No alert is waiting for acknowledgement")
	case errors.Is(err, app.ErrUnknownKey):
		writeError(w, http.StatusBadRequest, "Unknown key")
	case errors.Is(err, app.ErrWorkspaceGone):
		writeError(w, http.StatusServiceUnavailable, "Session expired, please retry")
	case errors.Is(err, app.ErrResendTooSoon):
		writeError(w, http.StatusTooManyRequests, "Please wait before requesting a new code")
	case errors.Is(err, app.ErrNoPINStore):
		writeError(w, http.StatusNotImplemented, "PIN setup is not available")
	default:
		h.logger.Error("checkout request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
