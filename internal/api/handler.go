// Package api is the thin HTTP transport over the gateway: request
// validation, the shared-key check, and JSON shapes the control plane
// already speaks. All session semantics live in the gateway package.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"wagate/internal/gateway"
)

// Config holds the transport's own knobs.
type Config struct {
	// APIKey is the shared secret expected in X-Api-Key.
	APIKey string

	// InitWaitTimeout bounds how long session init waits for a pairing
	// code (or an immediate connect on restored credentials).
	InitWaitTimeout time.Duration

	// PollInterval is the init wait's status poll cadence.
	PollInterval time.Duration

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		InitWaitTimeout: 30 * time.Second,
		PollInterval:    time.Second,
		MaxBodyBytes:    1 << 20,
	}
}

// Handler wires the session and message endpoints to the gateway.
type Handler struct {
	log  *slog.Logger
	cfg  Config
	reg  *gateway.Registry
	disp *gateway.Dispatcher
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, cfg Config, reg *gateway.Registry, disp *gateway.Dispatcher) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.InitWaitTimeout <= 0 {
		cfg.InitWaitTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Handler{log: log, cfg: cfg, reg: reg, disp: disp}
}

// Register wires the authenticated routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /api/session/init", h.requireAPIKey(h.handleSessionInit))
	mux.HandleFunc("GET /api/session/status/{sessionId}", h.requireAPIKey(h.handleSessionStatus))
	mux.HandleFunc("GET /api/session/list", h.requireAPIKey(h.handleSessionList))
	mux.HandleFunc("DELETE /api/session/{sessionId}", h.requireAPIKey(h.handleSessionDestroy))
	mux.HandleFunc("POST /api/message/send-text", h.requireAPIKey(h.handleSendText))
	mux.HandleFunc("POST /api/message/send-media", h.requireAPIKey(h.handleSendMedia))
}

func (h *Handler) handleSessionInit(w http.ResponseWriter, r *http.Request) {
	var req initSessionRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "sessionId and userId are required")
		return
	}

	if err := h.reg.Create(r.Context(), req.SessionID, req.UserID, false); err != nil {
		h.writeGatewayError(w, err)
		return
	}

	// Pairing codes arrive asynchronously; hold the request until one is
	// rendered (or the session connects straight off restored credentials).
	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.After(h.cfg.InitWaitTimeout)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-deadline:
			writeError(w, http.StatusRequestTimeout, "QR code generation timeout")
			return
		case <-ticker.C:
			st, err := h.reg.Status(r.Context(), req.SessionID)
			if err != nil {
				h.writeGatewayError(w, err)
				return
			}
			if st.PairingCode != "" {
				writeJSON(w, http.StatusOK, initSessionResponse{
					Success:   true,
					SessionID: req.SessionID,
					Status:    string(gateway.StatePairingPending),
					QRCode:    st.PairingCode,
				})
				return
			}
			if st.State == gateway.StateConnected {
				writeJSON(w, http.StatusOK, initSessionResponse{
					Success:     true,
					SessionID:   req.SessionID,
					Status:      string(gateway.StateConnected),
					PhoneNumber: st.PhoneNumber,
				})
				return
			}
		}
	}
}

func (h *Handler) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.reg.Status(r.Context(), r.PathValue("sessionId"))
	if errors.Is(err, gateway.ErrNotFound) {
		writeJSON(w, http.StatusOK, statusResponse{
			Success: true,
			Exists:  false,
			Status:  "not_found",
		})
		return
	}
	if err != nil {
		h.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Success:     true,
		Exists:      true,
		Status:      string(st.State),
		QRCode:      st.PairingCode,
		PhoneNumber: st.PhoneNumber,
		IsReady:     st.IsReady,
	})
}

func (h *Handler) handleSessionList(w http.ResponseWriter, _ *http.Request) {
	sessions := h.reg.List()
	entries := make([]listEntry, 0, len(sessions))
	for _, s := range sessions {
		entries = append(entries, listEntry{SessionID: s.SessionID, Status: string(s.State)})
	}
	writeJSON(w, http.StatusOK, listResponse{Success: true, Sessions: entries, Count: len(entries)})
}

func (h *Handler) handleSessionDestroy(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Destroy(r.Context(), r.PathValue("sessionId")); err != nil {
		h.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, destroyResponse{Success: true, Message: "Session destroyed"})
}

func (h *Handler) handleSendText(w http.ResponseWriter, r *http.Request) {
	var req sendTextRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.Recipient == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "sessionId, recipient, and message are required")
		return
	}

	receipt, err := h.disp.SendText(r.Context(), req.SessionID, req.Recipient, req.Message)
	if err != nil {
		h.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: receipt.MessageID, Timestamp: receipt.Timestamp})
}

func (h *Handler) handleSendMedia(w http.ResponseWriter, r *http.Request) {
	var req sendMediaRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.Recipient == "" || req.MediaURL == "" {
		writeError(w, http.StatusBadRequest, "sessionId, recipient, and mediaUrl are required")
		return
	}
	if req.MediaType == "" {
		req.MediaType = "image"
	}

	receipt, err := h.disp.SendMedia(r.Context(), req.SessionID, req.Recipient, req.MediaURL, req.Caption, req.MediaType)
	if err != nil {
		h.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: receipt.MessageID, Timestamp: receipt.Timestamp})
}

// writeGatewayError maps gateway errors onto the control plane's expected
// status codes without leaking internals.
func (h *Handler) writeGatewayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		writeError(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, gateway.ErrAlreadyExists):
		writeError(w, http.StatusBadRequest, "Session already exists")
	case errors.Is(err, gateway.ErrCapacityExceeded):
		writeError(w, http.StatusBadRequest, "Maximum sessions limit reached")
	case errors.Is(err, gateway.ErrNotConnected),
		errors.Is(err, gateway.ErrNotReady),
		errors.Is(err, gateway.ErrSessionClosed):
		writeError(w, http.StatusBadRequest, err.Error()+". Please reconnect the session.")
	default:
		h.log.Error("api.gateway.fail", "err", err)
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
