package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/session"
)

type createSessionRequest struct {
	SessionID   string `json:"sessionId"`
	DisplayName string `json:"displayName"`
	Context     string `json:"context"`
	AutoRestart *bool  `json:"autoRestart"`
}

type patchSessionRequest struct {
	Context     *string `json:"context"`
	DisplayName *string `json:"displayName"`
	AutoRestart *bool   `json:"autoRestart"`
}

type sendMessageRequest struct {
	RemoteJID string `json:"remoteJid"`
	Message   string `json:"message"`
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(h.started).Seconds(),
		"provider":  h.info.Provider,
		"model":     h.info.Model,
		"transport": h.info.Transport,
		"recorder":  h.info.RecorderConfigured,
	})
}

func (h *Handlers) aggregateStatus(w http.ResponseWriter, r *http.Request) {
	snaps := h.mgr.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"total":     len(snaps),
		"sessions":  snaps,
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": h.mgr.List()})
}

func (h *Handlers) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	autoRestart := true
	if req.AutoRestart != nil {
		autoRestart = *req.AutoRestart
	}

	s, err := h.mgr.Create(r.Context(), req.SessionID, session.Config{
		DisplayName: req.DisplayName,
		Context:     req.Context,
		AutoRestart: autoRestart,
	})
	if err != nil {
		if errors.Is(err, session.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "session already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not start session: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"session": s.Snapshot()})
}

func (h *Handlers) sessionStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.mgr.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": snap})
}

func (h *Handlers) sessionPairing(w http.ResponseWriter, r *http.Request) {
	info, err := h.mgr.PairingInfo(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handlers) patchSession(w http.ResponseWriter, r *http.Request) {
	var req patchSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	snap, err := h.mgr.Patch(r.Context(), chi.URLParam(r, "id"), session.PatchRequest{
		Context:     req.Context,
		DisplayName: req.DisplayName,
		AutoRestart: req.AutoRestart,
	})
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": snap})
}

func (h *Handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	wipe := r.URL.Query().Get("removeTokens") == "true"
	if err := h.mgr.Destroy(r.Context(), chi.URLParam(r, "id"), wipe); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.RemoteJID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "remoteJid and message are required")
		return
	}

	err := h.mgr.Send(r.Context(), chi.URLParam(r, "id"), req.RemoteJID, req.Message)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
