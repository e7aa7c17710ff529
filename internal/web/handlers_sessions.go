package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ccpanes/ccpanes/internal/refresh"
	"github.com/ccpanes/ccpanes/internal/status"
)

// SessionsResponse is the body of /api/sessions and every stream message.
type SessionsResponse struct {
	Pass       uint64                `json:"pass"`
	At         time.Time             `json:"at"`
	Workspace  string                `json:"workspace,omitempty"`
	Incomplete bool                  `json:"incomplete,omitempty"`
	Counts     map[status.Status]int `json:"counts"`
	Sessions   []refresh.Session     `json:"sessions"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

// NewSessionsResponse shapes a snapshot for clients. Without detail the last
// prompt and output are dropped.
func NewSessionsResponse(snap *refresh.Snapshot, detail bool) SessionsResponse {
	resp := SessionsResponse{Sessions: []refresh.Session{}}
	if snap == nil {
		resp.Counts = map[status.Status]int{}
		return resp
	}
	resp.Pass = snap.Pass
	resp.At = snap.At
	resp.Workspace = snap.Workspace
	resp.Incomplete = snap.Incomplete
	resp.Counts = snap.Counts()
	resp.Sessions = make([]refresh.Session, len(snap.Sessions))
	copy(resp.Sessions, snap.Sessions)
	if !detail {
		for i := range resp.Sessions {
			resp.Sessions[i].LastPrompt = ""
			resp.Sessions[i].LastOutput = ""
		}
	}
	return resp
}

func wantDetail(r *http.Request) bool {
	switch r.URL.Query().Get("detail") {
	case "1", "true", "yes":
		return true
	}
	return false
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot()
	if snap == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "NOT_READY", "no refresh pass has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, NewSessionsResponse(snap, wantDetail(r)))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{Error: apiError{Code: code, Message: message}})
}
