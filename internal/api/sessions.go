// Package api exposes the dialogue engine over HTTP (REST + SSE + WebSocket)
// and MCP. All management and chat endpoints sit behind bearer-token auth;
// only the health probe is public.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/lexi/internal/collect"
	"github.com/kalambet/lexi/internal/profile"
	"github.com/kalambet/lexi/internal/session"
	"github.com/kalambet/lexi/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// AppDeps holds the collaborators for the HTTP API.
type AppDeps struct {
	Registry *session.Registry
	Profiles *profile.Manager
	Store    *storage.Store
	Token    string
}

// NewAppHandler returns the HTTP API: session lifecycle, message turns
// (JSON or SSE), conversation inspection, and profile access.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/sessions", handleCreateSession(deps))
		r.Get("/sessions", handleListSessions(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
		r.Delete("/sessions/{id}", handleDeleteSession(deps))
		r.Post("/sessions/{id}/messages", handleSessionMessage(deps))
		r.Post("/sessions/{id}/reset", handleResetSession(deps))
		r.Get("/sessions/{id}/history", handleSessionHistory(deps))
		r.Get("/sessions/{id}/ws", handleSessionWS(deps))

		r.Get("/profiles/{user}", handleGetProfile(deps))
		r.Patch("/profiles/{user}", handleUpdateProfile(deps))
		r.Get("/profiles/{user}/interactions", handleListInteractions(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type createSessionRequest struct {
	UserID string `json:"user_id"`
}

type sessionInfo struct {
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id"`
	State      string `json:"state"`
	Active     bool   `json:"active"`
	LastActive string `json:"last_active"`
	Greeting   string `json:"greeting,omitempty"`
}

func sessionInfoFor(s *session.Session) sessionInfo {
	return sessionInfo{
		SessionID:  s.ID,
		UserID:     s.UserID,
		State:      string(s.State()),
		Active:     s.IsActive(),
		LastActive: s.LastActive().UTC().Format(time.RFC3339),
	}
}

func handleCreateSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		s, err := deps.Registry.Create(req.UserID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create session: %v", err)
			return
		}

		info := sessionInfoFor(s)
		info.Greeting = s.Welcome()
		info.State = string(s.State())

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(info)
	}
}

func handleListSessions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions := deps.Registry.List()
		infos := make([]sessionInfo, len(sessions))
		for i, s := range sessions {
			infos[i] = sessionInfoFor(s)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(infos)
	}
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := deps.Registry.Get(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sessionInfoFor(s))
	}
}

func handleDeleteSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Registry.Remove(chi.URLParam(r, "id")) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "removed"})
	}
}

type messageRequest struct {
	Message string `json:"message"`
	Stream  bool   `json:"stream"`
}

type messageResponse struct {
	Reply  string `json:"reply"`
	State  string `json:"state"`
	Intent string `json:"intent,omitempty"`
	Active bool   `json:"active"`
}

func handleSessionMessage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		s, ok := deps.Registry.Get(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}

		var req messageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		if req.Stream {
			streamTurn(w, r, s, req.Message)
			return
		}

		reply, err := s.ProcessMessage(r.Context(), req.Message)
		if errors.Is(err, session.ErrEnded) {
			httpError(w, http.StatusConflict, "session_ended", "session has ended")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to process message: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageResponse{
			Reply:  reply,
			State:  string(s.State()),
			Intent: string(s.Intent()),
			Active: s.IsActive(),
		})
	}
}

// streamTurn delivers one turn as server-sent events: a delta event per
// chunk, a final done event with the assembled reply, then [DONE].
func streamTurn(w http.ResponseWriter, r *http.Request, s *session.Session, message string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	reply, err := s.ProcessMessageStreaming(r.Context(), message, func(chunk string) error {
		payload, err := json.Marshal(map[string]string{"delta": chunk})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		payload, marshalErr := json.Marshal(map[string]any{
			"error": map[string]any{"message": err.Error(), "type": "api_error"},
		})
		if marshalErr == nil {
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
		return
	}

	done, err := json.Marshal(map[string]any{
		"done":   true,
		"reply":  reply,
		"state":  string(s.State()),
		"active": s.IsActive(),
	})
	if err == nil {
		fmt.Fprintf(w, "data: %s\n\n", done)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func handleResetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := deps.Registry.Get(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		s.Reset()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status": "reset",
			"state":  string(s.State()),
		})
	}
}

func handleSessionHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := deps.Registry.Get(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.History())
	}
}

// profileView is the profile plus its prompt-ready summary line.
type profileView struct {
	profile.Profile
	Summary string `json:"summary"`
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profiles.Get(chi.URLParam(r, "user"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(profileView{Profile: p, Summary: p.Summary()})
	}
}

// handleUpdateProfile sets profile attributes directly. Values are stored at
// explicit confidence, the same trust as answers to collection prompts.
func handleUpdateProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var fields map[string]string
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(fields) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no attributes to set")
			return
		}
		for name := range fields {
			if !isKnownAttribute(strings.ToLower(strings.TrimSpace(name))) {
				httpError(w, http.StatusBadRequest, "invalid_request_error",
					"unknown attribute %q; valid: %s", name, strings.Join(allAttributeNames(), ", "))
				return
			}
		}

		p, err := deps.Profiles.Get(chi.URLParam(r, "user"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}
		now := time.Now().UTC()
		for name, value := range fields {
			attr := strings.ToLower(strings.TrimSpace(name))
			p.UpdateAttribute(attr, collect.Normalize(attr, value), collect.ExplicitConfidence, profile.SourceExplicit, now)
		}
		if err := deps.Profiles.Save(p); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save profile: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(profileView{Profile: p, Summary: p.Summary()})
	}
}

func handleListInteractions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		interactions, err := deps.Store.GetRecentInteractions(chi.URLParam(r, "user"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}
		if interactions == nil {
			interactions = []storage.Interaction{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(interactions)
	}
}

// parseIntParam reads a non-negative integer query parameter, applying a
// default and an optional cap (0 means uncapped).
func parseIntParam(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
