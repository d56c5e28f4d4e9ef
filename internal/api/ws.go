package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/kalambet/lexi/internal/session"
)

// wsInbound is a client frame: one user message per frame.
type wsInbound struct {
	Message string `json:"message"`
}

// wsEvent is a server frame. Type is "chunk" while a reply streams,
// "done" with the assembled reply once the turn finishes, or "error".
type wsEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Reply   string `json:"reply,omitempty"`
	State   string `json:"state,omitempty"`
	Active  bool   `json:"active,omitempty"`
	Message string `json:"message,omitempty"`
}

// handleSessionWS upgrades to a WebSocket and runs a chat loop against the
// session: each inbound message frame produces a stream of chunk events
// followed by a done event. The connection closes when the session ends.
func handleSessionWS(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := deps.Registry.Get(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}

		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			slog.Error("websocket accept failed", "session", s.ID, "error", err)
			return
		}
		defer ws.Close(websocket.StatusInternalError, "connection dropped")

		slog.Info("websocket chat opened", "session", s.ID, "user", s.UserID)
		chatLoop(r.Context(), ws, s)
	}
}

func chatLoop(ctx context.Context, ws *websocket.Conn, s *session.Session) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("websocket closed by client", "session", s.ID)
			} else {
				slog.Warn("websocket read error", "session", s.ID, "error", err)
			}
			return
		}

		var in wsInbound
		if err := json.Unmarshal(data, &in); err != nil || in.Message == "" {
			if err := writeEvent(ctx, ws, wsEvent{Type: "error", Message: "expected {\"message\": \"...\"}"}); err != nil {
				return
			}
			continue
		}

		reply, err := s.ProcessMessageStreaming(ctx, in.Message, func(chunk string) error {
			return writeEvent(ctx, ws, wsEvent{Type: "chunk", Content: chunk})
		})
		if errors.Is(err, session.ErrEnded) {
			ws.Close(websocket.StatusNormalClosure, "session has ended")
			return
		}
		if err != nil {
			slog.Warn("websocket turn failed", "session", s.ID, "error", err)
			if werr := writeEvent(ctx, ws, wsEvent{Type: "error", Message: err.Error()}); werr != nil {
				return
			}
			continue
		}

		done := wsEvent{
			Type:   "done",
			Reply:  reply,
			State:  string(s.State()),
			Active: s.IsActive(),
		}
		if err := writeEvent(ctx, ws, done); err != nil {
			return
		}

		// A goodbye turn still delivers its closing before the shutdown.
		if !s.IsActive() {
			ws.Close(websocket.StatusNormalClosure, "session has ended")
			return
		}
	}
}

func writeEvent(ctx context.Context, ws *websocket.Conn, ev wsEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
