package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/saharix/chatline/internal/api"
	"github.com/saharix/chatline/internal/chat"
)

// RegisterChat exposes chat selection, the timeline, and the send path.
func RegisterChat(mux *http.ServeMux, mgr *chat.Manager, rest *api.Client) {
	// GET /api/users — the directory, proxied from the server.
	handleGet(mux, "/api/users", func(w http.ResponseWriter, r *http.Request) {
		users, err := rest.Users(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("users failed: %v", err), http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]any{"users": users})
	})

	// POST /api/chat/open — create or fetch the session with a user and
	// select it in one step.
	handlePost(mux, "/api/chat/open", func(w http.ResponseWriter, r *http.Request, req struct {
		ParticipantID string `json:"participantId"`
	}) {
		if req.ParticipantID == "" {
			http.Error(w, "missing participantId", http.StatusBadRequest)
			return
		}
		sess, err := rest.StartChat(r.Context(), req.ParticipantID)
		if err != nil {
			http.Error(w, fmt.Sprintf("start chat failed: %v", err), http.StatusBadGateway)
			return
		}
		if err := mgr.Select(r.Context(), sess.ID); err != nil {
			http.Error(w, fmt.Sprintf("select failed: %v", err), http.StatusBadGateway)
			return
		}
		writeJSON(w, sess)
	})

	// POST /api/chat/select — select an already-known session.
	handlePost(mux, "/api/chat/select", func(w http.ResponseWriter, r *http.Request, req struct {
		ChatID string `json:"chatId"`
	}) {
		if req.ChatID == "" {
			http.Error(w, "missing chatId", http.StatusBadRequest)
			return
		}
		if err := mgr.Select(r.Context(), req.ChatID); err != nil {
			http.Error(w, fmt.Sprintf("select failed: %v", err), http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]string{"status": "selected", "chatId": req.ChatID})
	})

	// POST /api/chat/deselect — drop the active timeline.
	handlePost(mux, "/api/chat/deselect", func(w http.ResponseWriter, r *http.Request, req struct{}) {
		mgr.Deselect()
		writeJSON(w, map[string]string{"status": "deselected"})
	})

	// POST /api/chat/send — text plus an optional local image path.
	handlePost(mux, "/api/chat/send", func(w http.ResponseWriter, r *http.Request, req struct {
		Content        string `json:"content"`
		AttachmentPath string `json:"attachmentPath"`
	}) {
		if err := mgr.Send(req.Content, req.AttachmentPath); err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, chat.ErrNoChatSelected):
				status = http.StatusConflict
			case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrValidation):
				status = http.StatusBadRequest
			case errors.Is(err, chat.ErrAttachmentRead):
				status = http.StatusUnprocessableEntity
			}
			http.Error(w, fmt.Sprintf("send failed: %v", err), status)
			return
		}
		writeJSON(w, map[string]string{"status": "sent"})
	})

	// GET /api/chat/timeline — snapshot of the selected chat.
	handleGet(mux, "/api/chat/timeline", func(w http.ResponseWriter, r *http.Request) {
		msgs, err := mgr.Timeline()
		if err != nil {
			if errors.Is(err, chat.ErrNoChatSelected) {
				http.Error(w, "no chat selected", http.StatusConflict)
				return
			}
			http.Error(w, fmt.Sprintf("timeline failed: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{
			"chatId":   mgr.Selected(),
			"messages": msgs,
		})
	})

	// GET /api/chat/events — SSE stream of live messages on the selected
	// chat. Unsubscribed on disconnect.
	handleGet(mux, "/api/chat/events", func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		ch := mgr.Subscribe()
		defer mgr.Unsubscribe(ch)

		fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"ok\"}\n\n")
		flusher.Flush()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				data, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
				flusher.Flush()
			}
		}
	})
}
