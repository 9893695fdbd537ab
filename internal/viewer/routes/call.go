package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/saharix/chatline/internal/call"
)

// RegisterCall exposes the call controller over the local HTTP API.
func RegisterCall(mux *http.ServeMux, ctrl *call.Controller) {
	// GET /api/call/state — current lifecycle state and live chat.
	handleGet(mux, "/api/call/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{
			"state":  ctrl.State().String(),
			"chatId": ctrl.Current(),
		})
	})

	// POST /api/call/start
	handlePost(mux, "/api/call/start", func(w http.ResponseWriter, r *http.Request, req struct {
		ChatID string `json:"chatId"`
	}) {
		if req.ChatID == "" {
			http.Error(w, "missing chatId", http.StatusBadRequest)
			return
		}
		if err := ctrl.Start(req.ChatID); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, call.ErrBusy) {
				status = http.StatusConflict
			}
			http.Error(w, fmt.Sprintf("start call failed: %v", err), status)
			return
		}
		writeJSON(w, map[string]string{"status": "calling", "chatId": req.ChatID})
	})

	// POST /api/call/answer — accept or decline the ringing call.
	handlePost(mux, "/api/call/answer", func(w http.ResponseWriter, r *http.Request, req struct {
		Accept bool `json:"accept"`
	}) {
		if err := ctrl.Answer(req.Accept); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, call.ErrNoCall) {
				status = http.StatusNotFound
			}
			http.Error(w, fmt.Sprintf("answer failed: %v", err), status)
			return
		}
		status := "declined"
		if req.Accept {
			status = "accepted"
		}
		writeJSON(w, map[string]string{"status": status})
	})

	// POST /api/call/hangup
	handlePost(mux, "/api/call/hangup", func(w http.ResponseWriter, r *http.Request, req struct{}) {
		if err := ctrl.End(); err != nil {
			if errors.Is(err, call.ErrNoCall) {
				writeJSON(w, map[string]string{"status": "no_call"})
				return
			}
			http.Error(w, fmt.Sprintf("hangup failed: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "hung_up"})
	})

	// GET /api/call/events — SSE stream of call state transitions. Each
	// connection gets its own subscription, dropped on disconnect.
	handleGet(mux, "/api/call/events", func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		events, cancel := ctrl.Subscribe()
		defer cancel()

		fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"ok\"}\n\n")
		flusher.Flush()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				data, err := json.Marshal(map[string]string{
					"state":  ev.State.String(),
					"chatId": ev.ChatID,
					"from":   ev.From,
					"reason": ev.Reason,
				})
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: call\ndata: %s\n\n", data)
				flusher.Flush()
			}
		}
	})
}
