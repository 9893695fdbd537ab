package routes

import (
	"net/http"

	"github.com/saharix/chatline/internal/api"
	"github.com/saharix/chatline/internal/call"
	"github.com/saharix/chatline/internal/chat"
	"github.com/saharix/chatline/internal/signaling"
)

// Deps is everything the route set needs from the rest of the app.
type Deps struct {
	Chat   *chat.Manager
	Call   *call.Controller
	REST   *api.Client
	Signal *signaling.Client

	SelfID string
}

// Register mounts the full local HTTP API.
func Register(mux *http.ServeMux, d Deps) {
	handleGet(mux, "/api/self", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"userId": d.SelfID})
	})

	if d.Chat != nil && d.REST != nil {
		RegisterChat(mux, d.Chat, d.REST)
	}
	if d.Call != nil {
		RegisterCall(mux, d.Call)
	}
	if d.Signal != nil {
		registerDebugRoutes(mux, d.Signal)
	}
}

// registerDebugRoutes exposes the signaling channel's recent-frame ring for
// poking at event flow without a UI.
func registerDebugRoutes(mux *http.ServeMux, sig *signaling.Client) {
	handleGet(mux, "/api/debug/events", func(w http.ResponseWriter, r *http.Request) {
		frames := sig.Recent()
		writeJSON(w, map[string]any{
			"clientId": sig.ClientID(),
			"count":    len(frames),
			"frames":   frames,
		})
	})
}
