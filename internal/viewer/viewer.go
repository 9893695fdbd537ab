// Package viewer serves the local HTTP API that a UI (or curl) drives the
// client with. It binds to loopback; the chat server itself is only ever
// reached through the api and signaling packages.
package viewer

import (
	"net/http"
	"time"

	"github.com/saharix/chatline/internal/api"
	"github.com/saharix/chatline/internal/call"
	"github.com/saharix/chatline/internal/chat"
	"github.com/saharix/chatline/internal/signaling"
	"github.com/saharix/chatline/internal/viewer/routes"
)

type Viewer struct {
	Chat   *chat.Manager
	Call   *call.Controller
	REST   *api.Client
	Signal *signaling.Client

	SelfID string
}

// New builds the HTTP server for the local API. The caller owns its
// lifecycle. No write timeout: the SSE streams stay open indefinitely.
func New(addr string, v Viewer) *http.Server {
	mux := http.NewServeMux()
	routes.Register(mux, routes.Deps{
		Chat:   v.Chat,
		Call:   v.Call,
		REST:   v.REST,
		Signal: v.Signal,
		SelfID: v.SelfID,
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
