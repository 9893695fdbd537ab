// Package app wires the client together: signaling channel, REST client,
// chat manager, call controller, local cache, and the viewer HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/saharix/chatline/internal/api"
	"github.com/saharix/chatline/internal/call"
	"github.com/saharix/chatline/internal/chat"
	"github.com/saharix/chatline/internal/config"
	"github.com/saharix/chatline/internal/signaling"
	"github.com/saharix/chatline/internal/storage"
	"github.com/saharix/chatline/internal/viewer"
)

// App holds the running client's components.
type App struct {
	cfg config.Config

	signal *signaling.Client
	rest   *api.Client
	store  *storage.DB
	chat   *chat.Manager
	call   *call.Controller
	server *http.Server
}

// New connects the signaling channel and builds everything on top of it.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	sig, err := signaling.Dial(dialCtx, cfg.Server.SocketURL, cfg.Server.Token)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Paths.DataDir)
	if err != nil {
		sig.Close()
		return nil, fmt.Errorf("open message cache: %w", err)
	}

	rest := api.NewClient(cfg.Server.APIURL, cfg.Server.Token)
	chatMgr := chat.NewManager(sig, rest, store, cfg.Profile.UserID)
	callCtrl := call.NewController(sig, cfg.Profile.UserID)

	a := &App{
		cfg:    cfg,
		signal: sig,
		rest:   rest,
		store:  store,
		chat:   chatMgr,
		call:   callCtrl,
	}

	if cfg.Viewer.HTTPAddr != "" {
		a.server = viewer.New(cfg.Viewer.HTTPAddr, viewer.Viewer{
			Chat:   chatMgr,
			Call:   callCtrl,
			REST:   rest,
			Signal: sig,
			SelfID: cfg.Profile.UserID,
		})
	}
	return a, nil
}

// Run serves until the context is cancelled or the signaling channel dies.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	if a.server != nil {
		go func() {
			log.Printf("APP: viewer listening on %s", a.server.Addr)
			if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
				return
			}
			serverErr <- nil
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case <-a.signal.Done():
		runErr = signaling.ErrTransportClosed
	case err := <-serverErr:
		runErr = err
	}

	a.shutdown()
	return runErr
}

func (a *App) shutdown() {
	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			log.Printf("APP: viewer shutdown: %v", err)
		}
	}

	a.call.Close()
	a.chat.Close()
	a.signal.Close()
	if err := a.store.Close(); err != nil {
		log.Printf("APP: close cache: %v", err)
	}
	log.Printf("APP: stopped")
}
