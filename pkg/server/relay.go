package server

import (
	"context"
	"io"
	"time"

	"ArbRelay/internal/relay"
	xhttp "ArbRelay/pkg/http"
	applogger "ArbRelay/pkg/logger"
)

// RelayApp is the relay process: one HTTP server carrying both the dashboard API and the
// agent websocket endpoint.
type RelayApp struct {
	server          *xhttp.Server
	hub             *relay.Hub
	cache           io.Closer
	shutdownTimeout time.Duration
	log             *applogger.Logger
}

func NewRelayApp(server *xhttp.Server, hub *relay.Hub, cache io.Closer, shutdownTimeout time.Duration, log *applogger.Logger) *RelayApp {
	return &RelayApp{server: server, hub: hub, cache: cache, shutdownTimeout: shutdownTimeout, log: log.Component("relay_app")}
}

func (a *RelayApp) Run(ctx context.Context) error {
	a.log.Info("relay starting")
	runErr := serveUntilDone(ctx, a.server)
	if runErr != nil {
		a.log.Error("relay stopped on error", applogger.Error(runErr))
	} else {
		a.log.Info("shutdown signal received")
	}

	sctx, cancel := shutdownContext(a.shutdownTimeout)
	defer cancel()

	// agents see their links drop and start reconnecting; waiting callers fail over to 503
	a.hub.Close()
	if err := a.server.Stop(sctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}
	closeQuietly(a.log, "cache", a.cache)

	a.log.Info("shutdown complete")
	return runErr
}
