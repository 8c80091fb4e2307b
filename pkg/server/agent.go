package server

import (
	"context"
	"io"
	"time"

	"ArbRelay/internal/middleware"
	xhttp "ArbRelay/pkg/http"
	applogger "ArbRelay/pkg/logger"
)

// Runner is a loop that blocks until its context ends.
type Runner interface {
	Run(ctx context.Context) error
}

// AgentApp is the per-user agent process.
type AgentApp struct {
	supervisor      Runner
	link            Runner
	pipeline        *middleware.PublishPipeline
	publisher       io.Closer
	server          *xhttp.Server
	shutdownTimeout time.Duration
	log             *applogger.Logger
}

func NewAgentApp(
	supervisor Runner,
	link Runner,
	pipeline *middleware.PublishPipeline,
	publisher io.Closer,
	server *xhttp.Server,
	shutdownTimeout time.Duration,
	log *applogger.Logger,
) *AgentApp {
	return &AgentApp{
		supervisor:      supervisor,
		link:            link,
		pipeline:        pipeline,
		publisher:       publisher,
		server:          server,
		shutdownTimeout: shutdownTimeout,
		log:             log,
	}
}

// Run starts the broker supervisor and the relay link side by side. The link registers
// immediately; operations fail with a connectivity error until a broker session exists.
// On shutdown the link stops first and waits for its in-flight operations, and only then
// is the broker session closed, so an order awaiting its acknowledgment can finish.
func (a *AgentApp) Run(ctx context.Context) error {
	l := a.log.Component("agent_app")
	l.Info("agent starting")

	// the pipeline outlives ctx so events from operations finishing during shutdown still flush
	a.pipeline.Start(context.WithoutCancel(ctx))

	brokerCtx, stopBroker := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBroker()
	linkCtx, stopLink := context.WithCancel(ctx)
	defer stopLink()

	brokerDone := make(chan struct{})
	go func() {
		defer close(brokerDone)
		if err := a.supervisor.Run(brokerCtx); err != nil {
			l.Error("broker supervisor exited", applogger.Error(err))
		}
	}()
	linkDone := make(chan struct{})
	go func() {
		defer close(linkDone)
		if err := a.link.Run(linkCtx); err != nil {
			l.Error("relay link exited", applogger.Error(err))
		}
	}()

	runErr := serveUntilDone(linkCtx, a.server)
	if runErr != nil {
		l.Error("agent stopped on error", applogger.Error(runErr))
	} else {
		l.Info("shutdown signal received")
	}
	stopLink()
	<-linkDone
	stopBroker()
	<-brokerDone

	sctx, stop := shutdownContext(a.shutdownTimeout)
	defer stop()
	if err := a.pipeline.Stop(sctx); err != nil {
		l.Warn("publish pipeline stop", applogger.Int("dropped", a.pipeline.Pending()), applogger.Error(err))
	}
	// flushes collected error logs through the producer, so it runs before the publisher closes
	a.log.RemoveCollector()
	closeQuietly(l, "publisher", a.publisher)
	if err := a.server.Stop(sctx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}

	l.Info("shutdown complete")
	return runErr
}
