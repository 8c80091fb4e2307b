package server

import (
	"context"
	"io"
	"time"

	"ArbRelay/internal/domain/repository"
	xhttp "ArbRelay/pkg/http"
	applogger "ArbRelay/pkg/logger"
)

// BusConsumer is the Kafka consumer or the Redis queue consumer.
type BusConsumer interface {
	Start() error
	Stop(ctx context.Context) error
}

// ArchiverApp consumes the output bus into ClickHouse and serves order history.
type ArchiverApp struct {
	consumer        BusConsumer
	store           repository.ArchiveStore
	server          *xhttp.Server
	shutdownTimeout time.Duration
	log             *applogger.Logger
}

// NewArchiverApp expects the consumer to have its handlers registered already.
func NewArchiverApp(consumer BusConsumer, store repository.ArchiveStore, server *xhttp.Server,
	shutdownTimeout time.Duration, log *applogger.Logger) *ArchiverApp {
	return &ArchiverApp{consumer: consumer, store: store, server: server, shutdownTimeout: shutdownTimeout, log: log.Component("archiver_app")}
}

func (a *ArchiverApp) Run(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := a.store.Init(initCtx)
	cancel()
	if err != nil {
		closeQuietly(a.log, "archive store", a.store)
		return err
	}

	if err := a.consumer.Start(); err != nil {
		closeQuietly(a.log, "archive store", a.store)
		return err
	}
	a.log.Info("archiver consuming")

	runErr := serveUntilDone(ctx, a.server)
	if runErr != nil {
		a.log.Error("archiver stopped on error", applogger.Error(runErr))
	} else {
		a.log.Info("shutdown signal received")
	}

	sctx, stop := shutdownContext(a.shutdownTimeout)
	defer stop()
	if err := a.server.Stop(sctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}
	// consumer first: in-flight handlers still write to the store
	if err := a.consumer.Stop(sctx); err != nil {
		a.log.Warn("bus consumer stop error", applogger.Error(err))
	}
	if c, ok := a.consumer.(io.Closer); ok {
		closeQuietly(a.log, "bus consumer", c)
	}
	closeQuietly(a.log, "archive store", a.store)

	a.log.Info("shutdown complete")
	return runErr
}
