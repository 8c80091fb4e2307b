// Package server holds the process lifecycles of the three binaries: start, wait for a
// signal or a fatal error, shut down in dependency order.
package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	xhttp "ArbRelay/pkg/http"
	applogger "ArbRelay/pkg/logger"
)

// App is one long-running process.
type App interface {
	Run(ctx context.Context) error
}

// Run blocks until SIGINT or SIGTERM, then lets app shut down.
func Run(app App) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx)
}

// serveUntilDone runs srv until ctx ends or the listener fails.
func serveUntilDone(ctx context.Context, srv *xhttp.Server) error {
	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-srv.Start():
		if ok && err != nil {
			return err
		}
		return errors.New("http server exited")
	}
}

func shutdownContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func closeQuietly(l *applogger.Logger, name string, c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		l.Warn("close failed", applogger.String("resource", name), applogger.Error(err))
	}
}
