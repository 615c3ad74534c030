package workers

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// HTTPServerWorker serves REST and realtime traffic until its context ends,
// then drains in-flight requests for at most shutdownTimeout.
type HTTPServerWorker struct {
	log             *slog.Logger
	server          *http.Server
	listener        net.Listener
	shutdownTimeout time.Duration
}

func NewHTTPServerWorker(log *slog.Logger, server *http.Server, shutdownTimeout time.Duration) *HTTPServerWorker {
	return &HTTPServerWorker{log: log, server: server, shutdownTimeout: shutdownTimeout}
}

// WithListener serves on an already bound listener, the address of server is then ignored.
func (w *HTTPServerWorker) WithListener(listener net.Listener) *HTTPServerWorker {
	w.listener = listener
	return w
}

func (w *HTTPServerWorker) Run(ctx context.Context) error {
	listener := w.listener
	if listener == nil {
		var err error
		if listener, err = net.Listen("tcp", w.server.Addr); err != nil {
			return err
		}
	}
	// A restarted worker binds again.
	w.listener = nil

	serveErr := make(chan error, 1)
	go func() {
		w.log.Info("HTTP server listening", "address", listener.Addr().String())
		serveErr <- w.server.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
	defer cancel()
	w.log.Info("HTTP server shutting down")
	if err := w.server.Shutdown(shutdownCtx); err != nil {
		w.log.Warn("HTTP server shutdown incomplete", "error", err)
		_ = w.server.Close()
	}
	<-serveErr
	return nil
}
