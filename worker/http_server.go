package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// HTTPServer serves Handler until the context ends, then drains requests.
type HTTPServer struct {
	Addr            string
	Handler         http.Handler
	ShutdownTimeout time.Duration

	// Listener, when set, is used instead of listening on Addr.
	Listener net.Listener
}

func (w *HTTPServer) Start(ctx context.Context) error {
	ln := w.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", w.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", w.Addr, err)
		}
	}
	srv := &http.Server{
		Handler:           w.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("http: listening", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	timeout := w.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		slog.Warn("http: shutdown", "err", err)
		return srv.Close()
	}
	slog.Info("http: stopped")
	return nil
}
