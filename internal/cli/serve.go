package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/config"
	httpadapter "github.com/aretw0/parley/pkg/adapters/http"
	"golang.org/x/sync/errgroup"
)

// Serve runs the HTTP/SSE transport on cfg.Server.Addr until ctx is done, then
// drains connections and closes every session.
func Serve(ctx context.Context, cfg *config.Config, p *parley.Parley, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Addr, err)
	}
	return ServeListener(ctx, ln, cfg, p, logger)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, ln net.Listener, cfg *config.Config, p *parley.Parley, logger *slog.Logger) error {
	handler := httpadapter.NewHandler(p, cfg.Metrics.Path,
		httpadapter.WithMetrics(p.Metrics()),
		httpadapter.WithKeepAlive(cfg.Server.SSEKeepAlive),
		httpadapter.WithLogger(logger),
	)
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		logger.Info("HTTP server shutting down")
		// Closing the registry first ends open SSE streams so Shutdown can drain.
		closeErr := p.Close(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Join(fmt.Errorf("could not stop server gracefully: %w", err), closeErr)
		}
		return closeErr
	})
	return g.Wait()
}
