package node

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/tiagocmendes/restaurant-p2p/internal/telemetry"
	"github.com/tiagocmendes/restaurant-p2p/pkg/ring"
)

// Node is one restaurant process: a ring member plus its HTTP ops surface.
type Node struct {
	ring *ring.Node
	addr string
	log  *zap.Logger
}

func NewNode(r *ring.Node, httpAddr string, log *zap.Logger) *Node {
	if log == nil {
		log = zap.NewNop()
	}
	return &Node{ring: r, addr: httpAddr, log: log}
}

func (n *Node) Ring() *ring.Node { return n.ring }

func (n *Node) Addr() string { return n.addr }

// Register mounts the ops endpoints every role serves.
func (n *Node) Register(mux *http.ServeMux, metricsPath string) {
	mux.Handle("GET /healthz", telemetry.Instrument("healthz", http.HandlerFunc(n.Healthz)))
	mux.Handle("GET /info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
	mux.Handle("GET /table", telemetry.Instrument("table", http.HandlerFunc(n.Table)))
	if metricsPath != "" {
		mux.Handle("GET "+metricsPath, telemetry.MetricsHandler())
	}
}

// Serve runs the HTTP server on the node's address until ctx is done.
func (n *Node) Serve(ctx context.Context, h http.Handler) error {
	srv := &http.Server{Addr: n.addr, Handler: h}
	errCh := make(chan error, 1)
	go func() {
		n.log.Info("http listening", zap.String("addr", n.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			n.log.Warn("http shutdown", zap.Error(err))
		}
		return nil
	}
}
