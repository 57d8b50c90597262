package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tiagocmendes/restaurant-p2p/discovery"
	"github.com/tiagocmendes/restaurant-p2p/internal/config"
	"github.com/tiagocmendes/restaurant-p2p/internal/restaurant"
	"github.com/tiagocmendes/restaurant-p2p/pkg/node"
	"github.com/tiagocmendes/restaurant-p2p/pkg/ring"
	"github.com/tiagocmendes/restaurant-p2p/pkg/transport"
)

func nodeCmd() *cobra.Command {
	var (
		role       string
		id         int
		port       int
		httpPort   int
		rendezvous string
	)

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run one restaurant role as a ring member",
		Example: `  drivethru node --role Drive-Through --id 0 --port 5000
  drivethru node --role Clerk --id 1 --port 5001 --http-port 8081 --rendezvous localhost:5000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			flags := cmd.Flags()
			if flags.Changed("role") {
				cfg.Node.Role = role
			}
			if flags.Changed("id") {
				cfg.Node.ID = id
			}
			if flags.Changed("port") {
				cfg.Node.Port = port
			}
			if flags.Changed("http-port") {
				cfg.HTTP.Port = httpPort
			}
			if flags.Changed("rendezvous") {
				cfg.Node.Rendezvous = rendezvous
				cfg.Node.Initial = rendezvous == ""
			}
			if !restaurant.ValidRole(cfg.Node.Role) {
				return fmt.Errorf("unknown role %q", cfg.Node.Role)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runNode(ctx, cfg, log)
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "Role to play (Drive-Through, Clerk, Chef, Waiter)")
	cmd.Flags().IntVar(&id, "id", 0, "Ring id, unique across the ring")
	cmd.Flags().IntVar(&port, "port", 0, "UDP port of the ring endpoint")
	cmd.Flags().IntVar(&httpPort, "http-port", 0, "HTTP port for ops endpoints and the client window")
	cmd.Flags().StringVar(&rendezvous, "rendezvous", "", "Ring address to join through; empty bootstraps a new ring")
	return cmd
}

func runNode(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	self := ring.Identity{Role: cfg.Node.Role, ID: cfg.Node.ID}
	ringAddr := cfg.Node.RingAddr()

	tr, err := transport.ListenUDP(ringAddr)
	if err != nil {
		return err
	}
	defer tr.Close()

	rendezvous := ""
	if !cfg.Node.Initial {
		rendezvous = node.NormalizeHostPort(cfg.Node.Rendezvous, "5000")
	}

	if cfg.Discovery.Enabled {
		cli, err := discovery.NewClient(cfg.Discovery.Endpoints, cfg.Discovery.DialTimeout)
		if err != nil {
			return fmt.Errorf("etcd client: %w", err)
		}
		defer cli.Close()
		reg := discovery.NewRegistry(cli, cfg.Discovery.Prefix, log)

		if cfg.Node.Initial {
			lease, err := reg.RegisterRendezvous(ctx, ringAddr, cfg.Discovery.LeaseTTL)
			if err != nil {
				return err
			}
			defer lease.Close()
		} else if cfg.Node.Rendezvous == "" {
			addr, err := reg.WaitRendezvous(ctx)
			if err != nil {
				return fmt.Errorf("resolve rendezvous: %w", err)
			}
			rendezvous = node.NormalizeHostPort(addr, "5000")
		}
		lease, err := reg.RegisterMember(ctx, self, ringAddr, cfg.Discovery.LeaseTTL)
		if err != nil {
			return err
		}
		defer lease.Close()
	}

	rn, err := ring.NewNode(ring.Config{
		Self:        self,
		RingSize:    cfg.Node.RingSize,
		Rendezvous:  rendezvous,
		Advertise:   ringAddr,
		RecvTimeout: cfg.Node.RecvTimeout,
		Logger:      log,
	}, tr)
	if err != nil {
		return err
	}
	proc, err := restaurant.NewProcess(rn, restaurant.Options{
		Kitchen:   cfg.Kitchen.Kitchen(),
		TicketTTL: cfg.Kitchen.TicketTTL,
	}, log)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	n := node.NewNode(rn, cfg.HTTP.Addr(), log)
	n.Register(mux, metricsPath)
	if front, ok := proc.Front(cfg.Client.Timeout); ok {
		front.Register(mux)
	}

	return runAll(ctx, log,
		proc.Run,
		func(ctx context.Context) error { return n.Serve(ctx, mux) },
	)
}

// runAll runs fns until ctx is done or one of them fails.
func runAll(ctx context.Context, log *zap.Logger, fns ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(fns))
	for _, fn := range fns {
		go func() { errCh <- fn(ctx) }()
	}
	var first error
	for range fns {
		err := <-errCh
		if err != nil && !errors.Is(err, context.Canceled) && first == nil {
			log.Error("shutting down", zap.Error(err))
			first = err
			cancel()
		}
	}
	return first
}
