package main

import (
	"context"
	"math/rand/v2"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tiagocmendes/restaurant-p2p/internal/config"
	"github.com/tiagocmendes/restaurant-p2p/internal/restaurant"
)

func simulateCmd() *cobra.Command {
	var (
		basePort  int
		clients   int
		timeScale float64
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run all four roles in one process over loopback UDP",
		Long: `simulate starts the Drive-Through (initial entity), Clerk, Chef and Waiter on
consecutive UDP ports. The Drive-Through serves the client window on the
configured HTTP port and the other roles take the ports after it. With
--clients it also sends that many random orders.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			if cmd.Flags().Changed("time-scale") {
				cfg.Kitchen.TimeScale = timeScale
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return simulate(ctx, cfg, log, basePort, clients)
		},
	}

	cmd.Flags().IntVar(&basePort, "base-port", 5000, "UDP port of the Drive-Through; the others follow")
	cmd.Flags().IntVar(&clients, "clients", 0, "Random orders to place once the ring is up")
	cmd.Flags().Float64Var(&timeScale, "time-scale", 1, "Multiplier on every kitchen work time")
	return cmd
}

func simulate(ctx context.Context, cfg *config.Config, log *zap.Logger, basePort, clients int) error {
	var fns []func(context.Context) error
	rendezvous := (config.NodeConfig{Host: cfg.Node.Host, Port: basePort}).RingAddr()

	for i, r := range restaurant.Roles {
		c := *cfg
		c.Node.Role = r.Name
		c.Node.ID = r.ID
		c.Node.Port = basePort + i
		c.Node.RingSize = len(restaurant.Roles)
		c.Node.Initial = i == 0
		c.Node.Rendezvous = rendezvous
		c.Discovery.Enabled = false
		if cfg.HTTP.Port != 0 {
			c.HTTP.Port = cfg.HTTP.Port + i
		}
		fns = append(fns, func(ctx context.Context) error { return runNode(ctx, &c, log) })
	}

	if clients > 0 {
		fns = append(fns, func(ctx context.Context) error {
			runClients(ctx, cfg.HTTP.Addr(), cfg.Client.Timeout, clients, log)
			<-ctx.Done()
			return nil
		})
	}
	return runAll(ctx, log, fns...)
}

// runClients behaves like impatient drive-through customers: each waits a
// moment, orders something random and picks it up.
func runClients(ctx context.Context, addr string, timeout time.Duration, n int, log *zap.Logger) {
	log = log.Named("client")
	c := restaurant.NewClient(addr, timeout)

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(i), uint64(time.Now().UnixNano())))
			delay := time.Duration((2 + r.NormFloat64()*0.5) * float64(time.Second))
			select {
			case <-time.After(max(delay, 0)):
			case <-ctx.Done():
				return
			}

			o := restaurant.RandomOrder(r)
			var tk restaurant.Ticket
			for {
				var err error
				tk, err = c.PlaceOrder(ctx, o)
				if err == nil {
					break
				}
				log.Info("order not taken yet", zap.Int("client", i), zap.Error(err))
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
			}
			log.Info("received ticket", zap.Int("client", i), zap.String("ticket", tk.Ticket))

			d, err := c.Pickup(ctx, tk.Ticket)
			if err != nil {
				log.Warn("pickup failed", zap.Int("client", i), zap.Error(err))
				return
			}
			log.Info("order received", zap.Int("client", i), zap.Any("order", d.Order), zap.Float64("paid", d.Cost))
		}()
	}
	wg.Wait()
}
