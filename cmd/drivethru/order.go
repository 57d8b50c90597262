package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiagocmendes/restaurant-p2p/internal/restaurant"
)

func orderCmd() *cobra.Command {
	var (
		server  string
		timeout time.Duration
		order   restaurant.Order
		noWait  bool
	)

	cmd := &cobra.Command{
		Use:     "order",
		Short:   "Order at the drive-through window and pick the order up",
		Example: `  drivethru order --hamburger 1 --fries 2 --drink 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			if !cmd.Flags().Changed("server") {
				server = cfg.Client.Server
			}
			if !cmd.Flags().Changed("timeout") {
				timeout = cfg.Client.Timeout
			}
			if err := order.Validate(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			c := restaurant.NewClient(server, timeout)

			tk, err := c.PlaceOrder(ctx, order)
			if err != nil {
				return fmt.Errorf("order: %w", err)
			}
			fmt.Printf("ticket %s\n", tk.Ticket)
			if noWait {
				return nil
			}

			d, err := c.Pickup(ctx, tk.Ticket)
			if err != nil {
				return fmt.Errorf("pickup %s: %w", tk.Ticket, err)
			}
			fmt.Printf("picked up %d hamburger, %d fries, %d drink for $%.2f\n",
				d.Order.Hamburger, d.Order.Fries, d.Order.Drink, d.Cost)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Drive-through HTTP address (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (default from config)")
	cmd.Flags().IntVar(&order.Hamburger, "hamburger", 0, "Hamburgers")
	cmd.Flags().IntVar(&order.Fries, "fries", 0, "Fries")
	cmd.Flags().IntVar(&order.Drink, "drink", 0, "Drinks")
	cmd.Flags().BoolVar(&noWait, "no-pickup", false, "Print the ticket and leave")
	return cmd
}
