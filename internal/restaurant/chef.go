package restaurant

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tiagocmendes/restaurant-p2p/pkg/ring"
)

// Chef cooks one order at a time, item by item, borrowing equipment from the
// drive-through for each item. Orders that arrive while busy wait in line.
type Chef struct {
	p       *Peer
	current *CookOrder
	left    Order
	line    []CookOrder
}

func NewChef(p *Peer) *Chef { return &Chef{p: p} }

func (c *Chef) Handle(ctx context.Context, env ring.Envelope) error {
	switch env.Method {
	case MethodCookOrder:
		var o CookOrder
		if err := env.Decode(&o); err != nil {
			return err
		}
		c.p.log.Info("cook order received", zap.String("ticket", o.Ticket))
		if c.current != nil {
			c.line = append(c.line, o)
			return nil
		}
		return c.start(o)

	case MethodEquipmentGranted:
		var g EquipmentGrant
		if err := env.Decode(&g); err != nil {
			return err
		}
		return c.use(ctx, g)
	}
	return fmt.Errorf("%w %s", ErrUnknownMethod, env.Method)
}

// Busy reports the ticket being cooked and how many orders wait behind it.
func (c *Chef) Busy() (ticket string, waiting int) {
	if c.current == nil {
		return "", len(c.line)
	}
	return c.current.Ticket, len(c.line)
}

func (c *Chef) start(o CookOrder) error {
	c.current = &o
	c.left = o.Order
	return c.step()
}

// step asks for the equipment of the next item, or hands the order to a
// waiter when nothing is left to cook.
func (c *Chef) step() error {
	if eq, ok := nextEquipment(c.left); ok {
		c.p.log.Info("requesting equipment", zap.String("equipment", string(eq)), zap.String("ticket", c.current.Ticket))
		return c.p.Send(RoleDriveThrough, MethodRequestEquipment, EquipmentRequest{
			Equipment: eq,
			Ticket:    c.current.Ticket,
			From:      c.p.Self(),
		})
	}

	done := *c.current
	c.current = nil
	c.p.log.Info("order ready", zap.String("ticket", done.Ticket))
	if err := c.p.Send(RoleWaiter, MethodOrderReady, OrderReady{Ticket: done.Ticket, Order: done.Order}); err != nil {
		return err
	}
	if len(c.line) == 0 {
		return nil
	}
	next := c.line[0]
	c.line = c.line[1:]
	return c.start(next)
}

func (c *Chef) use(ctx context.Context, g EquipmentGrant) error {
	if c.current == nil || c.current.Ticket != g.Ticket {
		return fmt.Errorf("grant of %s for ticket %s we are not cooking", g.Equipment, g.Ticket)
	}
	c.p.log.Info("using equipment", zap.String("equipment", string(g.Equipment)), zap.Duration("for", g.Duration))

	t := time.NewTimer(g.Duration)
	select {
	case <-t.C:
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}

	c.left = cooked(c.left, g.Equipment)
	if err := c.p.SendTo(g.By, MethodReleaseEquipment, EquipmentRequest{
		Equipment: g.Equipment,
		Ticket:    g.Ticket,
		From:      c.p.Self(),
	}); err != nil {
		return err
	}
	return c.step()
}
