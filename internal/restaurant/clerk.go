package restaurant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tiagocmendes/restaurant-p2p/pkg/ring"
)

// Clerk takes orders: it hands the caller a ticket and passes the order to
// a chef.
type Clerk struct {
	p *Peer
}

func NewClerk(p *Peer) *Clerk { return &Clerk{p: p} }

func (c *Clerk) Handle(_ context.Context, env ring.Envelope) error {
	if env.Method != MethodClientOrder {
		return fmt.Errorf("%w %s", ErrUnknownMethod, env.Method)
	}
	var req ClientOrder
	if err := env.Decode(&req); err != nil {
		return err
	}
	ticket := uuid.NewString()
	c.p.log.Info("order ticket issued", zap.String("ticket", ticket), zap.Any("order", req.Order))

	if err := c.p.SendTo(req.From, MethodOrderTicket, OrderTicket{
		RequestID: req.RequestID,
		Ticket:    ticket,
		Order:     req.Order,
	}); err != nil {
		return err
	}
	return c.p.Send(RoleChef, MethodCookOrder, CookOrder{Ticket: ticket, Order: req.Order})
}
