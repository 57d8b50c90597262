package restaurant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tiagocmendes/restaurant-p2p/pkg/kv"
	"github.com/tiagocmendes/restaurant-p2p/pkg/ring"
)

// DefaultTicketTTL bounds how long a ticket waits for its other half.
const DefaultTicketTTL = 10 * time.Minute

// Waiter matches cooked orders with the clients picking them up. Either may
// arrive first; the ticket book keeps whichever came first.
type Waiter struct {
	p      *Peer
	prices Prices

	mu   sync.Mutex
	book *kv.Store[ticketState]
	ttl  time.Duration
}

type ticketState struct {
	ready   *Order
	pickups []ClientPickup
}

func NewWaiter(p *Peer, prices Prices, ttl time.Duration) *Waiter {
	if ttl <= 0 {
		ttl = DefaultTicketTTL
	}
	w := &Waiter{p: p, prices: prices, book: kv.NewStore[ticketState](0), ttl: ttl}
	w.book.OnEvict(w.expired)
	return w
}

func (w *Waiter) Handle(_ context.Context, env ring.Envelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch env.Method {
	case MethodOrderReady:
		var r OrderReady
		if err := env.Decode(&r); err != nil {
			return err
		}
		st, _ := w.book.Get(r.Ticket)
		if st.ready != nil {
			return fmt.Errorf("ticket %s reported ready twice", r.Ticket)
		}
		st.ready = &r.Order
		return w.settle(r.Ticket, st)

	case MethodClientPickup:
		var c ClientPickup
		if err := env.Decode(&c); err != nil {
			return err
		}
		st, _ := w.book.Get(c.Ticket)
		st.pickups = append(st.pickups, c)
		return w.settle(c.Ticket, st)
	}
	return fmt.Errorf("%w %s", ErrUnknownMethod, env.Method)
}

// Sweep drops tickets whose other half never came.
func (w *Waiter) Sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.book.Len()
}

// Open lists tickets still waiting to be matched.
func (w *Waiter) Open() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.book.Keys()
}

func (w *Waiter) settle(ticket string, st ticketState) error {
	if st.ready == nil || len(st.pickups) == 0 {
		w.book.Put(ticket, st, w.ttl)
		return nil
	}
	w.book.Delete(ticket)

	cost := w.prices.Cost(*st.ready)
	w.p.log.Info("order delivered", zap.String("ticket", ticket), zap.Float64("cost", cost))
	// a resent pickup is answered too; only one caller is still waiting
	var firstErr error
	for _, c := range st.pickups {
		err := w.p.SendTo(c.From, MethodOrderDelivered, OrderDelivered{
			RequestID: c.RequestID,
			Ticket:    ticket,
			Order:     *st.ready,
			Cost:      cost,
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *Waiter) expired(ticket string, st ticketState) {
	if st.ready != nil {
		w.p.log.Warn("cooked order never picked up", zap.String("ticket", ticket))
		return
	}
	for _, c := range st.pickups {
		w.p.log.Warn("pickup for unknown ticket expired", zap.String("ticket", ticket))
		err := w.p.SendTo(c.From, MethodOrderDelivered, OrderDelivered{
			RequestID: c.RequestID,
			Ticket:    ticket,
			Error:     "no order with ticket " + ticket,
		})
		if err != nil {
			w.p.log.Error("answer expired pickup", zap.Error(err))
		}
	}
}
