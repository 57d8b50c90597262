package restaurant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tiagocmendes/restaurant-p2p/internal/telemetry"
	"github.com/tiagocmendes/restaurant-p2p/pkg/ring"
)

// DriveThrough owns the kitchen equipment and is where clients come in. It
// lends each equipment to one chef at a time, in request order, and turns
// client calls into ring requests whose answers it routes back to the
// waiting caller.
type DriveThrough struct {
	p       *Peer
	kitchen *Kitchen

	// equipment state; touched only from Handle
	holders map[Equipment]*EquipmentRequest
	waiting map[Equipment][]queuedRequest

	mu      sync.Mutex
	pending map[string]chan ring.Envelope
}

type queuedRequest struct {
	req EquipmentRequest
	at  time.Time
}

func NewDriveThrough(p *Peer, k *Kitchen) *DriveThrough {
	if k == nil {
		k = DefaultKitchen()
	}
	return &DriveThrough{
		p:       p,
		kitchen: k,
		holders: make(map[Equipment]*EquipmentRequest),
		waiting: make(map[Equipment][]queuedRequest),
		pending: make(map[string]chan ring.Envelope),
	}
}

func (d *DriveThrough) Handle(_ context.Context, env ring.Envelope) error {
	switch env.Method {
	case MethodOrderTicket:
		var t OrderTicket
		if err := env.Decode(&t); err != nil {
			return err
		}
		d.resolve(t.RequestID, env)
		return nil

	case MethodOrderDelivered:
		var o OrderDelivered
		if err := env.Decode(&o); err != nil {
			return err
		}
		d.resolve(o.RequestID, env)
		return nil

	case MethodRequestEquipment:
		var req EquipmentRequest
		if err := env.Decode(&req); err != nil {
			return err
		}
		return d.acquire(req)

	case MethodReleaseEquipment:
		var req EquipmentRequest
		if err := env.Decode(&req); err != nil {
			return err
		}
		return d.release(req)
	}
	return fmt.Errorf("%w %s", ErrUnknownMethod, env.Method)
}

func (d *DriveThrough) acquire(req EquipmentRequest) error {
	if d.holders[req.Equipment] != nil {
		d.p.log.Info("equipment busy, request queued",
			zap.String("equipment", string(req.Equipment)), zap.Stringer("chef", req.From))
		d.waiting[req.Equipment] = append(d.waiting[req.Equipment], queuedRequest{req: req, at: time.Now()})
		return nil
	}
	telemetry.EquipmentWait.WithLabelValues(string(req.Equipment)).Observe(0)
	return d.grant(req)
}

func (d *DriveThrough) release(req EquipmentRequest) error {
	h := d.holders[req.Equipment]
	if h == nil || h.From != req.From || h.Ticket != req.Ticket {
		return fmt.Errorf("%s released by %s, which does not hold it", req.Equipment, req.From)
	}
	delete(d.holders, req.Equipment)

	q := d.waiting[req.Equipment]
	if len(q) == 0 {
		return nil
	}
	next := q[0]
	d.waiting[req.Equipment] = q[1:]
	telemetry.EquipmentWait.WithLabelValues(string(req.Equipment)).Observe(time.Since(next.at).Seconds())
	return d.grant(next.req)
}

func (d *DriveThrough) grant(req EquipmentRequest) error {
	dur := d.kitchen.Sample(req.Equipment)
	d.p.log.Info("equipment granted", zap.String("equipment", string(req.Equipment)),
		zap.Stringer("chef", req.From), zap.Duration("for", dur))
	d.holders[req.Equipment] = &req
	return d.p.SendTo(req.From, MethodEquipmentGranted, EquipmentGrant{
		Equipment: req.Equipment,
		Ticket:    req.Ticket,
		Duration:  dur,
		By:        d.p.Self(),
	})
}

// PlaceOrder sends o to a clerk and waits for the ticket.
func (d *DriveThrough) PlaceOrder(ctx context.Context, o Order) (OrderTicket, error) {
	if err := o.Validate(); err != nil {
		return OrderTicket{}, err
	}
	var t OrderTicket
	err := d.call(ctx, RoleClerk, MethodClientOrder, func(id string) any {
		return ClientOrder{RequestID: id, Order: o, From: d.p.Self()}
	}, &t)
	return t, err
}

// Pickup asks a waiter for the order behind ticket and waits until it is
// ready and priced.
func (d *DriveThrough) Pickup(ctx context.Context, ticket string) (OrderDelivered, error) {
	var o OrderDelivered
	err := d.call(ctx, RoleWaiter, MethodClientPickup, func(id string) any {
		return ClientPickup{RequestID: id, Ticket: ticket, From: d.p.Self()}
	}, &o)
	return o, err
}

func (d *DriveThrough) call(ctx context.Context, role, method string, args func(id string) any, out any) error {
	id := uuid.NewString()
	ch := make(chan ring.Envelope, 1)
	d.mu.Lock()
	d.pending[id] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
	}()

	if err := d.p.Send(role, method, args(id)); err != nil {
		return err
	}
	select {
	case env := <-ch:
		return env.Decode(out)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *DriveThrough) resolve(requestID string, env ring.Envelope) {
	d.mu.Lock()
	ch, ok := d.pending[requestID]
	delete(d.pending, requestID)
	d.mu.Unlock()
	if !ok {
		d.p.log.Warn("reply for a request nobody waits for", zap.String("method", env.Method),
			zap.String("request_id", requestID))
		return
	}
	ch <- env
}
