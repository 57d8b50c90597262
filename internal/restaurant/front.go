package restaurant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tiagocmendes/restaurant-p2p/internal/telemetry"
	"github.com/tiagocmendes/restaurant-p2p/pkg/ring"
)

// Front is the HTTP window of a DriveThrough.
type Front struct {
	d       *DriveThrough
	timeout time.Duration
}

func NewFront(d *DriveThrough, timeout time.Duration) *Front {
	return &Front{d: d, timeout: timeout}
}

func (f *Front) Register(mux *http.ServeMux) {
	mux.Handle("POST /orders", telemetry.Instrument("order", http.HandlerFunc(f.PlaceOrder)))
	mux.Handle("POST /orders/{ticket}/pickup", telemetry.Instrument("pickup", http.HandlerFunc(f.Pickup)))
}

// PlaceOrder decodes an Order body and answers with its ticket.
func (f *Front) PlaceOrder(w http.ResponseWriter, req *http.Request) {
	var o Order
	if err := json.NewDecoder(req.Body).Decode(&o); err != nil {
		http.Error(w, "invalid order: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := o.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := f.withTimeout(req.Context())
	defer cancel()
	t, err := f.d.PlaceOrder(ctx, o)
	if err != nil {
		f.fail(w, "order", err)
		return
	}
	f.writeJSON(w, http.StatusOK, Ticket{Ticket: t.Ticket, Order: t.Order})
}

// Pickup waits for the order behind {ticket} and answers with its cost.
func (f *Front) Pickup(w http.ResponseWriter, req *http.Request) {
	ticket := req.PathValue("ticket")
	if ticket == "" {
		http.Error(w, "missing ticket", http.StatusBadRequest)
		return
	}

	ctx, cancel := f.withTimeout(req.Context())
	defer cancel()
	o, err := f.d.Pickup(ctx, ticket)
	if err != nil {
		f.fail(w, "pickup", err)
		return
	}
	if o.Error != "" {
		http.Error(w, o.Error, http.StatusGone)
		return
	}
	f.writeJSON(w, http.StatusOK, Delivery{Ticket: o.Ticket, Order: o.Order, Cost: o.Cost})
}

func (f *Front) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.timeout)
}

func (f *Front) fail(w http.ResponseWriter, op string, err error) {
	f.d.p.log.Warn("client request failed", zap.String("op", op), zap.Error(err))
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "the kitchen did not answer in time", http.StatusGatewayTimeout)
	case errors.Is(err, ring.ErrNotStable), errors.Is(err, ErrNoMember):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (f *Front) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
