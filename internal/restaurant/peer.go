package restaurant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tiagocmendes/restaurant-p2p/pkg/ring"
)

// Ring is the slice of a ring node the application uses. *ring.Node
// implements it.
type Ring interface {
	Self() ring.Identity
	Table() (ring.Table, bool)
	WaitTable(ctx context.Context) (ring.Table, error)
	Send(env ring.Envelope) error
	Next(ctx context.Context) (ring.Envelope, error)
}

type Handler interface {
	Handle(ctx context.Context, env ring.Envelope) error
}

// sweeper is implemented by handlers holding state that expires.
type sweeper interface {
	Sweep()
}

const sweepInterval = time.Second

var ErrNoMember = errors.New("no ring member with that role")

// Selector spreads work over every member of a role in turn.
type Selector struct {
	mu   sync.Mutex
	next map[string]int
}

func (s *Selector) Pick(t ring.Table, role string) (ring.Identity, error) {
	ids := t.IDs(role)
	if len(ids) == 0 {
		return ring.Identity{}, fmt.Errorf("%w: %s", ErrNoMember, role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next == nil {
		s.next = make(map[string]int)
	}
	i := s.next[role] % len(ids)
	s.next[role] = i + 1
	return ring.Identity{Role: role, ID: ids[i]}, nil
}

// Peer is a role's handle on its ring node.
type Peer struct {
	r   Ring
	sel Selector
	log *zap.Logger
}

func NewPeer(r Ring, log *zap.Logger) *Peer {
	if log == nil {
		log = zap.NewNop()
	}
	self := r.Self()
	return &Peer{r: r, log: log.Named("simu").With(zap.String("role", self.Role), zap.Int("id", self.ID))}
}

func (p *Peer) Self() ring.Identity { return p.r.Self() }

// Send addresses args to the next member of role.
func (p *Peer) Send(role, method string, args any) error {
	t, ok := p.r.Table()
	if !ok {
		return ring.ErrNotStable
	}
	target, err := p.sel.Pick(t, role)
	if err != nil {
		return err
	}
	return p.SendTo(target, method, args)
}

func (p *Peer) SendTo(target ring.Identity, method string, args any) error {
	env, err := ring.NewEnvelope(method, target, args)
	if err != nil {
		return err
	}
	if err := p.r.Send(env); err != nil {
		return fmt.Errorf("send %s to %s: %w", method, target, err)
	}
	p.log.Debug("queued", zap.String("method", method), zap.Stringer("target", target))
	return nil
}

// Serve waits for the membership table, then hands every delivered envelope
// to h until ctx is done.
func Serve(ctx context.Context, p *Peer, h Handler) error {
	t, err := p.r.WaitTable(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	p.log.Info("entities table", zap.Any("table", t))

	if s, ok := h.(sweeper); ok {
		go func() {
			tick := time.NewTicker(sweepInterval)
			defer tick.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-tick.C:
					s.Sweep()
				}
			}
		}()
	}

	for {
		env, err := p.r.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		p.log.Info("request received", zap.String("method", env.Method))
		if err := h.Handle(ctx, env); err != nil {
			p.log.Warn("request failed", zap.String("method", env.Method), zap.Error(err))
		}
	}
}
