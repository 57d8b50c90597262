package restaurant

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tiagocmendes/restaurant-p2p/pkg/ring"
)

// Process is one ring member playing the role named by its identity.
type Process struct {
	Node *ring.Node
	Peer *Peer
	Role Handler
}

func NewProcess(n *ring.Node, opts Options, log *zap.Logger) (*Process, error) {
	p := NewPeer(n, log)
	h, err := NewRole(n.Self().Role, p, opts)
	if err != nil {
		return nil, err
	}
	return &Process{Node: n, Peer: p, Role: h}, nil
}

// Front returns the HTTP window when this process is a drive-through.
func (p *Process) Front(timeout time.Duration) (*Front, bool) {
	d, ok := p.Role.(*DriveThrough)
	if !ok {
		return nil, false
	}
	return NewFront(d, timeout), true
}

// Run drives the ring worker and the role side by side. The first error
// stops both.
func (p *Process) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- p.Node.Run(ctx) }()
	go func() { errCh <- Serve(ctx, p.Peer, p.Role) }()

	var first error
	for range 2 {
		if err := <-errCh; err != nil && first == nil {
			first = err
			cancel()
		}
	}
	return first
}
