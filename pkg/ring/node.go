// Package ring implements a token ring over an unreliable datagram transport.
//
// Nodes join in ascending id order by asking a rendezvous node for their
// successor, then the initial entity counts members with a circulating
// token, spreads a membership table with a second token, and finally lets
// a single idle token carry addressed envelopes between members. Each node
// knows only its own successor.
//
// The application side never touches the network: it reads the stable
// membership table, pushes envelopes with Send and pops deliveries with
// Receive or Next.
package ring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tiagocmendes/restaurant-p2p/internal/telemetry"
	"github.com/tiagocmendes/restaurant-p2p/pkg/transport"
)

// DefaultRecvTimeout bounds each receive of the network worker.
const DefaultRecvTimeout = 3 * time.Second

var (
	ErrNotStable     = errors.New("ring: membership table not stable yet")
	ErrUnknownTarget = errors.New("ring: target is not a ring member")
)

type Phase int32

const (
	PhaseJoining Phase = iota
	PhaseCounting
	PhaseDiscovery
	PhaseCirculating
)

func (p Phase) String() string {
	switch p {
	case PhaseJoining:
		return "joining"
	case PhaseCounting:
		return "counting"
	case PhaseDiscovery:
		return "discovery"
	case PhaseCirculating:
		return "circulating"
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

type Config struct {
	Self     Identity
	RingSize int
	// Rendezvous is the address of the node that bootstraps the ring.
	// Empty makes this node the initial entity.
	Rendezvous string
	// Advertise is the address peers send to. Defaults to the transport's.
	Advertise   string
	RecvTimeout time.Duration
	Logger      *zap.Logger
}

type Node struct {
	self       Identity
	addr       string
	ringSize   int
	rendezvous string
	initial    bool
	timeout    time.Duration
	tr         transport.Transport
	log        *zap.Logger

	// written by the network worker only; the lock is for outside readers
	mu            sync.RWMutex
	member        bool
	successorID   int
	successorAddr string

	// network worker state
	table   Table
	turns   int
	replies map[int]joinReply
	backlog []transport.Packet

	phase      atomic.Int32
	stable     atomic.Pointer[Table]
	stableCh   chan struct{}
	stableOnce sync.Once

	outbound *Queue[Envelope]
	inbound  *Queue[Envelope]
}

func NewNode(cfg Config, tr transport.Transport) (*Node, error) {
	if cfg.Self.Role == "" {
		return nil, fmt.Errorf("ring: identity needs a role")
	}
	if cfg.Self.ID < 0 {
		return nil, fmt.Errorf("ring: id must be non-negative, got %d", cfg.Self.ID)
	}
	if cfg.RingSize < 1 {
		return nil, fmt.Errorf("ring: ring size must be at least 1, got %d", cfg.RingSize)
	}
	if tr == nil {
		return nil, fmt.Errorf("ring: nil transport")
	}
	if cfg.RecvTimeout <= 0 {
		cfg.RecvTimeout = DefaultRecvTimeout
	}
	if cfg.Advertise == "" {
		cfg.Advertise = tr.Addr()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	n := &Node{
		self:       cfg.Self,
		addr:       cfg.Advertise,
		ringSize:   cfg.RingSize,
		rendezvous: cfg.Rendezvous,
		initial:    cfg.Rendezvous == "",
		timeout:    cfg.RecvTimeout,
		tr:         tr,
		log: cfg.Logger.Named("comm").With(
			zap.String("role", cfg.Self.Role), zap.Int("id", cfg.Self.ID)),
		table:    NewTable(cfg.Self),
		replies:  make(map[int]joinReply),
		stableCh: make(chan struct{}),
		outbound: NewQueue[Envelope](),
		inbound:  NewQueue[Envelope](),
	}
	if n.initial {
		// a ring of one: its own successor
		n.member = true
		n.successorID = n.self.ID
		n.successorAddr = n.addr
	}
	telemetry.RingPhase.WithLabelValues(n.self.String()).Set(float64(PhaseJoining))
	return n, nil
}

func (n *Node) Self() Identity { return n.self }

func (n *Node) Addr() string { return n.addr }

// Initial reports whether this node bootstraps the ring.
func (n *Node) Initial() bool { return n.initial }

func (n *Node) Phase() Phase { return Phase(n.phase.Load()) }

// Successor returns the local ring pointer; ok is false until joined.
func (n *Node) Successor() (id int, addr string, ok bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.successorID, n.successorAddr, n.member
}

// Table returns a copy of the stable membership table, or false while
// discovery is still running.
func (n *Node) Table() (Table, bool) {
	t := n.stable.Load()
	if t == nil {
		return nil, false
	}
	return t.Clone(), true
}

// WaitTable blocks until the membership table is stable.
func (n *Node) WaitTable(ctx context.Context) (Table, error) {
	select {
	case <-n.stableCh:
		t, _ := n.Table()
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send queues env for the next token visit. The target must be a member of
// the stable table; an unroutable envelope would hold the token forever.
func (n *Node) Send(env Envelope) error {
	t := n.stable.Load()
	if t == nil {
		return ErrNotStable
	}
	if !t.Has(env.Target) {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, env.Target)
	}
	n.outbound.Push(env)
	return nil
}

// Receive pops the oldest delivered envelope without blocking.
func (n *Node) Receive() (Envelope, bool) { return n.inbound.TryPop() }

// Next blocks until an envelope is delivered or ctx is done.
func (n *Node) Next(ctx context.Context) (Envelope, error) { return n.inbound.Pop(ctx) }

// Pending counts envelopes still waiting for the token.
func (n *Node) Pending() int { return n.outbound.Len() }

// Run is the network worker. It owns the transport and drives join, count,
// discovery and circulation in that order. It returns nil once ctx is done.
func (n *Node) Run(ctx context.Context) error {
	n.log.Info("ring worker started", zap.String("addr", n.addr), zap.Int("ring_size", n.ringSize))

	if n.initial {
		n.setPhase(PhaseCounting)
		n.log.Info("initial entity, starting ring count")
		n.forward(CountToken{Count: 1})
	} else {
		if err := n.join(ctx); err != nil {
			return err
		}
		if !n.isMember() {
			return nil
		}
	}

	backlog := n.backlog
	n.backlog = nil
	for _, p := range backlog {
		n.dispatch(p)
	}

	for ctx.Err() == nil {
		p, ok, err := n.tr.Recv(n.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ring recv: %w", err)
		}
		if !ok {
			continue
		}
		n.dispatch(p)
	}
	return nil
}

func (n *Node) dispatch(p transport.Packet) {
	m, err := decodeMessage(p.Payload)
	if err != nil {
		n.log.Warn("dropping malformed datagram", zap.String("from", p.From), zap.Error(err))
		return
	}
	switch m.Method {
	case methodJoinRequest:
		n.handleJoinRequest(m.Args)
	case methodJoinReply:
		n.log.Debug("join reply after joining, ignored", zap.String("from", p.From))
	case methodToken:
		tok, err := decodeToken(m.Args)
		if err != nil {
			n.log.Error("undecodable token dropped", zap.String("from", p.From), zap.Error(err))
			return
		}
		n.handleToken(tok)
	default:
		n.log.Warn("unknown method", zap.String("method", m.Method), zap.String("from", p.From))
	}
}

func (n *Node) handleToken(tok Token) {
	telemetry.TokenHops.WithLabelValues(tok.Kind()).Inc()
	switch tok := tok.(type) {
	case CountToken:
		n.onCount(tok)
	case DiscoveryToken:
		n.onDiscovery(tok)
	case IdleToken:
		n.onIdle()
	case MessageToken:
		n.onMessage(tok)
	case UnknownToken:
		n.log.Warn("unknown token kind, relaying", zap.String("kind", tok.Name))
		n.forward(tok)
	}
}

// forward hands tok to the successor.
func (n *Node) forward(tok Token) {
	b, err := encodeToken(tok)
	if err != nil {
		n.log.Error("encode token", zap.String("kind", tok.Kind()), zap.Error(err))
		return
	}
	if err := n.tr.Send(n.successorAddr, b); err != nil {
		n.log.Error("send token", zap.String("kind", tok.Kind()),
			zap.String("to", n.successorAddr), zap.Error(err))
	}
}

func (n *Node) isMember() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.member
}

func (n *Node) setSuccessor(id int, addr string) {
	n.mu.Lock()
	n.successorID, n.successorAddr = id, addr
	n.member = true
	n.mu.Unlock()
	n.log.Info("successor set", zap.Int("successor_id", id), zap.String("successor_addr", addr))
}

func (n *Node) setPhase(p Phase) {
	if Phase(n.phase.Swap(int32(p))) == p {
		return
	}
	telemetry.RingPhase.WithLabelValues(n.self.String()).Set(float64(p))
	if p != PhaseJoining {
		n.log.Info("phase", zap.Stringer("phase", p))
	}
}

func (n *Node) String() string {
	id, addr, _ := n.Successor()
	return fmt.Sprintf("%s at %s, successor %d at %s", n.self, n.addr, id, addr)
}
