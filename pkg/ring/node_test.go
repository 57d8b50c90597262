package ring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tiagocmendes/restaurant-p2p/pkg/transport"
)

const testTimeout = 10 * time.Second

// harness runs nodes over an in-memory network and watches every token on
// the wire.
type harness struct {
	t      *testing.T
	net    *transport.Network
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	nodes map[int]*Node
	kinds []string

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func newHarness(t *testing.T) *harness {
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{t: t, net: transport.NewNetwork(), ctx: ctx, cancel: cancel, nodes: make(map[int]*Node)}
	t.Cleanup(func() {
		cancel()
		h.wg.Wait()
	})
	return h
}

func addrOf(id int) string { return fmt.Sprintf("node-%d", id) }

func (h *harness) node(self Identity, size int, rendezvous string) *Node {
	h.t.Helper()
	tr, err := h.net.Listen(addrOf(self.ID))
	require.NoError(h.t, err)
	n, err := NewNode(Config{
		Self:        self,
		RingSize:    size,
		Rendezvous:  rendezvous,
		RecvTimeout: 100 * time.Millisecond,
	}, &watchedTransport{Transport: tr, h: h})
	require.NoError(h.t, err)
	h.mu.Lock()
	h.nodes[self.ID] = n
	h.mu.Unlock()
	return n
}

func (h *harness) start(self Identity, size int, rendezvous string) *Node {
	n := h.node(self, size, rendezvous)
	h.run(n)
	return n
}

func (h *harness) run(n *Node) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := n.Run(h.ctx); err != nil {
			h.t.Errorf("%s: Run = %v", n.Self(), err)
		}
	}()
}

func (h *harness) waitJoined(n *Node) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		_, _, ok := n.Successor()
		return ok
	}, testTimeout, time.Millisecond, "%s never joined", n.Self())
}

func (h *harness) waitTables() map[int]Table {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(h.ctx, testTimeout)
	defer cancel()
	h.mu.Lock()
	nodes := make(map[int]*Node, len(h.nodes))
	for id, n := range h.nodes {
		nodes[id] = n
	}
	h.mu.Unlock()

	out := make(map[int]Table, len(nodes))
	for id, n := range nodes {
		tbl, err := n.WaitTable(ctx)
		require.NoError(h.t, err, "%s never got a stable table", n.Self())
		out[id] = tbl
	}
	return out
}

// cycle follows successor pointers from start until it comes back.
func (h *harness) cycle(start int) []int {
	h.t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	out := []int{start}
	cur := start
	for range len(h.nodes) {
		next, _, ok := h.nodes[cur].Successor()
		require.True(h.t, ok)
		out = append(out, next)
		if next == start {
			break
		}
		cur = next
	}
	return out
}

func (h *harness) sentKinds() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.kinds...)
}

type watchedTransport struct {
	transport.Transport
	h *harness
}

func (w *watchedTransport) Send(to string, payload []byte) error {
	if kind, ok := tokenKind(payload); ok {
		n := w.h.inFlight.Add(1)
		for {
			cur := w.h.maxInFlight.Load()
			if n <= cur || w.h.maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		w.h.mu.Lock()
		w.h.kinds = append(w.h.kinds, kind)
		w.h.mu.Unlock()
	}
	return w.Transport.Send(to, payload)
}

func (w *watchedTransport) Recv(timeout time.Duration) (transport.Packet, bool, error) {
	p, ok, err := w.Transport.Recv(timeout)
	if ok {
		if _, isToken := tokenKind(p.Payload); isToken {
			w.h.inFlight.Add(-1)
		}
	}
	return p, ok, err
}

func tokenKind(b []byte) (string, bool) {
	m, err := decodeMessage(b)
	if err != nil || m.Method != methodToken {
		return "", false
	}
	tok, err := decodeToken(m.Args)
	if err != nil {
		return "", false
	}
	return tok.Kind(), true
}

var (
	driveThrough = Identity{Role: "Drive-Through", ID: 0}
	clerk        = Identity{Role: "Clerk", ID: 1}
	chef         = Identity{Role: "Chef", ID: 2}
	waiter       = Identity{Role: "Waiter", ID: 3}
)

func TestJoinOrderBuildsSortedCycle(t *testing.T) {
	h := newHarness(t)

	// 2 bootstraps; 0, 1 and 3 join through it one after another
	h.start(chef, 4, "")
	for _, id := range []Identity{driveThrough, clerk, waiter} {
		n := h.start(id, 4, addrOf(chef.ID))
		h.waitJoined(n)
	}

	require.Equal(t, []int{0, 1, 2, 3, 0}, h.cycle(0))
	require.Equal(t, []int{2, 3, 0, 1, 2}, h.cycle(2))
}

func TestConcurrentJoinsConvergeOnOneTable(t *testing.T) {
	h := newHarness(t)
	ids := []Identity{
		{Role: "Chef", ID: 7},
		{Role: "Chef", ID: 2},
		{Role: "Waiter", ID: 9},
		{Role: "Clerk", ID: 4},
		{Role: "Drive-Through", ID: 0},
	}
	const size = 6
	initial := Identity{Role: "Waiter", ID: 5}

	h.start(initial, size, "")
	var joiners []*Node
	for _, id := range ids {
		joiners = append(joiners, h.node(id, size, addrOf(initial.ID)))
	}
	for _, n := range joiners {
		h.run(n)
	}

	tables := h.waitTables()
	require.Equal(t, []int{0, 2, 4, 5, 7, 9, 0}, h.cycle(0))

	want := NewTable(initial)
	for _, id := range ids {
		want.Merge(id)
	}
	for id, tbl := range tables {
		require.Truef(t, tbl.Equal(want), "node %d table %v, want %v", id, tbl, want)
		require.Equal(t, size, tbl.Size())
	}
}

func TestSingleNodeRing(t *testing.T) {
	h := newHarness(t)
	n := h.start(chef, 1, "")
	h.waitTables()

	env, err := NewEnvelope("NOTE", chef, map[string]string{"to": "self"})
	require.NoError(t, err)
	require.NoError(t, n.Send(env))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	got, err := n.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, env, got)
	require.Equal(t, PhaseCirculating, n.Phase())
}

func startRestaurant(t *testing.T) (*harness, map[int]*Node) {
	h := newHarness(t)
	nodes := map[int]*Node{0: h.start(driveThrough, 4, "")}
	for _, id := range []Identity{clerk, chef, waiter} {
		nodes[id.ID] = h.start(id, 4, addrOf(driveThrough.ID))
	}
	h.waitTables()
	return h, nodes
}

func TestDeliveryReachesOnlyTheTarget(t *testing.T) {
	_, nodes := startRestaurant(t)

	var sent []Envelope
	for i := range 3 {
		env, err := NewEnvelope("ORDER_READY", waiter, map[string]int{"ticket": i})
		require.NoError(t, err)
		require.NoError(t, nodes[chef.ID].Send(env))
		sent = append(sent, env)
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	for _, want := range sent {
		got, err := nodes[waiter.ID].Next(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	// let the token lap a few more times before checking nobody else got it
	time.Sleep(50 * time.Millisecond)
	for id, n := range nodes {
		env, ok := n.Receive()
		require.Falsef(t, ok, "node %d received %v", id, env)
	}
}

func TestSendRequiresStableTableAndKnownTarget(t *testing.T) {
	h := newHarness(t)
	n := h.node(driveThrough, 2, "")

	env, err := NewEnvelope("PING", chef, nil)
	require.NoError(t, err)
	require.ErrorIs(t, n.Send(env), ErrNotStable)

	h.run(n)
	h.start(chef, 2, addrOf(driveThrough.ID))
	h.waitTables()

	require.NoError(t, n.Send(env))
	stranger, _ := NewEnvelope("PING", Identity{Role: "Chef", ID: 42}, nil)
	require.ErrorIs(t, n.Send(stranger), ErrUnknownTarget)
	wrongRole, _ := NewEnvelope("PING", Identity{Role: "Waiter", ID: chef.ID}, nil)
	require.ErrorIs(t, n.Send(wrongRole), ErrUnknownTarget)
}

func TestAtMostOneTokenInFlight(t *testing.T) {
	h, nodes := startRestaurant(t)

	// every node fires at every other node
	var want atomic.Int64
	for _, from := range nodes {
		for _, to := range nodes {
			for i := range 5 {
				env, err := NewEnvelope("PING", to.Self(), map[string]int{"n": i})
				require.NoError(t, err)
				require.NoError(t, from.Send(env))
				want.Add(1)
			}
		}
	}

	var got atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	var wg sync.WaitGroup
	for _, n := range nodes {
		wg.Add(1)
		go func(n *Node) {
			defer wg.Done()
			for range 4 * 5 {
				env, err := n.Next(ctx)
				if err != nil {
					return
				}
				if env.Target != n.Self() {
					t.Errorf("%s got envelope for %s", n.Self(), env.Target)
				}
				got.Add(1)
			}
		}(n)
	}
	wg.Wait()

	require.Equal(t, want.Load(), got.Load())
	require.LessOrEqual(t, h.maxInFlight.Load(), int64(1))
}

func TestIdleTokenKeepsCirculating(t *testing.T) {
	h, _ := startRestaurant(t)

	before := len(h.sentKinds())
	require.Eventually(t, func() bool { return len(h.sentKinds()) > before+4*5 },
		testTimeout, time.Millisecond, "token stopped moving")

	// the last discovery hop may still be on its way when tables settle
	kinds := h.sentKinds()
	require.Equal(t, KindIdle, kinds[len(kinds)-1])
	for _, k := range kinds[before:] {
		require.NotEqual(t, KindMessage, k, "quiet ring carried a message")
		require.NotEqual(t, KindCount, k)
	}
	require.LessOrEqual(t, h.maxInFlight.Load(), int64(1))
}

// Unit tests below drive handlers directly; the node's only peer is a
// transport the test reads from.

func lonelyNode(t *testing.T, self Identity, size int) (*Node, *transport.Network, *transport.MemoryTransport) {
	t.Helper()
	net := transport.NewNetwork()
	tr, err := net.Listen(addrOf(self.ID))
	require.NoError(t, err)
	n, err := NewNode(Config{Self: self, RingSize: size, RecvTimeout: 10 * time.Millisecond}, tr)
	require.NoError(t, err)
	return n, net, tr
}

func recvMessage(t *testing.T, tr transport.Transport) message {
	t.Helper()
	p, ok, err := tr.Recv(time.Second)
	require.NoError(t, err)
	require.True(t, ok, "nothing arrived")
	m, err := decodeMessage(p.Payload)
	require.NoError(t, err)
	return m
}

func recvToken(t *testing.T, tr transport.Transport) Token {
	t.Helper()
	m := recvMessage(t, tr)
	require.Equal(t, methodToken, m.Method)
	tok, err := decodeToken(m.Args)
	require.NoError(t, err)
	return tok
}

func joinArgs(t *testing.T, id int) json.RawMessage {
	b, err := json.Marshal(joinRequest{ID: id, Address: addrOf(id)})
	require.NoError(t, err)
	return b
}

func TestCountLapRestartsUntilRingIsFull(t *testing.T) {
	n, _, self := lonelyNode(t, driveThrough, 3)

	n.handleToken(CountToken{Count: 2})
	require.Equal(t, CountToken{Count: 1}, recvToken(t, self))

	n.handleToken(CountToken{Count: 3})
	tok := recvToken(t, self)
	require.Equal(t, DiscoveryToken{Table: NewTable(driveThrough)}, tok)
	require.Equal(t, PhaseDiscovery, n.Phase())
}

func TestNonInitialNodeIncrementsCount(t *testing.T) {
	net := transport.NewNetwork()
	tr, err := net.Listen(addrOf(clerk.ID))
	require.NoError(t, err)
	succ, err := net.Listen(addrOf(chef.ID))
	require.NoError(t, err)
	n, err := NewNode(Config{Self: clerk, RingSize: 4, Rendezvous: addrOf(0)}, tr)
	require.NoError(t, err)
	n.setSuccessor(chef.ID, succ.Addr())

	n.handleToken(CountToken{Count: 2})
	require.Equal(t, CountToken{Count: 3}, recvToken(t, succ))
}

func TestDiscoveryFreezesOnSecondMergeAndIdlesOnThird(t *testing.T) {
	net := transport.NewNetwork()
	tr, err := net.Listen(addrOf(clerk.ID))
	require.NoError(t, err)
	succ, err := net.Listen(addrOf(chef.ID))
	require.NoError(t, err)
	n, err := NewNode(Config{Self: clerk, RingSize: 3, Rendezvous: addrOf(0)}, tr)
	require.NoError(t, err)
	n.setSuccessor(chef.ID, succ.Addr())

	// first lap: only the initial entity is in the table so far
	n.handleToken(DiscoveryToken{Table: NewTable(driveThrough)})
	tok := recvToken(t, succ).(DiscoveryToken)
	require.True(t, tok.Table.Has(clerk))
	_, ok := n.Table()
	require.False(t, ok, "table published after one merge")

	// second lap: everyone is in
	full := Table{"Drive-Through": {0}, "Clerk": {1}, "Chef": {2}}
	n.handleToken(DiscoveryToken{Table: full.Clone()})
	require.Equal(t, DiscoveryToken{Table: full}, recvToken(t, succ))
	got, ok := n.Table()
	require.True(t, ok)
	require.True(t, got.Equal(full))

	n.handleToken(DiscoveryToken{Table: full.Clone()})
	require.Equal(t, IdleToken{}, recvToken(t, succ))
	require.Equal(t, PhaseCirculating, n.Phase())
}

func TestUnknownTokenIsRelayed(t *testing.T) {
	n, _, self := lonelyNode(t, chef, 1)
	raw := json.RawMessage(`{"kind":"AUDIT","seq":7}`)

	n.handleToken(UnknownToken{Name: "AUDIT", Raw: raw})

	m := recvMessage(t, self)
	require.JSONEq(t, string(raw), string(m.Args))
}

func TestJoinRequestHandling(t *testing.T) {
	n, net, _ := lonelyNode(t, Identity{Role: "Chef", ID: 5}, 4)
	listen := func(id int) *transport.MemoryTransport {
		tr, err := net.Listen(addrOf(id))
		require.NoError(t, err)
		return tr
	}
	reply := func(tr transport.Transport) joinReply {
		m := recvMessage(t, tr)
		require.Equal(t, methodJoinReply, m.Method)
		var rep joinReply
		require.NoError(t, json.Unmarshal(m.Args, &rep))
		return rep
	}

	// ring of one: the requester closes a two-node ring
	r8 := listen(8)
	n.handleJoinRequest(joinArgs(t, 8))
	require.Equal(t, joinReply{SuccessorID: 5, SuccessorAddress: addrOf(5)}, reply(r8))
	succ, _, _ := n.Successor()
	require.Equal(t, 8, succ)

	// 7 falls in (5, 8]: inserted between us and 8
	r7 := listen(7)
	n.handleJoinRequest(joinArgs(t, 7))
	require.Equal(t, joinReply{SuccessorID: 8, SuccessorAddress: addrOf(8)}, reply(r7))
	succ, _, _ = n.Successor()
	require.Equal(t, 7, succ)

	// a resend gets the same answer and does not move the pointer
	n.handleJoinRequest(joinArgs(t, 7))
	require.Equal(t, joinReply{SuccessorID: 8, SuccessorAddress: addrOf(8)}, reply(r7))
	succ, _, _ = n.Successor()
	require.Equal(t, 7, succ)

	// 2 is outside (5, 7]: passed on to the successor
	listen(2)
	n.handleJoinRequest(joinArgs(t, 2))
	m := recvMessage(t, r7)
	require.Equal(t, methodJoinRequest, m.Method)
	var fwd joinRequest
	require.NoError(t, json.Unmarshal(m.Args, &fwd))
	require.Equal(t, joinRequest{ID: 2, Address: addrOf(2)}, fwd)

	// our own id is a configuration error and changes nothing
	n.handleJoinRequest(joinArgs(t, 5))
	succ, _, _ = n.Successor()
	require.Equal(t, 7, succ)
}

func TestJoinerBuffersTrafficUntilReply(t *testing.T) {
	net := transport.NewNetwork()
	rendezvous, err := net.Listen(addrOf(0))
	require.NoError(t, err)
	tr, err := net.Listen(addrOf(1))
	require.NoError(t, err)
	n, err := NewNode(Config{Self: clerk, RingSize: 2, Rendezvous: addrOf(0), RecvTimeout: 50 * time.Millisecond}, tr)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	// the token overtakes the reply
	require.Equal(t, methodJoinRequest, recvMessage(t, rendezvous).Method)
	count, err := encodeToken(CountToken{Count: 1})
	require.NoError(t, err)
	require.NoError(t, rendezvous.Send(addrOf(1), count))
	rep, err := encodeMessage(methodJoinReply, joinReply{SuccessorID: 0, SuccessorAddress: addrOf(0)})
	require.NoError(t, err)
	require.NoError(t, rendezvous.Send(addrOf(1), rep))

	// the buffered count token is processed once joined
	for {
		m := recvMessage(t, rendezvous)
		if m.Method == methodJoinRequest {
			continue // a resend raced the reply
		}
		tok, err := decodeToken(m.Args)
		require.NoError(t, err)
		require.Equal(t, CountToken{Count: 2}, tok)
		break
	}

	cancel()
	select {
	case err := <-done:
		require.True(t, err == nil || errors.Is(err, context.Canceled), "Run = %v", err)
	case <-time.After(testTimeout):
		t.Fatal("Run did not return after cancel")
	}
}
