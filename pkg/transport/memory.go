package transport

import (
	"sync"
	"time"
)

const inboxSize = 1024

// Network is an in-process registry of inboxes. Transports created from the
// same Network can reach each other by address; nothing leaves the process.
type Network struct {
	mu    sync.RWMutex
	boxes map[string]chan Packet
}

func NewNetwork() *Network {
	return &Network{boxes: make(map[string]chan Packet)}
}

// Listen registers addr on the network.
func (n *Network) Listen(addr string) (*MemoryTransport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.boxes[addr]; ok {
		return nil, &AddrInUseError{Addr: addr}
	}
	box := make(chan Packet, inboxSize)
	n.boxes[addr] = box
	return &MemoryTransport{net: n, addr: addr, inbox: box, done: make(chan struct{})}, nil
}

func (n *Network) inbox(addr string) (chan Packet, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	box, ok := n.boxes[addr]
	return box, ok
}

func (n *Network) remove(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.boxes, addr)
}

type AddrInUseError struct{ Addr string }

func (e *AddrInUseError) Error() string { return "transport: address in use: " + e.Addr }

// MemoryTransport is a Transport over a Network. A full inbox drops the
// datagram, the same as an overrun socket buffer.
type MemoryTransport struct {
	net   *Network
	addr  string
	inbox chan Packet

	once sync.Once
	done chan struct{}
}

func (t *MemoryTransport) Addr() string { return t.addr }

func (t *MemoryTransport) Send(to string, payload []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	if len(payload) > MaxDatagram {
		return ErrTooLarge
	}
	box, ok := t.net.inbox(to)
	if !ok {
		return ErrUnknownNode
	}
	p := Packet{From: t.addr, Payload: append([]byte(nil), payload...)}
	select {
	case box <- p:
	default:
	}
	return nil
}

func (t *MemoryTransport) Recv(timeout time.Duration) (Packet, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p := <-t.inbox:
		return p, true, nil
	case <-timer.C:
		return Packet{}, false, nil
	case <-t.done:
		return Packet{}, false, ErrClosed
	}
}

func (t *MemoryTransport) Close() error {
	t.once.Do(func() {
		close(t.done)
		t.net.remove(t.addr)
	})
	return nil
}
