package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// UDPTransport owns one bound datagram socket.
type UDPTransport struct {
	conn net.PacketConn
	buf  []byte

	mu     sync.Mutex
	resolv map[string]*net.UDPAddr
}

// ListenUDP binds addr ("host:port"; port 0 picks a free one).
func ListenUDP(addr string) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	return &UDPTransport{
		conn:   conn,
		buf:    make([]byte, MaxDatagram),
		resolv: make(map[string]*net.UDPAddr),
	}, nil
}

func (t *UDPTransport) Addr() string { return t.conn.LocalAddr().String() }

func (t *UDPTransport) Send(to string, payload []byte) error {
	if len(payload) > MaxDatagram {
		return ErrTooLarge
	}
	ua, err := t.resolve(to)
	if err != nil {
		return err
	}
	_, err = t.conn.WriteTo(payload, ua)
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}

// Recv is only called from the owning worker, so buf is not shared.
func (t *UDPTransport) Recv(timeout time.Duration) (Packet, bool, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return Packet{}, false, ErrClosed
		}
		return Packet{}, false, err
	}
	n, from, err := t.conn.ReadFrom(t.buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return Packet{}, false, nil
		}
		if errors.Is(err, net.ErrClosed) {
			return Packet{}, false, ErrClosed
		}
		return Packet{}, false, err
	}
	if n == 0 {
		return Packet{}, false, nil
	}
	return Packet{From: from.String(), Payload: append([]byte(nil), t.buf[:n]...)}, true, nil
}

func (t *UDPTransport) Close() error { return t.conn.Close() }

func (t *UDPTransport) resolve(addr string) (*net.UDPAddr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ua, ok := t.resolv[addr]; ok {
		return ua, nil
	}
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	t.resolv[addr] = ua
	return ua, nil
}
