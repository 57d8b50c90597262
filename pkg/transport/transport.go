// Package transport moves single datagrams between ring nodes. A receive
// that times out reports "nothing arrived" instead of an error, so callers
// can keep looping without special-casing the network being quiet.
package transport

import (
	"errors"
	"time"
)

// MaxDatagram bounds a single payload. Discovery tokens grow with the ring.
const MaxDatagram = 64 << 10

var (
	ErrClosed      = errors.New("transport: closed")
	ErrUnknownNode = errors.New("transport: unknown destination")
	ErrTooLarge    = errors.New("transport: payload exceeds datagram size")
)

// Packet is one received datagram.
type Packet struct {
	From    string
	Payload []byte
}

type Transport interface {
	// Addr is the address peers use to reach this endpoint.
	Addr() string
	// Send is fire and forget; delivery is not guaranteed.
	Send(to string, payload []byte) error
	// Recv waits at most timeout. ok is false when nothing arrived.
	Recv(timeout time.Duration) (p Packet, ok bool, err error)
	Close() error
}
