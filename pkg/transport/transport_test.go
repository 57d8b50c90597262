package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUDPSendRecv(t *testing.T) {
	a, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer a.Close()
	b, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Send(b.Addr(), []byte("token")))

	p, ok, err := b.Recv(2 * time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "token", string(p.Payload))
	require.Equal(t, a.Addr(), p.From)
}

func TestUDPRecvTimeoutIsNotAnError(t *testing.T) {
	a, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer a.Close()

	start := time.Now()
	_, ok, err := a.Recv(50 * time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestUDPRecvAfterClose(t *testing.T) {
	a, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	_, _, err = a.Recv(10 * time.Millisecond)
	require.True(t, errors.Is(err, ErrClosed), "got %v", err)
}

func TestMemoryNetwork(t *testing.T) {
	n := NewNetwork()
	a, err := n.Listen("a")
	require.NoError(t, err)
	b, err := n.Listen("b")
	require.NoError(t, err)

	_, err = n.Listen("a")
	var inUse *AddrInUseError
	require.ErrorAs(t, err, &inUse)

	require.NoError(t, a.Send("b", []byte("one")))
	require.NoError(t, a.Send("b", []byte("two")))

	for _, want := range []string{"one", "two"} {
		p, ok, err := b.Recv(time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, string(p.Payload))
		require.Equal(t, "a", p.From)
	}

	_, ok, err := b.Recv(10 * time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)

	require.ErrorIs(t, a.Send("nowhere", []byte("x")), ErrUnknownNode)
	require.ErrorIs(t, a.Send("b", make([]byte, MaxDatagram+1)), ErrTooLarge)

	require.NoError(t, b.Close())
	require.ErrorIs(t, a.Send("b", []byte("x")), ErrUnknownNode)
	_, _, err = b.Recv(time.Millisecond)
	require.ErrorIs(t, err, ErrClosed)
}
