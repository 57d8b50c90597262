package node

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tiagocmendes/restaurant-p2p/pkg/ring"
	"github.com/tiagocmendes/restaurant-p2p/pkg/transport"
)

func TestNormalizeHostPort(t *testing.T) {
	cases := map[string]string{
		"localhost":           "localhost:8080",
		"localhost:5000":      "localhost:5000",
		"http://clerk:9000":   "clerk:9000",
		"https://waiter":      "waiter:8080",
		"udp://10.0.0.1:5000": "10.0.0.1:5000",
		"[::1]:5001":          "[::1]:5001",
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizeHostPort(in, "8080"), in)
	}
}

func newTestNode(t *testing.T) (*Node, *ring.Node) {
	t.Helper()
	tr, err := transport.NewNetwork().Listen("chef")
	require.NoError(t, err)
	r, err := ring.NewNode(ring.Config{
		Self:        ring.Identity{Role: "Chef", ID: 2},
		RingSize:    1,
		RecvTimeout: 20 * time.Millisecond,
	}, tr)
	require.NoError(t, err)
	return NewNode(r, "127.0.0.1:0", nil), r
}

func serve(n *Node) *httptest.Server {
	mux := http.NewServeMux()
	n.Register(mux, "/metrics")
	return httptest.NewServer(mux)
}

func TestHealthz(t *testing.T) {
	n, _ := newTestNode(t)
	srv := serve(n)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTableUnavailableUntilStable(t *testing.T) {
	n, r := newTestNode(t)
	srv := serve(n)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/table")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	_, err = r.WaitTable(waitCtx)
	require.NoError(t, err)

	resp, err = http.Get(srv.URL + "/table")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got ring.Table
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, ring.Table{"Chef": {2}}, got)
}

func TestInfoDescribesRingPosition(t *testing.T) {
	n, _ := newTestNode(t)
	srv := serve(n)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/info")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var info struct {
		Role        string `json:"role"`
		ID          int    `json:"id"`
		RingAddr    string `json:"ring_addr"`
		Phase       string `json:"phase"`
		Initial     bool   `json:"initial"`
		SuccessorID *int   `json:"successor_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	require.Equal(t, "Chef", info.Role)
	require.Equal(t, 2, info.ID)
	require.Equal(t, "chef", info.RingAddr)
	require.Equal(t, "joining", info.Phase)
	require.True(t, info.Initial)
	require.NotNil(t, info.SuccessorID)
	require.Equal(t, 2, *info.SuccessorID)
}

func TestServeStopsOnCancel(t *testing.T) {
	n, _ := newTestNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- n.Serve(ctx, http.NewServeMux()) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
