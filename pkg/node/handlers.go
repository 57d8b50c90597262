package node

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

const shutdownGrace = 5 * time.Second

// Healthz returns 200 OK to indicate the Node is alive.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes a JSON payload describing this process and its place in the ring.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID           int       `json:"pid"`
		Now           time.Time `json:"now"`
		Role          string    `json:"role"`
		ID            int       `json:"id"`
		RingAddr      string    `json:"ring_addr"`
		Phase         string    `json:"phase"`
		Initial       bool      `json:"initial"`
		SuccessorID   *int      `json:"successor_id,omitempty"`
		SuccessorAddr string    `json:"successor_addr,omitempty"`
		Pending       int       `json:"pending"`
	}
	r := n.ring
	out := resp{
		PID:      os.Getpid(),
		Now:      time.Now(),
		Role:     r.Self().Role,
		ID:       r.Self().ID,
		RingAddr: r.Addr(),
		Phase:    r.Phase().String(),
		Initial:  r.Initial(),
		Pending:  r.Pending(),
	}
	if id, addr, ok := r.Successor(); ok {
		out.SuccessorID = &id
		out.SuccessorAddr = addr
	}
	n.writeJSON(w, http.StatusOK, out)
}

// Table writes the stable membership table, or 503 while discovery runs.
func (n *Node) Table(w http.ResponseWriter, _ *http.Request) {
	t, ok := n.ring.Table()
	if !ok {
		http.Error(w, "membership table not stable yet", http.StatusServiceUnavailable)
		return
	}
	n.writeJSON(w, http.StatusOK, t)
}

func (n *Node) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		n.log.Error("encode response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
