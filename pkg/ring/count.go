package ring

import (
	"go.uber.org/zap"

	"github.com/tiagocmendes/restaurant-p2p/internal/telemetry"
)

// onCount: members add one and pass the token on; the initial entity checks
// the total when the token comes home and either starts discovery or begins
// another lap. With fewer than RingSize members alive this loops forever.
func (n *Node) onCount(tok CountToken) {
	n.setPhase(PhaseCounting)
	if !n.initial {
		tok.Count++
		n.log.Debug("ring count", zap.Int("count", tok.Count))
		n.forward(tok)
		return
	}

	if tok.Count == n.ringSize {
		n.log.Info("ring complete", zap.Int("size", tok.Count))
		n.startDiscovery()
		return
	}
	telemetry.CountLaps.Inc()
	n.log.Debug("ring incomplete, counting again", zap.Int("count", tok.Count), zap.Int("want", n.ringSize))
	n.forward(CountToken{Count: 1})
}
