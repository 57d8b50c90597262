package ring

import (
	"go.uber.org/zap"

	"github.com/tiagocmendes/restaurant-p2p/internal/telemetry"
)

func (n *Node) onIdle() {
	n.setPhase(PhaseCirculating)
	n.refill()
}

// onMessage relays envelopes for others untouched. An envelope for us is
// delivered and the token is reused in the same hop.
func (n *Node) onMessage(tok MessageToken) {
	n.setPhase(PhaseCirculating)
	if tok.Envelope.Target != n.self {
		n.forward(tok)
		return
	}
	n.log.Debug("delivered", zap.String("method", tok.Envelope.Method))
	telemetry.MessagesDelivered.Inc()
	n.inbound.Push(tok.Envelope)
	n.refill()
}

// refill loads the oldest pending envelope, or passes the token on idle.
func (n *Node) refill() {
	env, ok := n.outbound.TryPop()
	if !ok {
		n.forward(IdleToken{})
		return
	}
	n.log.Debug("sending", zap.String("method", env.Method), zap.Stringer("target", env.Target))
	telemetry.MessagesInjected.Inc()
	n.forward(MessageToken{Envelope: env})
}
