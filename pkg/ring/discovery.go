package ring

import (
	"go.uber.org/zap"
)

// Discovery takes the token around twice. The first lap collects every id;
// the second hands the complete table to everyone, so each node freezes its
// copy on its second pass. The third arrival, which only the initial entity
// sees, turns the token idle.

func (n *Node) startDiscovery() {
	n.setPhase(PhaseDiscovery)
	n.turns++
	n.log.Info("node discovery started", zap.Any("table", n.table))
	n.forward(DiscoveryToken{Table: n.table.Clone()})
}

func (n *Node) onDiscovery(tok DiscoveryToken) {
	n.setPhase(PhaseDiscovery)
	n.turns++
	if n.turns > 2 {
		n.log.Info("node discovery completed")
		n.setPhase(PhaseCirculating)
		n.forward(IdleToken{})
		return
	}

	tok.Table.Merge(n.self)
	n.table = tok.Table.Clone()
	n.log.Debug("node discovery", zap.Int("turn", n.turns), zap.Any("table", n.table))
	if n.turns == 2 {
		n.publish(n.table)
	}
	n.forward(tok)
}

func (n *Node) publish(t Table) {
	if t.Size() != n.ringSize {
		n.log.Warn("stable table size differs from ring size",
			zap.Int("size", t.Size()), zap.Int("ring_size", n.ringSize))
	}
	n.stableOnce.Do(func() {
		c := t.Clone()
		n.stable.Store(&c)
		close(n.stableCh)
		n.log.Info("membership table stable", zap.Any("table", c))
	})
}
