package ring

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/tiagocmendes/restaurant-p2p/internal/telemetry"
)

// Between reports whether x lies in the cyclic interval (lo, hi]. When
// lo == hi the interval is the whole circle.
func Between(lo, hi, x int) bool {
	if lo < hi {
		return lo < x && x <= hi
	}
	return x > lo || x <= hi
}

// join asks the rendezvous for a successor until one reply arrives. Anything
// else received meanwhile is kept for after the join: it may be the token.
func (n *Node) join(ctx context.Context) error {
	req, err := encodeMessage(methodJoinRequest, joinRequest{ID: n.self.ID, Address: n.addr})
	if err != nil {
		return fmt.Errorf("encode join request: %w", err)
	}

	for !n.isMember() {
		if ctx.Err() != nil {
			return nil
		}
		n.log.Info("sending join request", zap.String("rendezvous", n.rendezvous))
		if err := n.tr.Send(n.rendezvous, req); err != nil {
			n.log.Warn("join request not sent", zap.Error(err))
		}

	wait:
		for {
			p, ok, err := n.tr.Recv(n.timeout)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("ring recv: %w", err)
			}
			if !ok {
				break wait
			}
			m, err := decodeMessage(p.Payload)
			if err != nil {
				n.log.Warn("dropping malformed datagram", zap.String("from", p.From), zap.Error(err))
				continue
			}
			if m.Method != methodJoinReply {
				n.backlog = append(n.backlog, p)
				continue
			}
			var rep joinReply
			if err := json.Unmarshal(m.Args, &rep); err != nil {
				n.log.Warn("bad join reply", zap.Error(err))
				continue
			}
			n.setSuccessor(rep.SuccessorID, rep.SuccessorAddress)
			n.setPhase(PhaseCounting)
			n.log.Info("joined token ring")
			return nil
		}
	}
	return nil
}

// handleJoinRequest runs on members. It inserts the requester right after
// this node when its id falls in (self, successor], otherwise passes the
// request on.
func (n *Node) handleJoinRequest(args json.RawMessage) {
	var req joinRequest
	if err := json.Unmarshal(args, &req); err != nil {
		n.log.Warn("bad join request", zap.Error(err))
		return
	}
	log := n.log.With(zap.Int("requester", req.ID), zap.String("requester_addr", req.Address))

	if req.ID == n.self.ID {
		// ids must be distinct; this is a configuration error
		log.Error("join request carries our own id, dropped")
		telemetry.JoinRequests.WithLabelValues("dropped").Inc()
		return
	}
	if rep, ok := n.replies[req.ID]; ok {
		log.Debug("repeated join request, replaying reply")
		telemetry.JoinRequests.WithLabelValues("replayed").Inc()
		n.reply(req.Address, rep)
		return
	}
	if req.ID == n.successorID {
		// Inserted by another node that still holds the reply.
		log.Warn("requester is already our successor, dropped")
		telemetry.JoinRequests.WithLabelValues("dropped").Inc()
		return
	}

	var rep joinReply
	switch {
	case n.successorID == n.self.ID:
		rep = joinReply{SuccessorID: n.self.ID, SuccessorAddress: n.addr}
	case Between(n.self.ID, n.successorID, req.ID):
		rep = joinReply{SuccessorID: n.successorID, SuccessorAddress: n.successorAddr}
	default:
		log.Debug("not our interval, forwarding join request",
			zap.Int("successor_id", n.successorID))
		telemetry.JoinRequests.WithLabelValues("forwarded").Inc()
		b, err := encodeMessage(methodJoinRequest, req)
		if err != nil {
			log.Error("encode join request", zap.Error(err))
			return
		}
		if err := n.tr.Send(n.successorAddr, b); err != nil {
			log.Error("forward join request", zap.Error(err))
		}
		return
	}

	log.Info("inserting requester after us")
	telemetry.JoinRequests.WithLabelValues("inserted").Inc()
	n.setSuccessor(req.ID, req.Address)
	n.replies[req.ID] = rep
	n.reply(req.Address, rep)
}

func (n *Node) reply(to string, rep joinReply) {
	b, err := encodeMessage(methodJoinReply, rep)
	if err != nil {
		n.log.Error("encode join reply", zap.Error(err))
		return
	}
	if err := n.tr.Send(to, b); err != nil {
		n.log.Error("send join reply", zap.String("to", to), zap.Error(err))
	}
}
