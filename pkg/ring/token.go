package ring

import (
	"encoding/json"
	"fmt"
)

// Envelope is an addressed application message. The ring reads only Target;
// Args belong to the application.
type Envelope struct {
	Method string          `json:"method"`
	Target Identity        `json:"target"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// NewEnvelope encodes args and addresses the result to target.
func NewEnvelope(method string, target Identity, args any) (Envelope, error) {
	env := Envelope{Method: method, Target: target}
	if args == nil {
		return env, nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s args: %w", method, err)
	}
	env.Args = b
	return env, nil
}

// Decode unmarshals Args into v.
func (e Envelope) Decode(v any) error {
	if len(e.Args) == 0 {
		return fmt.Errorf("%s: empty args", e.Method)
	}
	return json.Unmarshal(e.Args, v)
}

// Token is the single object circulating the ring. The concrete type decides
// what a node does with it on arrival.
type Token interface {
	Kind() string
	isToken()
}

const (
	KindCount     = "RING_COUNT"
	KindDiscovery = "NODE_DISCOVERY"
	KindIdle      = "IDLE"
	KindMessage   = "MESSAGE"
)

// CountToken counts members on a lap started by the initial entity.
type CountToken struct{ Count int }

// DiscoveryToken accumulates every member's identity.
type DiscoveryToken struct{ Table Table }

// IdleToken carries nothing; whoever holds it may send.
type IdleToken struct{}

// MessageToken carries one envelope to its target.
type MessageToken struct{ Envelope Envelope }

// UnknownToken is a token whose kind this build does not recognise. It is
// relayed untouched so the ring keeps its token.
type UnknownToken struct {
	Name string
	Raw  json.RawMessage
}

func (CountToken) Kind() string     { return KindCount }
func (DiscoveryToken) Kind() string { return KindDiscovery }
func (IdleToken) Kind() string      { return KindIdle }
func (MessageToken) Kind() string   { return KindMessage }
func (t UnknownToken) Kind() string { return t.Name }

func (CountToken) isToken()     {}
func (DiscoveryToken) isToken() {}
func (IdleToken) isToken()      {}
func (MessageToken) isToken()   {}
func (UnknownToken) isToken()   {}

// wire

const (
	methodJoinRequest = "NODE_JOIN_REQUEST"
	methodJoinReply   = "NODE_JOIN_REPLY"
	methodToken       = "TOKEN"
)

type message struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

type joinRequest struct {
	ID      int    `json:"id"`
	Address string `json:"address"`
}

type joinReply struct {
	SuccessorID      int    `json:"successor_id"`
	SuccessorAddress string `json:"successor_address"`
}

type tokenWire struct {
	Kind     string    `json:"kind"`
	Count    int       `json:"count,omitempty"`
	Table    Table     `json:"table,omitempty"`
	Envelope *Envelope `json:"envelope,omitempty"`
}

func encodeMessage(method string, args any) ([]byte, error) {
	raw, ok := args.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(message{Method: method, Args: raw})
}

func decodeMessage(b []byte) (message, error) {
	var m message
	if err := json.Unmarshal(b, &m); err != nil {
		return message{}, err
	}
	if m.Method == "" {
		return message{}, fmt.Errorf("datagram without method")
	}
	return m, nil
}

func encodeToken(tok Token) ([]byte, error) {
	var w tokenWire
	switch tok := tok.(type) {
	case CountToken:
		w = tokenWire{Kind: KindCount, Count: tok.Count}
	case DiscoveryToken:
		w = tokenWire{Kind: KindDiscovery, Table: tok.Table}
	case IdleToken:
		w = tokenWire{Kind: KindIdle}
	case MessageToken:
		env := tok.Envelope
		w = tokenWire{Kind: KindMessage, Envelope: &env}
	case UnknownToken:
		return encodeMessage(methodToken, tok.Raw)
	default:
		return nil, fmt.Errorf("unsupported token %T", tok)
	}
	return encodeMessage(methodToken, w)
}

func decodeToken(raw json.RawMessage) (Token, error) {
	var w tokenWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	switch w.Kind {
	case KindCount:
		return CountToken{Count: w.Count}, nil
	case KindDiscovery:
		if w.Table == nil {
			w.Table = Table{}
		}
		return DiscoveryToken{Table: w.Table}, nil
	case KindIdle:
		return IdleToken{}, nil
	case KindMessage:
		if w.Envelope != nil {
			return MessageToken{Envelope: *w.Envelope}, nil
		}
	}
	return UnknownToken{Name: w.Kind, Raw: append(json.RawMessage(nil), raw...)}, nil
}
