package spop

import "fmt"

// HAProxyHello is the engine's opening HELLO frame, decoded from a
// HAPROXY-HELLO frame's key/value list.
type HAProxyHello struct {
	SupportedVersions []SupportVersion
	MaxFrameSize      uint32
	Capabilities      []Capability
	EngineID          string // Optional.
	Healthcheck       bool   // Optional.
}

// DecodeHAProxyHello extracts a [HAProxyHello] view from a decoded
// key/value list, validating the fields the protocol requires.
func DecodeHAProxyHello(kvs []KV) (HAProxyHello, error) {
	var h HAProxyHello

	v, ok := Lookup(kvs, "supported-versions")
	if !ok {
		return h, fieldNotFound("supported-versions")
	}
	if v.Type != TypeString {
		return h, fieldValueInvalid("supported-versions")
	}
	versions, err := ParseSupportedVersions(v.String)
	if err != nil {
		return h, fieldValueInvalid("supported-versions")
	}
	h.SupportedVersions = versions

	v, ok = Lookup(kvs, "max-frame-size")
	if !ok {
		return h, fieldNotFound("max-frame-size")
	}
	size, ok := asUint32(v)
	if !ok {
		return h, fieldValueInvalid("max-frame-size")
	}
	h.MaxFrameSize = size

	v, ok = Lookup(kvs, "capabilities")
	if !ok {
		return h, fieldNotFound("capabilities")
	}
	if v.Type != TypeString {
		return h, fieldValueInvalid("capabilities")
	}
	caps, err := ParseCapabilities(v.String)
	if err != nil {
		return h, err
	}
	h.Capabilities = caps

	if v, ok := Lookup(kvs, "engine-id"); ok {
		if v.Type != TypeString {
			return h, fieldValueInvalid("engine-id")
		}
		h.EngineID = v.String
	}
	if v, ok := Lookup(kvs, "healthcheck"); ok {
		if v.Type != TypeBool {
			return h, fieldValueInvalid("healthcheck")
		}
		h.Healthcheck = v.Bool
	}

	return h, nil
}

func asUint32(v TypedData) (uint32, bool) {
	switch v.Type {
	case TypeUint32:
		return v.Uint32, true
	case TypeInt32:
		if v.Int32 < 0 {
			return 0, false
		}
		return uint32(v.Int32), true
	case TypeUint64:
		if v.Uint64 > 0xffffffff {
			return 0, false
		}
		return uint32(v.Uint64), true
	default:
		return 0, false
	}
}

// AgentHello is this agent's reply HELLO frame.
type AgentHello struct {
	Version      SupportVersion
	MaxFrameSize uint32
	Capabilities []Capability
}

// KVList renders h as a key/value list, ready for [encodeKVList].
func (h AgentHello) KVList() []KV {
	return []KV{
		{Name: "version", Value: String(h.Version.String())},
		{Name: "max-frame-size", Value: Uint32Value(h.MaxFrameSize)},
		{Name: "capabilities", Value: String(FormatCapabilities(h.Capabilities))},
	}
}

// HAProxyDisconnect is a DISCONNECT frame sent by the engine to end a
// session.
type HAProxyDisconnect struct {
	StatusCode Code
	Message    string
}

// DecodeHAProxyDisconnect extracts a [HAProxyDisconnect] view from a
// decoded key/value list.
func DecodeHAProxyDisconnect(kvs []KV) (HAProxyDisconnect, error) {
	var d HAProxyDisconnect

	v, ok := Lookup(kvs, "status-code")
	if !ok {
		return d, fieldNotFound("status-code")
	}
	code, ok := asUint32(v)
	if !ok {
		return d, fieldValueInvalid("status-code")
	}
	d.StatusCode = Code(code)

	v, ok = Lookup(kvs, "message")
	if !ok {
		return d, fieldNotFound("message")
	}
	if v.Type != TypeString {
		return d, fieldValueInvalid("message")
	}
	d.Message = v.String

	return d, nil
}

// AgentDisconnect is this agent's own DISCONNECT frame, always sent with
// frame type AGENT-DISCONNECT regardless of which frame triggered it.
type AgentDisconnect struct {
	StatusCode Code
	Message    string
}

// KVList renders d as a key/value list.
func (d AgentDisconnect) KVList() []KV {
	msg := d.Message
	if msg == "" {
		msg = d.StatusCode.Message()
	}
	return []KV{
		{Name: "status-code", Value: Uint32Value(uint32(d.StatusCode))},
		{Name: "message", Value: String(msg)},
	}
}

// Notify is a decoded NOTIFY frame payload: a non-empty list of messages
// describing events observed on one stream.
type Notify struct {
	Messages []Message
}

// DecodeNotify extracts a [Notify] view from a decoded list of messages.
func DecodeNotify(messages []Message) (Notify, error) {
	if len(messages) == 0 {
		return Notify{}, fmt.Errorf("%w: empty NOTIFY payload", ErrInvalidMessageList)
	}
	return Notify{Messages: messages}, nil
}

// Ack is this agent's reply to a NOTIFY frame: zero or more variable
// mutations to apply to the triggering stream.
type Ack struct {
	Actions []Action
}
