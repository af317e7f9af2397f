package spop

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
)

// Handler processes the messages carried by one NOTIFY frame and returns
// the variable mutations the engine should apply in response. Handlers
// must not block indefinitely: Serve passes its own context to every call
// and expects Handler to respect its cancellation.
type Handler func(ctx context.Context, sessionID string, messages []Message) ([]Action, error)

// MetricsSink observes frame traffic on a [Conn], independent of dispatch
// outcome. A nil sink is valid and records nothing.
type MetricsSink interface {
	RecordFrame(t FrameType)
	RecordError(t FrameType)
}

type noopMetrics struct{}

func (noopMetrics) RecordFrame(FrameType) {}
func (noopMetrics) RecordError(FrameType) {}

// connState is this connection's position in the HELLO / NOTIFY-ACK /
// DISCONNECT lifecycle.
type connState int

const (
	stateAwaitHello connState = iota
	stateEngaged
	stateClosing
	stateClosed
)

// DefaultMaxFrameSize is the max-frame-size ceiling a [Conn] negotiates with
// HAProxy when [WithMaxFrameSize] is not used to override it.
const DefaultMaxFrameSize = 16384

const defaultMaxFrameSize = DefaultMaxFrameSize

// minMaxFrameSize is the floor the negotiated max-frame-size is clamped to,
// regardless of how low the engine or the agent's own ceiling ask for.
const minMaxFrameSize = 256

// Conn drives a single SPOP connection: it performs the HELLO handshake,
// reassembles fragmented NOTIFY frames, dispatches complete messages to a
// [Handler], and replies with ACK or DISCONNECT frames.
type Conn struct {
	SessionID string

	rwc     io.ReadWriteCloser
	r       *bufio.Reader
	handler Handler
	metrics MetricsSink
	logger  zerolog.Logger

	maxFrameSize uint32
	capabilities []Capability

	// supportedCapabilities bounds which capabilities handleHello will ever
	// offer, regardless of what the engine advertises.
	supportedCapabilities []Capability

	writeMu sync.Mutex
	wg      sync.WaitGroup

	mu    sync.Mutex
	state connState
	frags map[fragKey]*fragment
}

type fragKey struct {
	streamID uint64
	frameID  uint64
}

type fragment struct {
	frameType FrameType
	data      []byte
}

// Option configures a [Conn] built by [NewConn].
type Option func(*Conn)

// WithHandler sets the NOTIFY dispatch callback. Without it, NOTIFY
// messages are acknowledged with no actions.
func WithHandler(h Handler) Option {
	return func(c *Conn) { c.handler = h }
}

// WithMetrics attaches a [MetricsSink] to observe frame traffic.
func WithMetrics(m MetricsSink) Option {
	return func(c *Conn) { c.metrics = m }
}

// WithMaxFrameSize overrides the default negotiated max-frame-size ceiling
// (16384 bytes, matching HAProxy's own default).
func WithMaxFrameSize(n uint32) Option {
	return func(c *Conn) { c.maxFrameSize = n }
}

// WithLogger attaches a correlation-scoped logger. Without one, Conn logs
// nothing.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Conn) { c.logger = l }
}

// WithCapabilities restricts which capabilities handleHello ever offers
// during negotiation, regardless of what the engine advertises in its own
// HELLO. Without it, a [Conn] offers every capability it implements
// (pipelining, async, fragmentation).
func WithCapabilities(caps []Capability) Option {
	return func(c *Conn) { c.supportedCapabilities = caps }
}

// NewConn wraps rwc (typically an accepted TCP or UNIX socket connection)
// in a SPOP [Conn]. The session ID is used to correlate log lines across
// the connection's lifetime.
func NewConn(rwc io.ReadWriteCloser, opts ...Option) *Conn {
	c := &Conn{
		SessionID:    shortuuid.New(),
		rwc:          rwc,
		r:            bufio.NewReader(rwc),
		metrics:      noopMetrics{},
		logger:       zerolog.Nop(),
		maxFrameSize: defaultMaxFrameSize,
		supportedCapabilities: []Capability{
			CapabilityPipelining, CapabilityAsync, CapabilityFragmentation,
		},
		frags: make(map[fragKey]*fragment),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("session_id", c.SessionID).Logger()
	return c
}

// Serve reads and dispatches frames until the connection closes, the
// engine disconnects, or ctx is canceled. It always closes rwc before
// returning.
func (c *Conn) Serve(ctx context.Context) error {
	defer func() {
		c.wg.Wait()
		_ = c.rwc.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.setState(stateClosed)
			return ctx.Err()
		default:
		}

		payload, err := readLengthPrefixed(c.r, c.negotiatedOrDefaultMaxFrameSize())
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.setState(stateClosed)
				return nil
			}
			return c.abort(err, FrameTypeUnset)
		}

		header, body, err := decodeFramePayload(payload)
		if err != nil {
			return c.abort(err, header.Type)
		}
		c.metrics.RecordFrame(header.Type)

		complete, frameType, err := c.reassemble(header, body)
		if err != nil {
			return c.abort(err, header.Type)
		}
		if complete == nil {
			continue // Fragment accepted, awaiting more.
		}

		if err := c.dispatch(ctx, header, frameType, complete); err != nil {
			if errors.Is(err, errGracefulClose) {
				c.setState(stateClosed)
				return nil
			}
			return c.abort(err, frameType)
		}
	}
}

// decodeFramePayload splits a raw SPOP frame into its header and the
// remaining payload bytes.
func decodeFramePayload(raw []byte) (FrameHeader, []byte, error) {
	r := bufio.NewReader(&sliceReader{b: raw})
	header, err := decodeFrameHeader(r)
	if err != nil {
		return FrameHeader{}, nil, err
	}
	rest, _ := io.ReadAll(r)
	return header, rest, nil
}

// sliceReader adapts a byte slice to io.Reader without copying.
type sliceReader struct {
	b []byte
	i int
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.i >= len(s.b) {
		return 0, io.EOF
	}
	n := copy(p, s.b[s.i:])
	s.i += n
	return n, nil
}

// reassemble accumulates a frame's body under its (stream-id, frame-id)
// key until FIN arrives. Only NOTIFY and UNSET frames may fragment, and
// never under stream-id 0 and frame-id 0; any other frame must always
// arrive with FIN set.
func (c *Conn) reassemble(h FrameHeader, body []byte) ([]byte, FrameType, error) {
	key := fragKey{streamID: h.StreamID, frameID: h.FrameID}

	c.mu.Lock()
	defer c.mu.Unlock()

	frag, ongoing := c.frags[key]

	if h.Abort() {
		if ongoing {
			delete(c.frags, key)
		}
		return nil, h.Type, nil
	}

	if !h.Fin() && h.StreamID == 0 && h.FrameID == 0 {
		return nil, h.Type, fmt.Errorf("%w: fragment with stream-id 0 and frame-id 0", ErrInvalidFrameReceived)
	}

	if !ongoing {
		if !h.Fin() && !h.Type.Fragmentable() {
			return nil, h.Type, fmt.Errorf("%w: frame type %s cannot fragment", ErrInvalidFrameReceived, h.Type)
		}
		frag = &fragment{frameType: h.Type}
		c.frags[key] = frag
	} else if frag.frameType != h.Type {
		return nil, h.Type, fmt.Errorf("%w: frame type changed mid-fragment", ErrInvalidInterlacedFrames)
	}

	frag.data = append(frag.data, body...)
	if uint32(len(frag.data)) > c.effectiveMaxFrameSize() {
		delete(c.frags, key)
		return nil, h.Type, ErrFrameTooBig
	}

	if !h.Fin() {
		return nil, h.Type, nil
	}

	delete(c.frags, key)
	if frag.data == nil {
		// A final frame with an empty payload is still complete.
		return []byte{}, frag.frameType, nil
	}
	return frag.data, frag.frameType, nil
}

// dispatch interprets one complete (reassembled) frame according to the
// connection's current state, and writes whatever reply the protocol
// requires.
func (c *Conn) dispatch(ctx context.Context, h FrameHeader, t FrameType, payload []byte) error {
	helloOrDisconnect := t == FrameTypeHAProxyHello || t == FrameTypeHAProxyDisconnect
	switch {
	case helloOrDisconnect && h.StreamID != 0:
		return fieldValueInvalid("stream-id")
	case helloOrDisconnect && h.FrameID != 0, t == FrameTypeNotify && h.FrameID == 0:
		return fieldValueInvalid("frame-id")
	}

	switch c.State() {
	case stateAwaitHello:
		if t != FrameTypeHAProxyHello {
			return fmt.Errorf("%w: expected HAPROXY-HELLO, got %s", ErrInvalidFrameReceived, t)
		}
		return c.handleHello(payload)
	case stateEngaged:
		switch t {
		case FrameTypeNotify:
			return c.handleNotify(ctx, h, payload)
		case FrameTypeHAProxyDisconnect:
			return c.handleDisconnect(payload)
		default:
			return fmt.Errorf("%w: unexpected frame type %s while engaged", ErrInvalidFrameReceived, t)
		}
	default:
		return fmt.Errorf("%w: frame received after disconnect", ErrInvalidFrameReceived)
	}
}

func (c *Conn) handleHello(payload []byte) error {
	r := bufio.NewReader(&sliceReader{b: payload})
	kvs, err := decodeKVList(r)
	if err != nil {
		return err
	}
	hello, err := DecodeHAProxyHello(kvs)
	if err != nil {
		return err
	}

	version, err := NegotiateVersion(hello.SupportedVersions)
	if err != nil {
		return err
	}

	maxFrameSize := hello.MaxFrameSize
	if maxFrameSize > c.maxFrameSize {
		maxFrameSize = c.maxFrameSize
	}
	if maxFrameSize < minMaxFrameSize {
		maxFrameSize = minMaxFrameSize
	}

	caps := c.supportedCapabilities

	c.mu.Lock()
	c.maxFrameSize = maxFrameSize
	c.capabilities = caps
	c.mu.Unlock()

	reply := AgentHello{Version: version, MaxFrameSize: maxFrameSize, Capabilities: caps}
	if err := c.writeKVFrame(FrameTypeAgentHello, 0, 0, reply.KVList()); err != nil {
		return err
	}

	c.logger.Info().
		Str("engine_id", hello.EngineID).
		Str("version", version.String()).
		Uint32("max_frame_size", maxFrameSize).
		Bool("healthcheck", hello.Healthcheck).
		Msg("spop handshake complete")

	if hello.Healthcheck {
		c.setState(stateClosing)
		return errGracefulClose
	}

	c.setState(stateEngaged)
	return nil
}

func (c *Conn) handleNotify(ctx context.Context, h FrameHeader, payload []byte) error {
	r := bufio.NewReader(&sliceReader{b: payload})
	messages, err := decodeMessageList(r)
	if err != nil {
		return err
	}
	if _, err := DecodeNotify(messages); err != nil {
		return err
	}

	handler := c.handler
	if handler == nil {
		handler = func(context.Context, string, []Message) ([]Action, error) { return nil, nil }
	}

	run := func() {
		actions, err := handler(ctx, c.SessionID, messages)
		if err != nil {
			c.metrics.RecordError(h.Type)
			c.fatalHandlerError(err)
			return
		}
		if err := c.writeActionFrame(h, actions); err != nil {
			c.logger.Error().Err(err).Msg("failed to write ack frame")
		}
	}

	if HasCapability(c.capabilities, CapabilityAsync) {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			run()
		}()
		return nil
	}

	run()
	return nil
}

func (c *Conn) handleDisconnect(payload []byte) error {
	r := bufio.NewReader(&sliceReader{b: payload})
	kvs, err := decodeKVList(r)
	if err != nil {
		return err
	}
	d, err := DecodeHAProxyDisconnect(kvs)
	if err != nil {
		return err
	}

	c.setState(stateClosing)
	c.logger.Info().
		Uint32("status_code", uint32(d.StatusCode)).
		Str("message", d.Message).
		Msg("engine disconnected")

	reply := AgentDisconnect{StatusCode: d.StatusCode, Message: d.Message}
	_ = c.writeKVFrame(FrameTypeAgentDisconnect, 0, 0, reply.KVList())
	return errGracefulClose
}

// errGracefulClose signals Serve to return nil rather than an error: the
// engine asked to end the session normally.
var errGracefulClose = errors.New("spop: graceful disconnect")

// abort sends an AGENT-DISCONNECT frame carrying err's well-known [Code]
// and that code's canonical message, and marks the connection closed. err
// itself is only logged. The frame write is best-effort: a failing write
// does not change the error Serve ultimately returns.
func (c *Conn) abort(err error, frameType FrameType) error {
	c.metrics.RecordError(frameType)
	c.setState(stateClosed)

	code := codeFor(err)
	c.logger.Warn().Err(err).Uint32("code", uint32(code)).Msg("aborting spop connection")

	reply := AgentDisconnect{StatusCode: code}
	_ = c.writeKVFrame(FrameTypeAgentDisconnect, 0, 0, reply.KVList())
	return err
}

// fatalHandlerError treats a [Handler] failure as fatal to the whole
// connection, not just the NOTIFY that triggered it: it emits one
// AGENT-DISCONNECT and closes the socket, which unblocks Serve's pending
// read so it can return. Idempotent: a connection already closing or closed
// is left alone.
func (c *Conn) fatalHandlerError(err error) {
	c.mu.Lock()
	already := c.state == stateClosed
	c.state = stateClosed
	c.mu.Unlock()
	if already {
		return
	}

	code := codeFor(err)
	c.logger.Error().Err(err).Uint32("code", uint32(code)).
		Msg("notify handler failed, closing connection")

	reply := AgentDisconnect{StatusCode: code, Message: err.Error()}
	_ = c.writeKVFrame(FrameTypeAgentDisconnect, 0, 0, reply.KVList())
	_ = c.rwc.Close()
}

func (c *Conn) writeActionFrame(h FrameHeader, actions []Action) error {
	header := FrameHeader{
		Type:     FrameTypeAck,
		Flags:    FlagFin,
		StreamID: h.StreamID,
		FrameID:  h.FrameID,
	}
	var buf []byte
	buf = encodeFrameHeader(buf, header)
	buf = encodeActionList(buf, actions)
	return c.writeFrame(buf)
}

func (c *Conn) writeKVFrame(t FrameType, streamID, frameID uint64, kvs []KV) error {
	header := FrameHeader{Type: t, Flags: FlagFin, StreamID: streamID, FrameID: frameID}
	var buf []byte
	buf = encodeFrameHeader(buf, header)
	buf = encodeKVList(buf, kvs)
	return c.writeFrame(buf)
}

func (c *Conn) writeFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeLengthPrefixed(c.rwc, payload)
}

func (c *Conn) State() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Conn) negotiatedOrDefaultMaxFrameSize() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxFrameSize
}

func (c *Conn) effectiveMaxFrameSize() uint32 {
	return c.maxFrameSize
}

