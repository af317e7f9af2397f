package spop

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"
)

// fakeEngine is the minimal "other side" of a SPOP connection, used to
// drive a [Conn] through its handshake and NOTIFY/ACK cycle in tests.
type fakeEngine struct {
	conn net.Conn
	r    *bufio.Reader
}

func newFakeEngine(conn net.Conn) *fakeEngine {
	return &fakeEngine{conn: conn, r: bufio.NewReader(conn)}
}

func (e *fakeEngine) send(h FrameHeader, payload []byte) error {
	var buf []byte
	buf = encodeFrameHeader(buf, h)
	buf = append(buf, payload...)
	return writeLengthPrefixed(e.conn, buf)
}

func (e *fakeEngine) recv(t *testing.T) (FrameHeader, []byte) {
	t.Helper()
	raw, err := readLengthPrefixed(e.r, defaultMaxFrameSize)
	if err != nil {
		t.Fatalf("fakeEngine.recv() error = %v", err)
	}
	header, body, err := decodeFramePayload(raw)
	if err != nil {
		t.Fatalf("fakeEngine.recv() decode error = %v", err)
	}
	return header, body
}

func helloPayload() []byte {
	var buf []byte
	buf = encodeKVList(buf, []KV{
		{Name: "supported-versions", Value: String("2.0")},
		{Name: "max-frame-size", Value: Uint32Value(16384)},
		{Name: "capabilities", Value: String("async")},
		{Name: "engine-id", Value: String("test-engine")},
	})
	return buf
}

func TestConnHandshakeNotifyAck(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	var gotSessionID string
	var gotMessages []Message
	handler := func(_ context.Context, sessionID string, messages []Message) ([]Action, error) {
		gotSessionID = sessionID
		gotMessages = messages
		return []Action{SetVar(ScopeTransaction, "status", String("ok"))}, nil
	}

	c := NewConn(server, WithHandler(handler))
	done := make(chan error, 1)
	go func() { done <- c.Serve(t.Context()) }()

	engine := newFakeEngine(client)

	if err := engine.send(FrameHeader{Type: FrameTypeHAProxyHello, Flags: FlagFin}, helloPayload()); err != nil {
		t.Fatalf("send hello: %v", err)
	}
	header, body := engine.recv(t)
	if header.Type != FrameTypeAgentHello {
		t.Fatalf("got frame type %s, want agent-hello", header.Type)
	}
	r := bufio.NewReader(&sliceReader{b: body})
	kvs, err := decodeKVList(r)
	if err != nil {
		t.Fatalf("decode agent-hello kv list: %v", err)
	}
	if v, ok := Lookup(kvs, "version"); !ok || !v.Equal(String("2.0")) {
		t.Errorf("agent-hello version = %+v", v)
	}

	notifyPayload := func() []byte {
		var buf []byte
		buf = encodeMessageList(buf, []Message{{
			Name: "demo",
			Args: []KV{{Name: "arg_path", Value: String("/")}},
		}})
		return buf
	}()
	if err := engine.send(FrameHeader{Type: FrameTypeNotify, Flags: FlagFin, StreamID: 1, FrameID: 1}, notifyPayload); err != nil {
		t.Fatalf("send notify: %v", err)
	}

	header, body = engine.recv(t)
	if header.Type != FrameTypeAck {
		t.Fatalf("got frame type %s, want ack", header.Type)
	}
	if header.StreamID != 1 || header.FrameID != 1 {
		t.Errorf("ack header = %+v, want stream-id=1 frame-id=1", header)
	}
	r = bufio.NewReader(&sliceReader{b: body})
	actions, err := decodeActionList(r)
	if err != nil {
		t.Fatalf("decode ack action list: %v", err)
	}
	if len(actions) != 1 || actions[0].Type != ActionSetVar || actions[0].Name != "status" {
		t.Errorf("ack actions = %+v", actions)
	}

	if gotSessionID == "" {
		t.Fatal("handler was never invoked")
	}
	if len(gotMessages) != 1 || gotMessages[0].Name != "demo" {
		t.Errorf("handler messages = %+v", gotMessages)
	}

	disconnectPayload := func() []byte {
		var buf []byte
		buf = encodeKVList(buf, []KV{
			{Name: "status-code", Value: Uint32Value(uint32(CodeNormal))},
			{Name: "message", Value: String("bye")},
		})
		return buf
	}()
	if err := engine.send(FrameHeader{Type: FrameTypeHAProxyDisconnect, Flags: FlagFin}, disconnectPayload); err != nil {
		t.Fatalf("send disconnect: %v", err)
	}

	header, _ = engine.recv(t)
	if header.Type != FrameTypeAgentDisconnect {
		t.Fatalf("got frame type %s, want agent-disconnect", header.Type)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve() did not return after disconnect")
	}
}

func TestConnAgentHelloCapabilitiesIgnoreEngineSubset(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	c := NewConn(server)
	done := make(chan error, 1)
	go func() { done <- c.Serve(t.Context()) }()

	engine := newFakeEngine(client)
	// The engine only advertises "async"; the agent must still reply with
	// its own full declared set, not the intersection.
	if err := engine.send(FrameHeader{Type: FrameTypeHAProxyHello, Flags: FlagFin}, helloPayload()); err != nil {
		t.Fatalf("send hello: %v", err)
	}

	_, body := engine.recv(t)
	r := bufio.NewReader(&sliceReader{b: body})
	kvs, err := decodeKVList(r)
	if err != nil {
		t.Fatalf("decode agent-hello kv list: %v", err)
	}
	if v, ok := Lookup(kvs, "capabilities"); !ok || v.String != "pipelining,async,fragmentation" {
		t.Errorf("agent-hello capabilities = %+v, want pipelining,async,fragmentation", v)
	}

	client.Close()
	<-done
}

func TestConnHealthcheckClosesAfterHello(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	c := NewConn(server)
	done := make(chan error, 1)
	go func() { done <- c.Serve(t.Context()) }()

	engine := newFakeEngine(client)
	var buf []byte
	buf = encodeKVList(buf, []KV{
		{Name: "supported-versions", Value: String("2.0")},
		{Name: "max-frame-size", Value: Uint32Value(16380)},
		{Name: "capabilities", Value: String("pipelining,async")},
		{Name: "engine-id", Value: String("test-engine")},
		{Name: "healthcheck", Value: Bool(true)},
	})
	if err := engine.send(FrameHeader{Type: FrameTypeHAProxyHello, Flags: FlagFin}, buf); err != nil {
		t.Fatalf("send hello: %v", err)
	}

	header, body := engine.recv(t)
	if header.Type != FrameTypeAgentHello {
		t.Fatalf("got frame type %s, want agent-hello", header.Type)
	}
	r := bufio.NewReader(&sliceReader{b: body})
	kvs, err := decodeKVList(r)
	if err != nil {
		t.Fatalf("decode agent-hello kv list: %v", err)
	}
	if v, ok := Lookup(kvs, "max-frame-size"); !ok || !v.Equal(Uint32Value(16380)) {
		t.Errorf("agent-hello max-frame-size = %+v, want 16380", v)
	}
	if v, ok := Lookup(kvs, "capabilities"); !ok || v.String != "pipelining,async,fragmentation" {
		t.Errorf("agent-hello capabilities = %+v, want pipelining,async,fragmentation", v)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v, want nil (graceful close)", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve() did not return after healthcheck hello")
	}
}

func TestConnClampsMaxFrameSizeFloor(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	c := NewConn(server)
	done := make(chan error, 1)
	go func() { done <- c.Serve(t.Context()) }()

	engine := newFakeEngine(client)
	var buf []byte
	buf = encodeKVList(buf, []KV{
		{Name: "supported-versions", Value: String("2.0")},
		{Name: "max-frame-size", Value: Uint32Value(64)},
		{Name: "capabilities", Value: String("")},
	})
	if err := engine.send(FrameHeader{Type: FrameTypeHAProxyHello, Flags: FlagFin}, buf); err != nil {
		t.Fatalf("send hello: %v", err)
	}

	_, body := engine.recv(t)
	r := bufio.NewReader(&sliceReader{b: body})
	kvs, err := decodeKVList(r)
	if err != nil {
		t.Fatalf("decode agent-hello kv list: %v", err)
	}
	if v, ok := Lookup(kvs, "max-frame-size"); !ok || !v.Equal(Uint32Value(256)) {
		t.Errorf("agent-hello max-frame-size = %+v, want clamped to 256", v)
	}

	client.Close()
	<-done
}

func TestConnNotifyHandlerFailureMapsToResourceAllocationError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	handler := func(context.Context, string, []Message) ([]Action, error) {
		return nil, ErrHandlerFailed
	}

	c := NewConn(server, WithHandler(handler))
	done := make(chan error, 1)
	go func() { done <- c.Serve(t.Context()) }()

	engine := newFakeEngine(client)
	if err := engine.send(FrameHeader{Type: FrameTypeHAProxyHello, Flags: FlagFin}, helloPayload()); err != nil {
		t.Fatalf("send hello: %v", err)
	}
	engine.recv(t) // agent-hello

	notifyPayload := func() []byte {
		var buf []byte
		buf = encodeMessageList(buf, []Message{{Name: "demo"}})
		return buf
	}()
	if err := engine.send(FrameHeader{Type: FrameTypeNotify, Flags: FlagFin, StreamID: 1, FrameID: 1}, notifyPayload); err != nil {
		t.Fatalf("send notify: %v", err)
	}

	header, body := engine.recv(t)
	if header.Type != FrameTypeAgentDisconnect {
		t.Fatalf("got frame type %s, want agent-disconnect", header.Type)
	}
	r := bufio.NewReader(&sliceReader{b: body})
	kvs, err := decodeKVList(r)
	if err != nil {
		t.Fatalf("decode agent-disconnect kv list: %v", err)
	}
	if v, ok := Lookup(kvs, "status-code"); !ok || !v.Equal(Uint32Value(uint32(CodeResourceAllocationError))) {
		t.Errorf("status-code = %+v, want %d", v, CodeResourceAllocationError)
	}

	client.Close()
	<-done
}

func TestConnFragmentedNotifyReassembles(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	var gotMessages []Message
	handler := func(_ context.Context, _ string, messages []Message) ([]Action, error) {
		gotMessages = messages
		return nil, nil
	}

	c := NewConn(server, WithHandler(handler))
	done := make(chan error, 1)
	go func() { done <- c.Serve(t.Context()) }()

	engine := newFakeEngine(client)
	if err := engine.send(FrameHeader{Type: FrameTypeHAProxyHello, Flags: FlagFin}, helloPayload()); err != nil {
		t.Fatalf("send hello: %v", err)
	}
	engine.recv(t) // agent-hello

	full := encodeMessageList(nil, []Message{{
		Name: "demo",
		Args: []KV{{Name: "arg_method", Value: String("GET")}, {Name: "arg_path", Value: String("/")}},
	}})
	mid := len(full) / 2

	if err := engine.send(FrameHeader{Type: FrameTypeNotify, Flags: 0, StreamID: 0, FrameID: 1}, full[:mid]); err != nil {
		t.Fatalf("send fragment 1: %v", err)
	}
	if err := engine.send(FrameHeader{Type: FrameTypeNotify, Flags: FlagFin, StreamID: 0, FrameID: 1}, full[mid:]); err != nil {
		t.Fatalf("send fragment 2: %v", err)
	}

	header, body := engine.recv(t)
	if header.Type != FrameTypeAck {
		t.Fatalf("got frame type %s, want ack", header.Type)
	}
	if header.StreamID != 0 || header.FrameID != 1 {
		t.Errorf("ack header = %+v, want stream-id=0 frame-id=1", header)
	}
	r := bufio.NewReader(&sliceReader{b: body})
	if actions, err := decodeActionList(r); err != nil || len(actions) != 0 {
		t.Errorf("ack actions = %+v, err = %v", actions, err)
	}
	if len(gotMessages) != 1 || gotMessages[0].Name != "demo" {
		t.Errorf("handler messages = %+v, want one demo message", gotMessages)
	}

	client.Close()
	<-done
}

func TestConnAbortDiscardsFragment(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	handlerCalled := false
	handler := func(context.Context, string, []Message) ([]Action, error) {
		handlerCalled = true
		return nil, nil
	}

	c := NewConn(server, WithHandler(handler))
	done := make(chan error, 1)
	go func() { done <- c.Serve(t.Context()) }()

	engine := newFakeEngine(client)
	if err := engine.send(FrameHeader{Type: FrameTypeHAProxyHello, Flags: FlagFin}, helloPayload()); err != nil {
		t.Fatalf("send hello: %v", err)
	}
	engine.recv(t) // agent-hello

	full := encodeMessageList(nil, []Message{{Name: "demo"}})
	mid := len(full) / 2
	if mid == 0 {
		mid = 1
	}
	if err := engine.send(FrameHeader{Type: FrameTypeNotify, Flags: 0, StreamID: 0, FrameID: 1}, full[:mid]); err != nil {
		t.Fatalf("send fragment: %v", err)
	}
	if err := engine.send(FrameHeader{Type: FrameTypeNotify, Flags: FlagFin | FlagAbort, StreamID: 0, FrameID: 1}, nil); err != nil {
		t.Fatalf("send abort: %v", err)
	}

	// A fresh NOTIFY under the same stream/frame id should start clean, proving
	// the aborted fragment's bytes were discarded rather than retained.
	full2 := encodeMessageList(nil, []Message{{Name: "demo2"}})
	if err := engine.send(FrameHeader{Type: FrameTypeNotify, Flags: FlagFin, StreamID: 0, FrameID: 1}, full2); err != nil {
		t.Fatalf("send second notify: %v", err)
	}

	header, _ := engine.recv(t)
	if header.Type != FrameTypeAck {
		t.Fatalf("got frame type %s, want ack", header.Type)
	}
	if !handlerCalled {
		t.Error("handler was never invoked for the post-abort NOTIFY")
	}

	client.Close()
	<-done
}

func TestConnRejectsFrameBeforeHello(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	c := NewConn(server)
	done := make(chan error, 1)
	go func() { done <- c.Serve(t.Context()) }()

	engine := newFakeEngine(client)
	if err := engine.send(FrameHeader{Type: FrameTypeNotify, Flags: FlagFin}, nil); err != nil {
		t.Fatalf("send notify: %v", err)
	}

	header, _ := engine.recv(t)
	if header.Type != FrameTypeAgentDisconnect {
		t.Fatalf("got frame type %s, want agent-disconnect", header.Type)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Error("Serve() error = nil, want non-nil")
		}
	case <-time.After(time.Second):
		t.Fatal("Serve() did not return")
	}
}
