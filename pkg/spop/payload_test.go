package spop

import (
	"bufio"
	"bytes"
	"testing"
)

// Golden vector adapted from the HAPROXY-HELLO frame reference test
// (header bytes stripped, payload only).
func TestDecodeKVListGoldenHello(t *testing.T) {
	raw := []byte(
		"\x12supported-versions\x08\x032.0" +
			"\x0emax-frame-size\x03\xfc\xf0\x06" +
			"\x0ccapabilities\x08\x10pipelining,async" +
			"\tengine-id\x08$6bdec4ec-6b9a-4705-83f4-8817766c0c57",
	)
	r := bufio.NewReader(bytes.NewReader(raw))
	kvs, err := decodeKVList(r)
	if err != nil {
		t.Fatalf("decodeKVList() error = %v", err)
	}

	want := map[string]TypedData{
		"supported-versions": String("2.0"),
		"max-frame-size":     Uint32Value(16380),
		"capabilities":       String("pipelining,async"),
		"engine-id":           String("6bdec4ec-6b9a-4705-83f4-8817766c0c57"),
	}
	if len(kvs) != len(want) {
		t.Fatalf("decodeKVList() returned %d entries, want %d", len(kvs), len(want))
	}
	for _, kv := range kvs {
		wantVal, ok := want[kv.Name]
		if !ok {
			t.Errorf("decodeKVList() unexpected key %q", kv.Name)
			continue
		}
		if !kv.Value.Equal(wantVal) {
			t.Errorf("decodeKVList()[%q] = %+v, want %+v", kv.Name, kv.Value, wantVal)
		}
	}

	hello, err := DecodeHAProxyHello(kvs)
	if err != nil {
		t.Fatalf("DecodeHAProxyHello() error = %v", err)
	}
	if hello.EngineID != "6bdec4ec-6b9a-4705-83f4-8817766c0c57" {
		t.Errorf("DecodeHAProxyHello().EngineID = %q", hello.EngineID)
	}
	if hello.MaxFrameSize != 16380 {
		t.Errorf("DecodeHAProxyHello().MaxFrameSize = %d, want 16380", hello.MaxFrameSize)
	}
	if !HasCapability(hello.Capabilities, CapabilityPipelining) || !HasCapability(hello.Capabilities, CapabilityAsync) {
		t.Errorf("DecodeHAProxyHello().Capabilities = %v", hello.Capabilities)
	}
}

// Golden vector adapted from the NOTIFY frame reference test (header
// bytes stripped, payload only): a single "demo" message with two string
// arguments.
func TestDecodeMessageListGoldenNotify(t *testing.T) {
	raw := []byte("\x04demo\x02\narg_method\x08\x03GET\x08arg_path\x08\x01/")
	r := bufio.NewReader(bytes.NewReader(raw))
	messages, err := decodeMessageList(r)
	if err != nil {
		t.Fatalf("decodeMessageList() error = %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("decodeMessageList() returned %d messages, want 1", len(messages))
	}

	m := messages[0]
	if m.Name != "demo" {
		t.Errorf("message name = %q, want %q", m.Name, "demo")
	}
	if len(m.Args) != 2 {
		t.Fatalf("message has %d args, want 2", len(m.Args))
	}
	if v, ok := Lookup(m.Args, "arg_method"); !ok || !v.Equal(String("GET")) {
		t.Errorf("arg_method = %+v", v)
	}
	if v, ok := Lookup(m.Args, "arg_path"); !ok || !v.Equal(String("/")) {
		t.Errorf("arg_path = %+v", v)
	}
}

func TestActionRoundTrip(t *testing.T) {
	tests := []Action{
		SetVar(ScopeTransaction, "my_var", String("value")),
		UnsetVar(ScopeSession, "other_var"),
	}

	for _, a := range tests {
		buf := encodeAction(nil, a)
		r := bufio.NewReader(bytes.NewReader(buf))
		got, err := decodeAction(r)
		if err != nil {
			t.Fatalf("decodeAction() error = %v", err)
		}
		if got.Type != a.Type || got.Scope != a.Scope || got.Name != a.Name || !got.Value.Equal(a.Value) {
			t.Errorf("decodeAction() = %+v, want %+v", got, a)
		}
	}
}

func TestDecodeActionRejectsWrongNbArgs(t *testing.T) {
	// SET_VAR (type 1) with nb-args=2 instead of the required 3.
	raw := []byte{0x01, 0x02, byte(ScopeSession), 0x03, 'f', 'o', 'o'}
	r := bufio.NewReader(bytes.NewReader(raw))
	if _, err := decodeAction(r); err == nil {
		t.Fatal("decodeAction() with wrong nb-args: want error, got nil")
	}
}

func TestEncodeUnsetVarCarriesNoValue(t *testing.T) {
	buf := encodeAction(nil, UnsetVar(ScopeRequest, "x"))
	// type(1) + nb-args(1) + scope(1) + varint-len(1) + "x"(1) = 5 bytes.
	if len(buf) != 5 {
		t.Errorf("encodeAction(UnsetVar) produced %d bytes, want 5", len(buf))
	}
}
