// Package spop implements the wire codec, frame grammar, and per-connection
// state machine of the Stream Processing Offload Protocol (SPOP), as used
// between HAProxy's "engine" and an external processing "agent".
//
// It covers the data model (variable-width integers, length-prefixed strings
// and blobs, and a tagged typed-data union), the frame header and its three
// payload sub-grammars (key/value lists, lists of messages, lists of
// actions), typed projections of each frame kind, and the reassembly and
// dispatch logic that drives one connection through its HELLO, NOTIFY/ACK,
// and DISCONNECT phases.
//
// It does not open sockets or decide what actions a NOTIFY should produce;
// see [github.com/tzrikka/spoa/pkg/listener] and
// [github.com/tzrikka/spoa/pkg/actions] for those.
package spop
