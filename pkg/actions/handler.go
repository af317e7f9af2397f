// Package actions implements the pluggable NOTIFY dispatch policy that
// [spop.Conn] invokes between decoding a NOTIFY frame and encoding its ACK.
// The wire protocol and connection core have no opinion on what a message
// should do; this package supplies that opinion, from a no-op default up
// to a Temporal-backed reference implementation.
package actions

import (
	"context"

	"github.com/tzrikka/spoa/pkg/spop"
)

// Handler matches [spop.Handler]'s signature exactly, so any value built by
// this package can be passed straight to [spop.WithHandler].
type Handler = spop.Handler

// ErrHandlerFailed is the error a [Handler] returns when it could not reach
// a decision for reasons outside the SPOP protocol itself (a downstream
// dependency timed out, errored, or produced no result). It is the same
// sentinel [spop.Conn] checks for to map the failure to a
// [spop.CodeResourceAllocationError] DISCONNECT rather than a generic one.
var ErrHandlerFailed = spop.ErrHandlerFailed

// DefaultHandler acknowledges every NOTIFY with no actions, the same reply
// [spop.Conn] gives when no handler is configured, and is what drives
// scenario 3 of the protocol's end-to-end test suite.
func DefaultHandler(_ context.Context, _ string, _ []spop.Message) ([]spop.Action, error) {
	return nil, nil
}
