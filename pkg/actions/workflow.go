package actions

// ProcessNotifyWorkflowName is the Temporal workflow type a
// [NewTemporalHandler] starts (or signals) for each NOTIFY message, and the
// name [pkg/temporal]'s worker registers it under.
//
// [pkg/temporal]: https://pkg.go.dev/github.com/tzrikka/spoa/pkg/temporal
const ProcessNotifyWorkflowName = "spoa.processNotify"

// NotifyMessageSignal is the signal name used to deliver additional NOTIFY
// messages to a workflow run that is already in progress for a session.
const NotifyMessageSignal = "spoa.notify.message"

// NotifyRequest is the input to a [ProcessNotifyWorkflowName] workflow: one
// decoded NOTIFY message and the SPOP session that carried it.
// [NewTemporalHandler] fills in SessionID, Message and Args; it does not
// fill in StreamID and FrameID, which stay zero.
type NotifyRequest struct {
	SessionID string         `json:"session_id"`
	StreamID  uint64         `json:"stream_id"`
	FrameID   uint64         `json:"frame_id"`
	Message   string         `json:"message"`
	Args      map[string]any `json:"args"`
}

// ActionDescriptor is the JSON-friendly shape a workflow returns to request
// a variable mutation. A zero Value with Unset false sets the variable to
// NULL; Unset true removes it instead.
type ActionDescriptor struct {
	Scope string `json:"scope"`
	Name  string `json:"name"`
	Value any    `json:"value,omitempty"`
	Unset bool   `json:"unset,omitempty"`
}
