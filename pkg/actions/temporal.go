package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/tzrikka/spoa/pkg/spop"
)

// DefaultTimeout bounds how long [NewTemporalHandler] waits for a workflow
// to produce a decision before giving up and returning [ErrHandlerFailed].
const DefaultTimeout = 10 * time.Second

// TemporalConfig configures the Temporal-backed reference [Handler].
type TemporalConfig struct {
	HostPort  string
	Namespace string
	TaskQueue string
	// Timeout bounds the wait for each message's workflow result. Zero
	// means [DefaultTimeout].
	Timeout time.Duration
	// Logger receives the Temporal client's log output. The zero value
	// discards it.
	Logger zerolog.Logger
}

// NewTemporalHandler builds a [Handler] that delegates every NOTIFY message
// to a [ProcessNotifyWorkflowName] Temporal workflow, keyed by the SPOP
// session ID: the first message for a session starts the workflow, later
// messages signal the still-running execution. Either way the handler
// blocks (bounded by cfg.Timeout) for the workflow's result, a list of
// [ActionDescriptor] converted to [spop.Action] values.
func NewTemporalHandler(cfg TemporalConfig) (Handler, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    NewLogAdapter(cfg.Logger),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dialing Temporal: %w", ErrHandlerFailed, err)
	}

	h := &temporalHandler{client: c, cfg: cfg}
	return h.handle, nil
}

type temporalHandler struct {
	client client.Client
	cfg    TemporalConfig
}

func (h *temporalHandler) handle(ctx context.Context, sessionID string, messages []spop.Message) ([]spop.Action, error) {
	var actions []spop.Action
	for _, m := range messages {
		decisions, err := h.runOne(ctx, sessionID, m)
		if err != nil {
			return nil, fmt.Errorf("%w: message %q: %w", ErrHandlerFailed, m.Name, err)
		}
		actions = append(actions, toActions(decisions)...)
	}
	return actions, nil
}

func (h *temporalHandler) runOne(ctx context.Context, sessionID string, m spop.Message) ([]ActionDescriptor, error) {
	workflowID := "spoa-notify-" + sessionID
	req := NotifyRequest{SessionID: sessionID, Message: m.Name, Args: messageArgs(m.Args)}

	run, err := h.signalOrStart(ctx, workflowID, req)
	if err != nil {
		return nil, err
	}

	getCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	var decisions []ActionDescriptor
	if err := run.Get(getCtx, &decisions); err != nil {
		return nil, err
	}
	return decisions, nil
}

// signalOrStart signals the workflow run already in progress for
// workflowID, if any, or starts a fresh one otherwise.
func (h *temporalHandler) signalOrStart(ctx context.Context, workflowID string, req NotifyRequest) (client.WorkflowRun, error) {
	desc, err := h.client.DescribeWorkflowExecution(ctx, workflowID, "")
	running := err == nil && desc.GetWorkflowExecutionInfo().GetStatus() == enums.WORKFLOW_EXECUTION_STATUS_RUNNING
	if err != nil && !errors.As(err, new(*serviceerror.NotFound)) {
		return nil, fmt.Errorf("describing workflow %q: %w", workflowID, err)
	}

	if running {
		if err := h.client.SignalWorkflow(ctx, workflowID, "", NotifyMessageSignal, req); err != nil {
			return nil, fmt.Errorf("signaling workflow %q: %w", workflowID, err)
		}
		return h.client.GetWorkflow(ctx, workflowID, ""), nil
	}

	run, err := h.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    workflowID,
		TaskQueue:             h.cfg.TaskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}, ProcessNotifyWorkflowName, req)
	if err != nil {
		return nil, fmt.Errorf("starting workflow %q: %w", workflowID, err)
	}
	return run, nil
}
