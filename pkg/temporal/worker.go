// Package temporal runs the Temporal worker side of the reference
// action-handler policy in [pkg/actions]: a long-lived process that
// registers the workflow [pkg/actions.NewTemporalHandler] starts or signals
// for every NOTIFY message, and blocks to keep serving task queue tasks.
//
// [pkg/actions]: https://pkg.go.dev/github.com/tzrikka/spoa/pkg/actions
package temporal

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/tzrikka/spoa/pkg/actions"
)

// Run dials the configured Temporal server, starts a worker registered for
// [actions.ProcessNotifyWorkflowName] on the configured task queue, and
// blocks until the process is interrupted.
func Run(ctx context.Context, cmd *cli.Command, logger zerolog.Logger) error {
	addr := cmd.String("temporal-address")
	logger.Info().Str("address", addr).Msg("dialing Temporal server")

	c, err := client.Dial(client.Options{
		HostPort:  addr,
		Namespace: cmd.String("temporal-namespace"),
		Logger:    actions.NewLogAdapter(logger),
	})
	if err != nil {
		return fmt.Errorf("failed to dial Temporal: %w", err)
	}
	defer c.Close()

	w := worker.New(c, cmd.String("temporal-task-queue"), worker.Options{})
	w.RegisterWorkflowWithOptions(processNotifyWorkflow, workflow.RegisterOptions{
		Name: actions.ProcessNotifyWorkflowName,
	})
	RegisterDefaultActivity(w)

	if err := w.Run(worker.InterruptCh()); err != nil {
		return fmt.Errorf("failed to start Temporal worker: %w", err)
	}

	return nil
}

// processNotifyWorkflow is the reference decision loop behind
// [actions.NewTemporalHandler]: it is started with the first NOTIFY message
// observed for a session and obtains its decision from the
// [ResolveDecisionActivity] activity. Subsequent messages for the same
// session arrive as [actions.NotifyMessageSignal] signals while this
// workflow is still running; each completed decision ends the run, so the
// next message for that session starts a fresh one.
func processNotifyWorkflow(ctx workflow.Context, req actions.NotifyRequest) ([]actions.ActionDescriptor, error) {
	l := workflow.GetLogger(ctx)
	l.Info("awaiting NOTIFY decision", "session_id", req.SessionID, "message", req.Message)

	ch := workflow.GetSignalChannel(ctx, actions.NotifyMessageSignal)

	var decision []actions.ActionDescriptor
	selector := workflow.NewSelector(ctx)
	selector.AddReceive(ch, func(c workflow.ReceiveChannel, _ bool) {
		var followUp actions.NotifyRequest
		c.Receive(ctx, &followUp)
		l.Debug("received follow-up NOTIFY message", "message", followUp.Message)
	})

	// Before resolving a decision, the workflow waits at most 50ms for one
	// follow-up message signal for the same session, then hands req to the
	// activity that resolves the decision.
	timer := workflow.NewTimer(ctx, 50*time.Millisecond)
	selector.AddFuture(timer, func(workflow.Future) {})
	selector.Select(ctx)

	ao := workflow.ActivityOptions{StartToCloseTimeout: 5 * time.Second}
	actCtx := workflow.WithActivityOptions(ctx, ao)
	if err := workflow.ExecuteActivity(actCtx, ResolveDecisionActivity, req).Get(ctx, &decision); err != nil {
		return nil, err
	}

	return decision, nil
}

// ResolveDecisionActivity is the seam a deployment wires its own policy
// into: given one NOTIFY message, it returns the variable mutations the
// engine should apply. The reference implementation registered by default
// (see [RegisterDefaultActivity]) returns no actions, matching
// [actions.DefaultHandler]'s behavior over Temporal.
const ResolveDecisionActivity = "spoa.resolveDecision"

// RegisterDefaultActivity registers a no-op [ResolveDecisionActivity] on w,
// useful for exercising the workflow wiring before a real policy activity
// is deployed.
func RegisterDefaultActivity(w worker.Worker) {
	w.RegisterActivityWithOptions(
		func(context.Context, actions.NotifyRequest) ([]actions.ActionDescriptor, error) {
			return nil, nil
		},
		activity.RegisterOptions{Name: ResolveDecisionActivity},
	)
}
