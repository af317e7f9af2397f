package temporal

import (
	"testing"

	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/testsuite"

	"github.com/tzrikka/spoa/pkg/actions"
)

func TestProcessNotifyWorkflowUsesResolveDecisionActivity(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	want := []actions.ActionDescriptor{{Scope: "session", Name: "status", Value: "ok"}}
	env.OnActivity(ResolveDecisionActivity, mock.Anything, mock.Anything).Return(want, nil)

	env.ExecuteWorkflow(processNotifyWorkflow, actions.NotifyRequest{
		SessionID: "sess-1",
		Message:   "demo",
	})

	if !env.IsWorkflowCompleted() {
		t.Fatal("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}

	var got []actions.ActionDescriptor
	if err := env.GetWorkflowResult(&got); err != nil {
		t.Fatalf("GetWorkflowResult() error: %v", err)
	}
	if len(got) != 1 || got[0].Name != "status" {
		t.Errorf("workflow result = %+v", got)
	}
}
