package admission

import (
	"context"
	"errors"
	"testing"

	"github.com/pmgate/pmgate/platform"

	"github.com/stretchr/testify/assert"
)

func TestExecutorChallengeSteps(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	client := platform.NewMockClient()
	x := NewExecutor(nil, client, 25)

	res := x.Challenge(ctx, SenderID(1), "prove it")
	assert.Equal([]string{"archiveConversation", "muteConversation", "sendMessage"}, client.Ops())
	assert.Len(res.Steps, 3)
	assert.Empty(res.FailedSteps())
}

func TestExecutorStepFailureContinues(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	client := platform.NewMockClient()
	client.Fail["muteConversation"] = errors.New("no such conversation")
	x := NewExecutor(nil, client, 25)

	// a failed step is recorded, later steps still run
	res := x.Challenge(ctx, SenderID(2), "prove it")
	assert.Len(res.Steps, 3)
	failed := res.FailedSteps()
	assert.Len(failed, 1)
	assert.Equal("mute-notifications", failed[0].Step)
	assert.Len(client.CallsFor("sendMessage"), 1)
}

func TestExecutorAdmit(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	client := platform.NewMockClient()
	x := NewExecutor(nil, client, 25)

	res := x.Admit(ctx, SenderID(3), "welcome in")
	assert.Equal([]string{"restoreConversation", "sendMessage"}, client.Ops())
	assert.Empty(res.FailedSteps())

	// no greeting configured, no message sent
	client2 := platform.NewMockClient()
	x2 := NewExecutor(nil, client2, 25)
	x2.Admit(ctx, SenderID(4), "")
	assert.Equal([]string{"restoreConversation"}, client2.Ops())
}

func TestExecutorRejectNonDestructive(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	client := platform.NewMockClient()
	x := NewExecutor(nil, client, 25)

	// the default rejection leaves the platform alone entirely
	res := x.Reject(ctx, SenderID(5), RejectChallengeFailed, false)
	assert.Empty(client.Calls)
	assert.Empty(res.Steps)
	assert.False(res.Downgraded)
}

func TestExecutorRejectDestructive(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	client := platform.NewMockClient()
	x := NewExecutor(nil, client, 25)

	res := x.Reject(ctx, SenderID(6), RejectFlood, true)
	assert.Equal([]string{"reportAndBlock", "eraseSharedHistory"}, client.Ops())
	assert.Equal("flood", client.CallsFor("reportAndBlock")[0].Arg)
	assert.Empty(res.FailedSteps())
	assert.False(res.Downgraded)
}

func TestExecutorDestructiveQuota(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	client := platform.NewMockClient()
	x := NewExecutor(nil, client, 2)

	assert.False(x.Reject(ctx, SenderID(7), RejectFlood, true).Downgraded)
	assert.False(x.Reject(ctx, SenderID(8), RejectFlood, true).Downgraded)

	// quota spent: the third rejection downgrades to non-destructive
	res := x.Reject(ctx, SenderID(9), RejectFlood, true)
	assert.True(res.Downgraded)
	assert.Empty(res.Steps)
	assert.Len(client.CallsFor("reportAndBlock"), 2)
}
