package admission

import (
	"context"
	"testing"
	"time"

	"github.com/pmgate/pmgate/admission/countstore"
	"github.com/pmgate/pmgate/admission/settingstore"
	"github.com/pmgate/pmgate/admission/whitelist"
	"github.com/pmgate/pmgate/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallengeTimeout(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, client := EngineTestFixture()
	defer eng.Shutdown()
	require.NoError(eng.SetDestructiveReject(ctx, true))
	stranger := SenderID(9001)

	require.NoError(eng.ProcessMessage(ctx, Message{ID: 1, Sender: stranger, SentAt: time.Now()}))
	assert.Equal(1, eng.pending.Size())

	// fixture timeout is 150ms
	time.Sleep(time.Millisecond * 500)

	assert.Equal(0, eng.pending.Size())
	require.Len(client.CallsFor("reportAndBlock"), 1)
	assert.Equal("challenge-expired", client.CallsFor("reportAndBlock")[0].Arg)
	assert.Len(client.CallsFor("eraseSharedHistory"), 1)
}

func TestChallengeReplyAfterTimeout(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, client := EngineTestFixture()
	defer eng.Shutdown()
	stranger := SenderID(9002)

	require.NoError(eng.ProcessMessage(ctx, Message{ID: 1, Sender: stranger, SentAt: time.Now()}))
	time.Sleep(time.Millisecond * 500)
	assert.Equal(0, eng.pending.Size())

	// the timeout already settled the challenge, so a late sticker is just
	// a fresh contact and earns a fresh challenge, not a pass
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 2, Sender: stranger, HasSticker: true, SentAt: time.Now()}))
	assert.Equal(1, eng.pending.Size())
	assert.Len(client.CallsFor("archiveConversation"), 2)
	trusted, err := eng.Whitelist.IsTrusted(ctx, int64(stranger))
	require.NoError(err)
	assert.False(trusted)
}

func TestChallengeZeroTimeoutNeverExpires(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, _ := EngineTestFixture()
	defer eng.Shutdown()
	require.NoError(eng.SetChallengeTimeout(ctx, 0))
	stranger := SenderID(9003)

	require.NoError(eng.ProcessMessage(ctx, Message{ID: 1, Sender: stranger, SentAt: time.Now()}))
	time.Sleep(time.Millisecond * 400)
	assert.Equal(1, eng.pending.Size())

	// the answer still resolves it
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 2, Sender: stranger, HasSticker: true, SentAt: time.Now()}))
	assert.Equal(0, eng.pending.Size())
	trusted, err := eng.Whitelist.IsTrusted(ctx, int64(stranger))
	require.NoError(err)
	assert.True(trusted)
}

func TestChallengeSweep(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := platform.NewMockClient()
	settings := DefaultSettings()
	settings.ChallengeTimeout = 0

	eng, err := NewEngine(client, whitelist.NewMemStore(), &EngineConfig{
		Counters:      countstore.NewMemCountStore(),
		SettingStore:  settingstore.NewMemSettingStore(),
		Settings:      &settings,
		SweepInterval: time.Millisecond * 20,
		SweepCeiling:  time.Millisecond * 60,
	})
	require.NoError(err)
	defer eng.Shutdown()

	go func() { _ = eng.RunSweeper(ctx) }()

	stranger := SenderID(9004)
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 1, Sender: stranger, SentAt: time.Now()}))
	assert.Equal(1, eng.pending.Size())

	time.Sleep(time.Millisecond * 300)

	// swept silently: entry gone, no rejection mitigation ran
	assert.Equal(0, eng.pending.Size())
	assert.Empty(client.CallsFor("reportAndBlock"))
	assert.Len(client.CallsFor("archiveConversation"), 1)

	// the sender's next message starts over
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 2, Sender: stranger, SentAt: time.Now()}))
	assert.Equal(1, eng.pending.Size())
	assert.Len(client.CallsFor("archiveConversation"), 2)
}

func TestChallengeSingleEntryPerSender(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, client := EngineTestFixture()
	defer eng.Shutdown()
	require.NoError(eng.SetChallengeTimeout(ctx, 0))
	stranger := SenderID(9005)

	require.NoError(eng.ProcessMessage(ctx, Message{ID: 1, Sender: stranger, SentAt: time.Now()}))
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 2, Sender: stranger, SentAt: time.Now()}))
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 3, Sender: stranger, SentAt: time.Now()}))

	// messages alternate: challenge, failed answer, challenge again; the
	// arena never holds more than one entry for the sender
	assert.Equal(1, eng.pending.Size())
	assert.Len(client.CallsFor("archiveConversation"), 2)
	assert.Len(client.CallsFor("sendMessage"), 2)
}

func TestCancelPendingStopsTimer(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, client := EngineTestFixture()
	defer eng.Shutdown()
	require.NoError(eng.SetDestructiveReject(ctx, true))
	stranger := SenderID(9006)

	require.NoError(eng.ProcessMessage(ctx, Message{ID: 1, Sender: stranger, SentAt: time.Now()}))
	require.NoError(eng.Trust(ctx, stranger))

	// the canceled challenge's timer must not fire a rejection later
	time.Sleep(time.Millisecond * 400)
	assert.Empty(client.CallsFor("reportAndBlock"))
	trusted, err := eng.Whitelist.IsTrusted(ctx, int64(stranger))
	require.NoError(err)
	assert.True(trusted)
}
