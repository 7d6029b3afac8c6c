package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pmgate/pmgate/admission/countstore"
	"github.com/pmgate/pmgate/admission/settingstore"
	"github.com/pmgate/pmgate/admission/whitelist"
	"github.com/pmgate/pmgate/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineRejectsInvalidSender(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	eng, _ := EngineTestFixture()
	defer eng.Shutdown()

	assert.ErrorIs(eng.ProcessMessage(ctx, Message{ID: 1, Sender: 0}), ErrInvalidSender)
	assert.ErrorIs(eng.ProcessMessage(ctx, Message{ID: 2, Sender: -44}), ErrInvalidSender)
}

func TestEngineChallengeFlow(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, client := EngineTestFixture()
	defer eng.Shutdown()
	stranger := SenderID(1001)

	// first contact from a stranger starts a challenge
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 1, Sender: stranger, SentAt: time.Now()}))
	assert.Equal([]string{"classifyAccount", "hasPriorExchange", "archiveConversation", "muteConversation", "sendMessage"}, client.Ops())
	assert.True(client.Archived[int64(stranger)])
	assert.True(client.Muted[int64(stranger)])
	require.Len(client.Sent[int64(stranger)], 1)
	assert.Equal(eng.CurrentSettings().ChallengeText, client.Sent[int64(stranger)][0])
	assert.Equal(1, eng.pending.Size())

	// a sticker reply passes the challenge
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 2, Sender: stranger, HasSticker: true, SentAt: time.Now()}))
	assert.Equal(0, eng.pending.Size())
	assert.False(client.Archived[int64(stranger)])
	assert.False(client.Muted[int64(stranger)])
	require.Len(client.Sent[int64(stranger)], 2)
	assert.Equal(eng.CurrentSettings().SuccessText, client.Sent[int64(stranger)][1])

	trusted, err := eng.Whitelist.IsTrusted(ctx, int64(stranger))
	require.NoError(err)
	assert.True(trusted)

	// later messages pass straight through
	before := len(client.Calls)
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 3, Sender: stranger, SentAt: time.Now()}))
	assert.Len(client.Calls, before)
}

func TestEngineChallengeFailed(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, client := EngineTestFixture()
	defer eng.Shutdown()
	stranger := SenderID(1002)

	require.NoError(eng.ProcessMessage(ctx, Message{ID: 1, Sender: stranger, SentAt: time.Now()}))
	assert.Equal(1, eng.pending.Size())

	// a plain reply is the sender's one answer, and it is wrong
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 2, Sender: stranger, SentAt: time.Now()}))
	assert.Equal(0, eng.pending.Size())

	trusted, err := eng.Whitelist.IsTrusted(ctx, int64(stranger))
	require.NoError(err)
	assert.False(trusted)

	// default rejection is silent: no report, no erase, conversation stays archived
	assert.Empty(client.CallsFor("reportAndBlock"))
	assert.Empty(client.CallsFor("eraseSharedHistory"))
	assert.True(client.Archived[int64(stranger)])

	// the next message starts over with a fresh challenge
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 3, Sender: stranger, SentAt: time.Now()}))
	assert.Equal(1, eng.pending.Size())
	assert.Len(client.CallsFor("archiveConversation"), 2)
}

func TestEngineWhitelistBypass(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, client := EngineTestFixture()
	defer eng.Shutdown()
	friend := SenderID(2001)

	require.NoError(eng.Whitelist.Trust(ctx, int64(friend)))
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 1, Sender: friend, SentAt: time.Now()}))
	assert.Empty(client.Calls)
}

func TestEngineOutgoingTrusts(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, client := EngineTestFixture()
	defer eng.Shutdown()
	peer := SenderID(2002)

	// the operator opening the conversation counts as an introduction
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 1, Sender: peer, Outgoing: true, SentAt: time.Now()}))
	trusted, err := eng.Whitelist.IsTrusted(ctx, int64(peer))
	require.NoError(err)
	assert.True(trusted)
	assert.Empty(client.Calls)

	// and their replies come straight in
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 2, Sender: peer, SentAt: time.Now()}))
	assert.Empty(client.Calls)
}

func TestEngineOutgoingCancelsPending(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, client := EngineTestFixture()
	defer eng.Shutdown()
	peer := SenderID(2003)

	require.NoError(eng.ProcessMessage(ctx, Message{ID: 1, Sender: peer, SentAt: time.Now()}))
	assert.Equal(1, eng.pending.Size())

	// the operator replying to a challenged sender vouches for them
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 2, Sender: peer, Outgoing: true, SentAt: time.Now()}))
	assert.Equal(0, eng.pending.Size())
	assert.False(client.Archived[int64(peer)])

	trusted, err := eng.Whitelist.IsTrusted(ctx, int64(peer))
	require.NoError(err)
	assert.True(trusted)
}

func TestEnginePriorExchangeTrusts(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, client := EngineTestFixture()
	defer eng.Shutdown()
	peer := SenderID(2004)
	client.PriorExchange[int64(peer)] = true

	require.NoError(eng.ProcessMessage(ctx, Message{ID: 1, Sender: peer, SentAt: time.Now()}))

	// trusted silently: whitelisted, nothing archived, nothing sent
	trusted, err := eng.Whitelist.IsTrusted(ctx, int64(peer))
	require.NoError(err)
	assert.True(trusted)
	assert.Empty(client.CallsFor("archiveConversation"))
	assert.Empty(client.CallsFor("sendMessage"))
	assert.Equal(0, eng.pending.Size())
}

func TestEngineCommonGroupsTrust(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, client := EngineTestFixture()
	defer eng.Shutdown()
	peer := SenderID(2005)
	client.CommonGroups[int64(peer)] = 3

	// threshold zero disables the check entirely
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 1, Sender: peer, SentAt: time.Now()}))
	assert.Empty(client.CallsFor("getCommonGroupCount"))
	assert.Equal(1, eng.pending.Size())
	eng.cancelPending(peer)

	require.NoError(eng.SetCommonGroupThreshold(ctx, 2))
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 2, Sender: peer, SentAt: time.Now()}))
	assert.Len(client.CallsFor("getCommonGroupCount"), 1)

	trusted, err := eng.Whitelist.IsTrusted(ctx, int64(peer))
	require.NoError(err)
	assert.True(trusted)

	// below the threshold, strangers still get challenged
	other := SenderID(2006)
	client.CommonGroups[int64(other)] = 1
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 3, Sender: other, SentAt: time.Now()}))
	assert.Equal(1, eng.pending.Size())
}

func TestEngineInvalidAccounts(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, client := EngineTestFixture()
	defer eng.Shutdown()

	deleted := SenderID(3001)
	scam := SenderID(3002)
	bot := SenderID(3003)
	client.Classes[int64(deleted)] = platform.AccountClass{IsDeleted: true}
	client.Classes[int64(scam)] = platform.AccountClass{IsFakeOrScam: true}
	client.Classes[int64(bot)] = platform.AccountClass{IsBot: true}

	require.NoError(eng.ProcessMessage(ctx, Message{ID: 1, Sender: deleted, SentAt: time.Now()}))
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 2, Sender: scam, SentAt: time.Now()}))
	assert.Equal(0, eng.pending.Size())
	assert.Empty(client.CallsFor("archiveConversation"))

	// bots are admitted unless bot blocking is on
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 3, Sender: bot, SentAt: time.Now()}))
	assert.Equal(1, eng.pending.Size())
	eng.cancelPending(bot)

	require.NoError(eng.SetBlockBots(ctx, true))
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 4, Sender: bot, SentAt: time.Now()}))
	assert.Equal(0, eng.pending.Size())
}

func TestEngineDisabled(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, client := EngineTestFixture()
	defer eng.Shutdown()
	stranger := SenderID(4001)
	pendingPeer := SenderID(4002)

	// open a challenge, then disable the engine
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 1, Sender: pendingPeer, SentAt: time.Now()}))
	require.NoError(eng.SetEnabled(ctx, false))

	// disabled: strangers are ignored completely
	before := len(client.Calls)
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 2, Sender: stranger, SentAt: time.Now()}))
	assert.Len(client.Calls, before)
	assert.Equal(1, eng.pending.Size())

	// but the in-flight challenge still resolves
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 3, Sender: pendingPeer, HasSticker: true, SentAt: time.Now()}))
	assert.Equal(0, eng.pending.Size())
	trusted, err := eng.Whitelist.IsTrusted(ctx, int64(pendingPeer))
	require.NoError(err)
	assert.True(trusted)
}

func TestEngineFailOpen(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, client := EngineTestFixture()
	defer eng.Shutdown()
	stranger := SenderID(5001)
	client.Fail["classifyAccount"] = errors.New("gateway down")

	// with the default policy an unreachable platform check is treated as
	// a neutral answer, and the pipeline keeps going
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 1, Sender: stranger, SentAt: time.Now()}))
	assert.Equal(1, eng.pending.Size())
	assert.Len(client.CallsFor("archiveConversation"), 1)
}

func TestEngineFailClosed(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	client := platform.NewMockClient()
	eng, err := NewEngine(client, whitelist.NewMemStore(), &EngineConfig{
		Counters:     countstore.NewMemCountStore(),
		SettingStore: settingstore.NewMemSettingStore(),
		Policy:       FailClosed,
	})
	require.NoError(err)
	defer eng.Shutdown()

	stranger := SenderID(5002)
	client.Fail["classifyAccount"] = errors.New("gateway down")

	// fail-closed drops the message without mitigating
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 1, Sender: stranger, SentAt: time.Now()}))
	assert.Equal(0, eng.pending.Size())
	assert.Empty(client.CallsFor("archiveConversation"))
	assert.Empty(client.CallsFor("reportAndBlock"))
}

func TestEngineAdminTrust(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, client := EngineTestFixture()
	defer eng.Shutdown()
	peer := SenderID(6001)

	require.NoError(eng.ProcessMessage(ctx, Message{ID: 1, Sender: peer, SentAt: time.Now()}))
	assert.Equal(1, eng.pending.Size())

	// operator whitelists the sender by hand: challenge canceled, conversation restored
	require.NoError(eng.Trust(ctx, peer))
	assert.Equal(0, eng.pending.Size())
	assert.False(client.Archived[int64(peer)])
	trusted, err := eng.Whitelist.IsTrusted(ctx, int64(peer))
	require.NoError(err)
	assert.True(trusted)

	assert.ErrorIs(eng.Trust(ctx, SenderID(0)), ErrInvalidSender)
}

func TestEngineRevokeTrust(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, client := EngineTestFixture()
	defer eng.Shutdown()
	peer := SenderID(6002)

	require.NoError(eng.Whitelist.Trust(ctx, int64(peer)))
	removed, err := eng.RevokeTrust(ctx, peer)
	require.NoError(err)
	assert.True(removed)

	removed, err = eng.RevokeTrust(ctx, peer)
	require.NoError(err)
	assert.False(removed)

	// revoked senders face the pipeline again
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 1, Sender: peer, SentAt: time.Now()}))
	assert.Len(client.CallsFor("archiveConversation"), 1)
}

func TestEngineStatus(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, _ := EngineTestFixture()
	defer eng.Shutdown()

	require.NoError(eng.ProcessMessage(ctx, Message{ID: 1, Sender: SenderID(7001), SentAt: time.Now()}))
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 2, Sender: SenderID(7001), HasSticker: true, SentAt: time.Now()}))
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 3, Sender: SenderID(7002), SentAt: time.Now()}))
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 4, Sender: SenderID(7002), SentAt: time.Now()}))

	status, err := eng.Status(ctx)
	require.NoError(err)
	assert.True(status.Enabled)
	assert.False(status.ProtectionActive)
	assert.Equal(int64(1), status.WhitelistSize)
	assert.Equal(0, status.PendingChallenges)
	assert.Equal(int64(2), status.Challenged)
	assert.Equal(int64(1), status.Admitted)
	assert.Equal(int64(1), status.Rejected)
	assert.Equal(int64(1), status.DistinctRejectedToday)
}

func TestEngineConcurrentSenders(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	// forty messages from ten senders, with the flood trigger out of reach
	client := platform.NewMockClient()
	settings := DefaultSettings()
	settings.FloodThreshold = 100
	settings.FloodWindow = 200 * time.Millisecond
	eng, err := NewEngine(client, whitelist.NewMemStore(), &EngineConfig{
		Counters:     countstore.NewMemCountStore(),
		SettingStore: settingstore.NewMemSettingStore(),
		Settings:     &settings,
	})
	require.NoError(err)
	defer eng.Shutdown()

	done := make(chan error, 40)
	for i := 0; i < 40; i++ {
		sender := SenderID(8000 + i%10)
		id := int64(i + 1)
		go func() {
			done <- eng.ProcessMessage(ctx, Message{ID: id, Sender: sender, SentAt: time.Now()})
		}()
	}
	for i := 0; i < 40; i++ {
		require.NoError(<-done)
	}

	// per-sender serialization means each sender alternated challenge and
	// failed-answer, so every sender ends settled or with one pending entry
	assert.LessOrEqual(eng.pending.Size(), 10)
	for _, op := range client.Ops() {
		assert.NotEqual("reportAndBlock", op)
	}
}
