package admission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineFloodProtection(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, client := EngineTestFixture()
	defer eng.Shutdown()

	flooder := SenderID(9101)
	bystander := SenderID(9102)
	friend := SenderID(9103)
	require.NoError(eng.Whitelist.Trust(ctx, int64(friend)))

	// fixture flood trigger is 5 messages in 200ms
	for i := int64(1); i <= 4; i++ {
		require.NoError(eng.ProcessMessage(ctx, Message{ID: i, Sender: flooder, SentAt: time.Now()}))
		assert.False(eng.flood.ProtectionActive())
	}
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 5, Sender: flooder, SentAt: time.Now()}))
	assert.True(eng.flood.ProtectionActive())

	// while protection is on, unknown senders are rejected without a
	// challenge: the archive count stays at the flooder's two challenges
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 6, Sender: bystander, SentAt: time.Now()}))
	assert.Len(client.CallsFor("archiveConversation"), 2)
	assert.Equal(0, eng.pending.Size())

	// whitelisted senders are untouched by protection mode
	before := len(client.Calls)
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 7, Sender: friend, SentAt: time.Now()}))
	assert.Len(client.Calls, before)

	// fixture cooldown is 150ms; protection clears on its own
	time.Sleep(time.Millisecond * 500)
	assert.False(eng.flood.ProtectionActive())

	require.NoError(eng.ProcessMessage(ctx, Message{ID: 8, Sender: bystander, SentAt: time.Now()}))
	assert.Equal(1, eng.pending.Size())
}

func TestEngineStrangerWave(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, client := EngineTestFixture()
	defer eng.Shutdown()

	// one message each from five strangers reaches the fixture trigger
	// just like five messages from one sender would
	for i := int64(1); i <= 4; i++ {
		require.NoError(eng.ProcessMessage(ctx, Message{ID: i, Sender: SenderID(9200 + i), SentAt: time.Now()}))
		assert.False(eng.flood.ProtectionActive())
	}
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 5, Sender: SenderID(9205), SentAt: time.Now()}))
	assert.True(eng.flood.ProtectionActive())
	assert.Equal(4, eng.pending.Size())

	// the next stranger is turned away without a challenge
	archived := len(client.CallsFor("archiveConversation"))
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 6, Sender: SenderID(9206), SentAt: time.Now()}))
	assert.Len(client.CallsFor("archiveConversation"), archived)
	assert.Equal(4, eng.pending.Size())

	// once the cooldown and the wave's window have both passed, challenges
	// resume for fresh strangers
	time.Sleep(time.Millisecond * 500)
	assert.False(eng.flood.ProtectionActive())
	require.NoError(eng.ProcessMessage(ctx, Message{ID: 7, Sender: SenderID(9207), SentAt: time.Now()}))
	assert.Equal(1, eng.pending.Size())
}
