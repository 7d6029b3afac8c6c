package admission

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRescan(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, client := EngineTestFixture()
	defer eng.Shutdown()

	client.Conversations = []int64{11, 12, 13, -1}
	client.PriorExchange[11] = true
	require.NoError(eng.Whitelist.Trust(ctx, 13))

	res, err := eng.Rescan(ctx)
	require.NoError(err)
	assert.Equal(3, res.Scanned)
	assert.Equal(1, res.Trusted)
	assert.Equal(2, res.Skipped)

	trusted, err := eng.Whitelist.IsTrusted(ctx, 11)
	require.NoError(err)
	assert.True(trusted)
	trusted, err = eng.Whitelist.IsTrusted(ctx, 12)
	require.NoError(err)
	assert.False(trusted)
}

func TestRescanListFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	eng, client := EngineTestFixture()
	defer eng.Shutdown()
	client.Fail["listConversations"] = errors.New("gateway down")

	_, err := eng.Rescan(ctx)
	assert.Error(err)
}
