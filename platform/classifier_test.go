package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachingClassifier(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	inner := NewMockClient()
	inner.Classes[42] = AccountClass{IsBot: true}
	c := NewCachingClassifier(inner, 10, time.Minute)

	class, err := c.ClassifyAccount(ctx, 42)
	require.NoError(err)
	assert.True(class.IsBot)
	assert.Len(inner.CallsFor("classifyAccount"), 1)

	// second lookup is served from cache
	class, err = c.ClassifyAccount(ctx, 42)
	require.NoError(err)
	assert.True(class.IsBot)
	assert.Len(inner.CallsFor("classifyAccount"), 1)

	// purging forces a refetch
	c.Purge(42)
	_, err = c.ClassifyAccount(ctx, 42)
	require.NoError(err)
	assert.Len(inner.CallsFor("classifyAccount"), 2)
}

func TestCachingClassifierErrorNotCached(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	inner := NewMockClient()
	inner.Fail["classifyAccount"] = errors.New("gateway down")
	c := NewCachingClassifier(inner, 10, time.Minute)

	_, err := c.ClassifyAccount(ctx, 42)
	assert.Error(err)
	_, err = c.ClassifyAccount(ctx, 42)
	assert.Error(err)
	assert.Len(inner.CallsFor("classifyAccount"), 2)

	// a later success is cached as usual
	delete(inner.Fail, "classifyAccount")
	_, err = c.ClassifyAccount(ctx, 42)
	assert.NoError(err)
	_, err = c.ClassifyAccount(ctx, 42)
	assert.NoError(err)
	assert.Len(inner.CallsFor("classifyAccount"), 3)
}
