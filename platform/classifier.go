package platform

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachingClassifier wraps a Client and caches account classifications in an
// expiring LRU. Classification is consulted on every message from an unknown
// sender, and accounts rarely change class, so a short TTL takes most of the
// load off the gateway.
//
// Only successful lookups are cached; errors always go back to the inner
// client on the next call.
type CachingClassifier struct {
	Client
	cache *expirable.LRU[int64, AccountClass]
}

func NewCachingClassifier(inner Client, capacity int, ttl time.Duration) *CachingClassifier {
	return &CachingClassifier{
		Client: inner,
		cache:  expirable.NewLRU[int64, AccountClass](capacity, nil, ttl),
	}
}

func (c *CachingClassifier) ClassifyAccount(ctx context.Context, peer int64) (AccountClass, error) {
	if class, ok := c.cache.Get(peer); ok {
		return class, nil
	}
	class, err := c.Client.ClassifyAccount(ctx, peer)
	if err != nil {
		return AccountClass{}, err
	}
	c.cache.Add(peer, class)
	return class, nil
}

// Purge drops any cached classification for peer.
func (c *CachingClassifier) Purge(peer int64) {
	c.cache.Remove(peer)
}
