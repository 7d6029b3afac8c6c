// Package whitelist persists the set of senders trusted to message the
// operator without going through a challenge.
package whitelist

import (
	"context"
	"time"
)

// TrustedSender is one whitelist entry. Entries are created when a sender
// passes a challenge, shows prior conversation history, shares enough group
// chats, is contacted first by the operator, or is added by hand. They are
// never mutated, only created and removed.
type TrustedSender struct {
	SenderID  int64 `gorm:"column:sender_id;primarykey"`
	CreatedAt time.Time
}

func (TrustedSender) TableName() string {
	return "trusted_sender"
}

type Store interface {
	// IsTrusted reports whether the sender is whitelisted.
	IsTrusted(ctx context.Context, senderID int64) (bool, error)
	// Trust adds the sender to the whitelist. Trusting an already-trusted
	// sender is a no-op, not an error.
	Trust(ctx context.Context, senderID int64) error
	// Revoke removes the sender and reports whether an entry existed.
	Revoke(ctx context.Context, senderID int64) (bool, error)
	// List returns all entries, oldest first.
	List(ctx context.Context) ([]TrustedSender, error)
	// Size returns the number of entries.
	Size(ctx context.Context) (int64, error)
}
