// Package platform is a thin client layer for the chat-platform gateway: the
// sidecar which holds the actual account session and exposes conversation
// management, message sending, moderation actions, and the live update
// stream. Everything above this package treats the platform as a narrow
// capability surface and never touches the wire protocol directly.
package platform

import (
	"context"
	"errors"
)

var (
	ErrPeerNotFound  = errors.New("unknown peer account")
	ErrUnauthorized  = errors.New("gateway rejected credentials")
	ErrGatewayStatus = errors.New("gateway request failed")
)

// AccountClass is the platform's judgement of a peer account. Zero value
// means "ordinary user account".
type AccountClass struct {
	IsBot        bool `json:"isBot"`
	IsDeleted    bool `json:"isDeleted"`
	IsFakeOrScam bool `json:"isFakeOrScam"`
}

// Client is the full capability surface the admission engine needs from the
// platform. Peers are identified by the platform's numeric account ID.
//
// All methods are expected to be safe for concurrent use.
type Client interface {
	// ArchiveConversation moves the private conversation with peer out of
	// the main folder.
	ArchiveConversation(ctx context.Context, peer int64) error

	// RestoreConversation un-archives the conversation with peer and
	// re-enables its notifications.
	RestoreConversation(ctx context.Context, peer int64) error

	// MuteConversation silences notifications for the conversation.
	MuteConversation(ctx context.Context, peer int64) error

	// SendMessage delivers a text message to peer.
	SendMessage(ctx context.Context, peer int64, text string) error

	// ReportAndBlock reports the peer account for spam and blocks it.
	ReportAndBlock(ctx context.Context, peer int64, reason string) error

	// EraseSharedHistory deletes the conversation history with peer on both
	// sides, where the platform supports that.
	EraseSharedHistory(ctx context.Context, peer int64) error

	// GetCommonGroupCount returns the number of group chats shared with peer.
	GetCommonGroupCount(ctx context.Context, peer int64) (int, error)

	// ClassifyAccount fetches the platform's classification of peer.
	ClassifyAccount(ctx context.Context, peer int64) (AccountClass, error)

	// HasPriorExchange reports whether the conversation with peer contains
	// messages older than excludingMessageID (in both directions). Zero
	// excludingMessageID means "any message at all".
	HasPriorExchange(ctx context.Context, peer int64, excludingMessageID int64) (bool, error)

	// ListConversations enumerates the peer IDs of all current private
	// conversations.
	ListConversations(ctx context.Context) ([]int64, error)
}

// Update is one frame from the gateway's live update stream. The stream the
// daemon subscribes to should only carry private message events; Private is
// carried so consumers can skip any other event kind.
type Update struct {
	MessageID  int64 `json:"messageId"`
	PeerID     int64 `json:"peerId"`
	Outgoing   bool  `json:"outgoing"`
	HasSticker bool  `json:"hasSticker"`
	Private    bool  `json:"private"`
	SentAt     int64 `json:"sentAt"`
}
