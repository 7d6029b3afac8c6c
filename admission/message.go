package admission

import (
	"strconv"
	"time"
)

// SenderID is the platform's numeric account identifier for the other party
// of a private conversation. Always positive.
type SenderID int64

func (s SenderID) String() string {
	return strconv.FormatInt(int64(s), 10)
}

// Message is one private-message event handed to the engine. The engine
// never retains message content; only the fields needed for an admission
// decision are carried.
type Message struct {
	// ID is the platform message identifier, used to exclude the triggering
	// message itself from prior-history checks.
	ID int64
	// Sender is the conversation counterparty: the sender for inbound
	// messages, the recipient for outgoing ones.
	Sender SenderID
	// Outgoing is true when the operator's own account sent the message.
	Outgoing bool
	// HasSticker is true when the message carries a sticker attachment,
	// which is what a pending challenge checks for.
	HasSticker bool
	// SentAt is the platform timestamp of the message.
	SentAt time.Time
}
