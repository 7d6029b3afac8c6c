package admission

import (
	"context"
	"fmt"
)

// RescanResult summarizes one conversation-history rescan.
type RescanResult struct {
	Scanned int `json:"scanned"`
	Trusted int `json:"trusted"`
	Skipped int `json:"skipped"`
}

// Rescan walks the account's current private conversations and whitelists
// every peer the operator has already exchanged messages with. It is meant
// for first deployment on an account with existing history, so established
// contacts never see a challenge.
//
// Rescan competes with live traffic for sender locks, so it can run while
// the engine is processing messages.
func (eng *Engine) Rescan(ctx context.Context) (*RescanResult, error) {
	ctx, span := tracer.Start(ctx, "Rescan")
	defer span.End()

	peers, err := eng.Platform.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	res := &RescanResult{}
	for _, peer := range peers {
		if peer <= 0 {
			continue
		}
		res.Scanned++

		trusted, err := eng.Whitelist.IsTrusted(ctx, peer)
		if err != nil {
			return nil, fmt.Errorf("reading whitelist for %d: %w", peer, err)
		}
		if trusted {
			res.Skipped++
			continue
		}

		prior, err := eng.Platform.HasPriorExchange(ctx, peer, 0)
		if err != nil {
			eng.Logger.Warn("prior exchange check failed during rescan", "peer", peer, "err", err)
			res.Skipped++
			continue
		}
		if !prior {
			res.Skipped++
			continue
		}

		if err := eng.Trust(ctx, SenderID(peer)); err != nil {
			return nil, fmt.Errorf("whitelisting %d: %w", peer, err)
		}
		res.Trusted++
	}

	eng.Logger.Info("conversation rescan complete", "scanned", res.Scanned, "trusted", res.Trusted, "skipped", res.Skipped)
	return res, nil
}
