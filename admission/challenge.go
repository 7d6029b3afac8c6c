package admission

import (
	"context"
	"log/slog"
	"time"
)

// Challenge is one pending sticker challenge. The arena entry (keyed by
// sender) is the single source of truth: whichever path removes the entry
// (sticker verification, content rejection, timeout, or the safety sweep)
// owns the resolution, and every other path backs off.
type Challenge struct {
	Sender    SenderID
	StartedAt time.Time
	Timeout   time.Duration

	// timer drives the timeout rejection; nil when Timeout is zero.
	timer *time.Timer
}

// mitigationTimeout bounds platform calls made from timer goroutines, which
// have no caller context.
const mitigationTimeout = 30 * time.Second

// beginChallenge opens a pending challenge for msg.Sender, arms the timeout,
// and applies the challenge mitigation. The caller holds the sender lock and
// has confirmed there is no pending entry.
func (eng *Engine) beginChallenge(ctx context.Context, logger *slog.Logger, msg Message, settings Settings) {
	ch := &Challenge{
		Sender:    msg.Sender,
		StartedAt: time.Now(),
		Timeout:   settings.ChallengeTimeout,
	}
	if _, loaded := eng.pending.LoadOrStore(msg.Sender, ch); loaded {
		logger.Error("challenge already pending; refusing to stack")
		return
	}
	if ch.Timeout > 0 {
		ch.timer = time.AfterFunc(ch.Timeout, func() {
			eng.challengeExpired(ch)
		})
	}
	challengesStarted.Inc()
	pendingChallenges.Set(float64(eng.pending.Size()))
	logger.Info("challenge issued", "timeout", ch.Timeout)

	eng.executor.Challenge(ctx, msg.Sender, settings.ChallengeText)
	eng.countDecision(ctx, "challenged")
	messagesProcessed.WithLabelValues("challenged").Inc()
}

// resolvePending settles the pending challenge for msg.Sender with msg as
// the sender's one answer. Returns false when there was no entry left to
// claim (the timeout or sweep got there first).
func (eng *Engine) resolvePending(ctx context.Context, logger *slog.Logger, msg Message, settings Settings) bool {
	ch, ok := eng.pending.LoadAndDelete(msg.Sender)
	if !ok {
		return false
	}
	if ch.timer != nil {
		ch.timer.Stop()
	}
	pendingChallenges.Set(float64(eng.pending.Size()))

	if msg.HasSticker {
		challengesResolved.WithLabelValues("verified").Inc()
		logger.Info("challenge passed", "pendingFor", time.Since(ch.StartedAt))
		if err := eng.Whitelist.Trust(ctx, int64(msg.Sender)); err != nil {
			trustPromotionFailures.Inc()
			logger.Error("whitelist write failed after verification", "err", err)
		}
		eng.executor.Admit(ctx, msg.Sender, settings.SuccessText)
		eng.countDecision(ctx, "admitted")
		messagesProcessed.WithLabelValues("verified").Inc()
	} else {
		challengesResolved.WithLabelValues("failed").Inc()
		logger.Info("challenge failed", "pendingFor", time.Since(ch.StartedAt))
		eng.finalizeReject(ctx, logger, msg.Sender, RejectChallengeFailed, settings)
	}
	return true
}

// challengeExpired is the timeout path, run from the challenge timer. It
// claims the arena entry and rejects; when verification or the sweep claimed
// the entry first, this is a no-op.
func (eng *Engine) challengeExpired(ch *Challenge) {
	if !eng.claimPending(ch) {
		return
	}
	pendingChallenges.Set(float64(eng.pending.Size()))

	ctx, cancel := context.WithTimeout(context.Background(), mitigationTimeout)
	defer cancel()

	logger := eng.Logger.With("sender", ch.Sender)
	logger.Info("challenge timed out", "pendingFor", time.Since(ch.StartedAt))
	challengesResolved.WithLabelValues("expired").Inc()
	eng.finalizeReject(ctx, logger, ch.Sender, RejectChallengeExpired, eng.CurrentSettings())
}

// claimPending atomically removes ch from the arena if and only if it is
// still the current entry for its sender.
func (eng *Engine) claimPending(ch *Challenge) bool {
	claimed := false
	eng.pending.Compute(ch.Sender, func(cur *Challenge, loaded bool) (*Challenge, bool) {
		if !loaded {
			// nothing to claim; deleting an absent key is a no-op
			return nil, true
		}
		if cur != ch {
			// a newer challenge owns the slot
			return cur, false
		}
		claimed = true
		return nil, true
	})
	return claimed
}

// cancelPending removes any pending challenge for sender, stopping its
// timer, and returns it (nil when none was pending).
func (eng *Engine) cancelPending(sender SenderID) *Challenge {
	ch, ok := eng.pending.LoadAndDelete(sender)
	if !ok {
		return nil
	}
	if ch.timer != nil {
		ch.timer.Stop()
	}
	challengesResolved.WithLabelValues("canceled").Inc()
	pendingChallenges.Set(float64(eng.pending.Size()))
	return ch
}

// RunSweeper periodically removes challenge entries older than the safety
// ceiling and prunes idle flood windows. It blocks until ctx is done or the
// engine shuts down; run it in a goroutine.
//
// The sweep is a backstop. Zero-timeout challenges and lost timers must not
// leak arena entries forever, but ordinary challenges resolve through their
// own answer or timer.
func (eng *Engine) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(eng.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-eng.shutdown:
			return nil
		case <-ticker.C:
			swept, pruned := eng.sweepOnce(time.Now())
			if swept > 0 || pruned > 0 {
				eng.Logger.Info("sweep complete", "challengesSwept", swept, "windowsPruned", pruned)
			}
		}
	}
}

// sweepOnce removes pending challenges older than the ceiling, without
// running any mitigation for the swept senders, and prunes idle rate
// windows.
func (eng *Engine) sweepOnce(now time.Time) (int, int) {
	swept := 0
	eng.pending.Range(func(sender SenderID, ch *Challenge) bool {
		if now.Sub(ch.StartedAt) < eng.sweepCeiling {
			return true
		}
		if eng.claimPending(ch) {
			if ch.timer != nil {
				ch.timer.Stop()
			}
			challengesSwept.Inc()
			challengesResolved.WithLabelValues("swept").Inc()
			eng.Logger.Warn("swept stale challenge", "sender", sender, "age", now.Sub(ch.StartedAt))
			swept++
		}
		return true
	})
	pendingChallenges.Set(float64(eng.pending.Size()))

	pruned := eng.flood.PruneIdle(eng.CurrentSettings().FloodWindow)
	return swept, pruned
}
