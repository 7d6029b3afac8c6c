package admission

import (
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// rateWindow holds one sender's recent message timestamps, pruned to the
// flood window on every access. A window marked dead has been removed from
// the map and must not be appended to.
type rateWindow struct {
	mu     sync.Mutex
	stamps []time.Time
	dead   bool
}

// FloodGuard watches inbound message rates and holds the engine-wide
// protection state. Rates are tracked per sender, and the guard trips on
// either shape of flood: one sender bursting past the threshold, or that
// many distinct senders all writing inside the window. The check counts
// real timestamps, so exactly the Nth message or Nth sender triggers,
// never an earlier or later one.
type FloodGuard struct {
	logger  *slog.Logger
	windows *xsync.MapOf[SenderID, *rateWindow]

	mu            sync.Mutex
	active        bool
	activatedAt   time.Time
	cooldownTimer *time.Timer
}

func NewFloodGuard(logger *slog.Logger) *FloodGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &FloodGuard{
		logger:  logger.With("system", "floodguard"),
		windows: xsync.NewMapOf[SenderID, *rateWindow](),
	}
}

// RecordAndCheck records one message from sender at now and reports whether
// the flood threshold is reached: either the sender alone has threshold
// messages inside the trailing window, or threshold distinct senders each
// have at least one.
func (f *FloodGuard) RecordAndCheck(sender SenderID, now time.Time, threshold int, window time.Duration) bool {
	cutoff := now.Add(-window)
	for {
		w, _ := f.windows.LoadOrCompute(sender, func() *rateWindow {
			return &rateWindow{}
		})
		w.mu.Lock()
		if w.dead {
			// lost a race with PruneIdle; take a fresh entry
			w.mu.Unlock()
			continue
		}
		keep := w.stamps[:0]
		for _, ts := range w.stamps {
			if ts.After(cutoff) {
				keep = append(keep, ts)
			}
		}
		w.stamps = append(keep, now)
		burst := len(w.stamps) >= threshold
		w.mu.Unlock()
		if burst {
			return true
		}
		break
	}

	// count senders active inside the window; the recording sender counts too
	live := 0
	f.windows.Range(func(_ SenderID, w *rateWindow) bool {
		w.mu.Lock()
		if !w.dead && len(w.stamps) > 0 && w.stamps[len(w.stamps)-1].After(cutoff) {
			live++
		}
		w.mu.Unlock()
		return live < threshold
	})
	return live >= threshold
}

// ActivateProtection flips protection mode on and arms the cooldown timer.
// Returns false when protection was already active: the cooldown is armed
// exactly once per activation, and repeat triggers do not extend it.
func (f *FloodGuard) ActivateProtection(cooldown time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		return false
	}
	f.active = true
	f.activatedAt = time.Now()
	f.cooldownTimer = time.AfterFunc(cooldown, f.deactivate)
	protectionActive.Set(1)
	return true
}

func (f *FloodGuard) deactivate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return
	}
	f.active = false
	f.cooldownTimer = nil
	protectionActive.Set(0)
	f.logger.Info("protection mode cleared", "activeFor", time.Since(f.activatedAt))
}

// ProtectionActive reports whether protection mode is currently on.
func (f *FloodGuard) ProtectionActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// PruneIdle removes rate windows with no timestamp inside the window,
// returning the number removed. Called from the engine sweep.
func (f *FloodGuard) PruneIdle(window time.Duration) int {
	cutoff := time.Now().Add(-window)
	pruned := 0
	f.windows.Range(func(sender SenderID, _ *rateWindow) bool {
		f.windows.Compute(sender, func(cur *rateWindow, loaded bool) (*rateWindow, bool) {
			if !loaded {
				return nil, true
			}
			cur.mu.Lock()
			idle := len(cur.stamps) == 0 || cur.stamps[len(cur.stamps)-1].Before(cutoff)
			if idle {
				cur.dead = true
			}
			cur.mu.Unlock()
			if idle {
				pruned++
				return nil, true
			}
			return cur, false
		})
		return true
	})
	return pruned
}

// Shutdown stops the cooldown timer, if armed.
func (f *FloodGuard) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cooldownTimer != nil {
		f.cooldownTimer.Stop()
		f.cooldownTimer = nil
	}
}
