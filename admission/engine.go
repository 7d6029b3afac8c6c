package admission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pmgate/pmgate/admission/countstore"
	"github.com/pmgate/pmgate/admission/settingstore"
	"github.com/pmgate/pmgate/admission/whitelist"
	"github.com/pmgate/pmgate/platform"

	"github.com/puzpuzpuz/xsync/v3"
)

// Engine is the private-message admission pipeline. For each inbound message
// from a sender who has not earned trust, it decides to pass, trust,
// challenge, or reject, and applies the decision through the platform
// client.
//
// Messages from the same sender are processed strictly serially; unrelated
// senders never wait on each other. All mutable state hangs off the Engine
// instance, so independent engines do not interfere.
type Engine struct {
	Logger       *slog.Logger
	Platform     platform.Client
	Whitelist    whitelist.Store
	Counters     countstore.CountStore
	SettingStore settingstore.SettingStore
	Policy       UncertaintyPolicy
	Notifier     *WebhookNotifier

	settingsLk sync.RWMutex
	settings   Settings

	flood    *FloodGuard
	executor *Executor
	pending  *xsync.MapOf[SenderID, *Challenge]
	locks    *xsync.MapOf[SenderID, *senderLock]

	sweepInterval time.Duration
	sweepCeiling  time.Duration

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// EngineConfig carries optional engine collaborators and tuning; zero values
// take defaults.
type EngineConfig struct {
	Logger       *slog.Logger
	Counters     countstore.CountStore
	SettingStore settingstore.SettingStore
	Policy       UncertaintyPolicy
	Notifier     *WebhookNotifier
	Settings     *Settings

	// SweepInterval is how often the background sweep runs. SweepCeiling is
	// the age past which the sweep removes any pending challenge, regardless
	// of its configured timeout.
	SweepInterval time.Duration
	SweepCeiling  time.Duration

	// DestructiveDailyQuota caps report-and-block rejections per day; past
	// it, rejections downgrade to non-destructive.
	DestructiveDailyQuota int64
}

// NewEngine assembles an admission engine around a platform client and a
// whitelist store. Settings passed via config are a starting point; call
// LoadSettings beforehand to overlay persisted values.
func NewEngine(client platform.Client, store whitelist.Store, config *EngineConfig) (*Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("admission engine requires a platform client")
	}
	if store == nil {
		return nil, fmt.Errorf("admission engine requires a whitelist store")
	}
	if config == nil {
		config = &EngineConfig{}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("system", "admission")
	}
	counters := config.Counters
	if counters == nil {
		counters = countstore.NewMemCountStore()
	}
	settings := DefaultSettings()
	if config.Settings != nil {
		settings = *config.Settings
	}
	if err := settings.validate(); err != nil {
		return nil, err
	}
	sweepInterval := config.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = 3 * time.Minute
	}
	sweepCeiling := config.SweepCeiling
	if sweepCeiling <= 0 {
		sweepCeiling = 24 * time.Hour
	}
	quota := config.DestructiveDailyQuota
	if quota <= 0 {
		quota = 25
	}

	eng := &Engine{
		Logger:       logger,
		Platform:     client,
		Whitelist:    store,
		Counters:     counters,
		SettingStore: config.SettingStore,
		Policy:       config.Policy,
		Notifier:     config.Notifier,

		settings: settings,

		flood:    NewFloodGuard(logger),
		executor: NewExecutor(logger, client, quota),
		pending:  xsync.NewMapOf[SenderID, *Challenge](),
		locks:    xsync.NewMapOf[SenderID, *senderLock](),

		sweepInterval: sweepInterval,
		sweepCeiling:  sweepCeiling,

		shutdown: make(chan struct{}),
	}
	return eng, nil
}

// senderLock serializes pipeline runs for one sender. Entries are
// reference-counted and removed on the last unlock, so the lock map does not
// grow with the all-time sender count.
type senderLock struct {
	mu   sync.Mutex
	refs int
}

func (eng *Engine) lockSender(sender SenderID) *senderLock {
	l, _ := eng.locks.Compute(sender, func(cur *senderLock, loaded bool) (*senderLock, bool) {
		if !loaded {
			cur = &senderLock{}
		}
		cur.refs++
		return cur, false
	})
	l.mu.Lock()
	return l
}

func (eng *Engine) unlockSender(sender SenderID, l *senderLock) {
	l.mu.Unlock()
	eng.locks.Compute(sender, func(cur *senderLock, loaded bool) (*senderLock, bool) {
		if !loaded {
			return nil, true
		}
		cur.refs--
		if cur.refs <= 0 {
			return nil, true
		}
		return cur, false
	})
}

// ProcessMessage runs one message event through the admission pipeline. It
// is safe to call from any number of goroutines; calls for the same sender
// are serialized, everything else runs concurrently.
//
// Collaborator failures never propagate: they are logged, counted, and
// resolved through the engine's uncertainty policy. The returned error only
// reports malformed input.
func (eng *Engine) ProcessMessage(ctx context.Context, msg Message) error {
	// similar to an HTTP server, recover any panics from decision execution
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("admission execution exception", "err", r, "sender", msg.Sender, "msgID", msg.ID)
		}
	}()

	ctx, span := tracer.Start(ctx, "ProcessMessage")
	defer span.End()

	if msg.Sender <= 0 {
		return ErrInvalidSender
	}

	lock := eng.lockSender(msg.Sender)
	defer eng.unlockSender(msg.Sender, lock)

	logger := eng.Logger.With("sender", msg.Sender, "msgID", msg.ID)
	settings := eng.CurrentSettings()

	if !settings.Enabled {
		// a disabled engine admits no new work, but an in-flight challenge
		// still resolves from its answer
		if !msg.Outgoing {
			if _, ok := eng.pending.Load(msg.Sender); ok {
				if eng.resolvePending(ctx, logger, msg, settings) {
					return nil
				}
			}
		}
		messagesProcessed.WithLabelValues("disabled").Inc()
		return nil
	}

	if msg.Outgoing {
		// the operator messaging someone first is an implicit introduction
		eng.trustSender(ctx, logger, msg.Sender, "operator-contact", settings)
		messagesProcessed.WithLabelValues("trusted-outgoing").Inc()
		return nil
	}

	trusted, err := eng.Whitelist.IsTrusted(ctx, int64(msg.Sender))
	if err != nil {
		logger.Warn("whitelist read failed", "err", err)
		if eng.decideUncertain("whitelist-read", err) == ProceedClosed {
			messagesProcessed.WithLabelValues("dropped").Inc()
			return nil
		}
		trusted = false
	}
	if trusted {
		messagesProcessed.WithLabelValues("passthrough").Inc()
		return nil
	}

	if eng.flood.ProtectionActive() {
		logger.Info("rejecting stranger while protection mode active")
		eng.rejectSender(ctx, logger, msg.Sender, RejectProtectionMode, settings)
		return nil
	}

	if eng.flood.RecordAndCheck(msg.Sender, time.Now(), settings.FloodThreshold, settings.FloodWindow) {
		if eng.flood.ActivateProtection(settings.Cooldown) {
			protectionActivations.Inc()
			logger.Warn("message flood detected; protection mode engaged",
				"threshold", settings.FloodThreshold,
				"window", settings.FloodWindow,
				"cooldown", settings.Cooldown,
			)
			eng.notify(ctx, fmt.Sprintf("protection mode engaged: flood threshold %d reached within %s, last message from sender %s", settings.FloodThreshold, settings.FloodWindow, msg.Sender))
		}
		eng.rejectSender(ctx, logger, msg.Sender, RejectFlood, settings)
		return nil
	}

	class, err := eng.Platform.ClassifyAccount(ctx, int64(msg.Sender))
	if err != nil {
		logger.Warn("account classification failed", "err", err)
		if eng.decideUncertain("classify-account", err) == ProceedClosed {
			messagesProcessed.WithLabelValues("dropped").Inc()
			return nil
		}
		class = platform.AccountClass{}
	}
	if class.IsDeleted || class.IsFakeOrScam || (class.IsBot && settings.BlockBots) {
		logger.Info("rejecting invalid account",
			"isBot", class.IsBot,
			"isDeleted", class.IsDeleted,
			"isFakeOrScam", class.IsFakeOrScam,
		)
		eng.rejectSender(ctx, logger, msg.Sender, RejectInvalidAccount, settings)
		return nil
	}

	if _, ok := eng.pending.Load(msg.Sender); ok {
		if eng.resolvePending(ctx, logger, msg, settings) {
			return nil
		}
		// the timeout claimed the entry between Load and resolve; fall
		// through and treat this as a fresh contact
	}

	prior, err := eng.Platform.HasPriorExchange(ctx, int64(msg.Sender), msg.ID)
	if err != nil {
		logger.Warn("prior exchange check failed", "err", err)
		if eng.decideUncertain("prior-exchange", err) == ProceedClosed {
			messagesProcessed.WithLabelValues("dropped").Inc()
			return nil
		}
		prior = false
	}
	if prior {
		eng.trustSender(ctx, logger, msg.Sender, "prior-exchange", settings)
		messagesProcessed.WithLabelValues("trusted-prior").Inc()
		return nil
	}

	if settings.CommonGroupThreshold > 0 {
		groups, err := eng.Platform.GetCommonGroupCount(ctx, int64(msg.Sender))
		if err != nil {
			logger.Warn("common group count failed", "err", err)
			if eng.decideUncertain("common-groups", err) == ProceedClosed {
				messagesProcessed.WithLabelValues("dropped").Inc()
				return nil
			}
			groups = 0
		}
		if groups >= settings.CommonGroupThreshold {
			eng.trustSender(ctx, logger, msg.Sender, "common-groups", settings)
			messagesProcessed.WithLabelValues("trusted-groups").Inc()
			return nil
		}
	}

	eng.beginChallenge(ctx, logger, msg, settings)
	return nil
}

// trustSender whitelists a sender from inside the pipeline. Any pending
// challenge is canceled; since the challenge had archived the conversation,
// cancellation restores it.
func (eng *Engine) trustSender(ctx context.Context, logger *slog.Logger, sender SenderID, via string, settings Settings) {
	ch := eng.cancelPending(sender)

	already, err := eng.Whitelist.IsTrusted(ctx, int64(sender))
	if err != nil {
		already = false
	}
	if !already {
		if err := eng.Whitelist.Trust(ctx, int64(sender)); err != nil {
			trustPromotionFailures.Inc()
			logger.Error("whitelist write failed", "via", via, "err", err)
		} else {
			logger.Info("sender trusted", "via", via)
			eng.countDecision(ctx, "trusted")
		}
	}

	if ch != nil {
		eng.executor.Admit(ctx, sender, settings.SuccessText)
	}
}

// rejectSender tears down any pending challenge and applies the rejection.
func (eng *Engine) rejectSender(ctx context.Context, logger *slog.Logger, sender SenderID, reason RejectReason, settings Settings) {
	eng.cancelPending(sender)
	eng.finalizeReject(ctx, logger, sender, reason, settings)
}

// finalizeReject applies the reject mitigation and counts it. The pending
// entry, if there was one, must already be settled.
func (eng *Engine) finalizeReject(ctx context.Context, logger *slog.Logger, sender SenderID, reason RejectReason, settings Settings) {
	res := eng.executor.Reject(ctx, sender, reason, settings.DestructiveReject)
	eng.countDecision(ctx, "rejected")
	if err := eng.Counters.IncrementDistinct(ctx, "senders", "rejected", sender.String()); err != nil {
		logger.Warn("failed to increment distinct counter", "err", err)
	}
	messagesProcessed.WithLabelValues("rejected-" + string(reason)).Inc()

	destructive := settings.DestructiveReject && !res.Downgraded
	if destructive && len(res.FailedSteps()) == 0 {
		eng.notify(ctx, fmt.Sprintf("reported and blocked sender %s (%s)", sender, reason))
	}
	logger.Info("sender rejected", "reason", reason, "destructive", destructive, "failedSteps", len(res.FailedSteps()))
}

func (eng *Engine) countDecision(ctx context.Context, val string) {
	if err := eng.Counters.Increment(ctx, "admission", val); err != nil {
		eng.Logger.Warn("failed to increment counter", "val", val, "err", err)
	}
}

// Trust whitelists a sender by operator request. A pending challenge for
// that sender is canceled and the conversation restored.
func (eng *Engine) Trust(ctx context.Context, sender SenderID) error {
	if sender <= 0 {
		return ErrInvalidSender
	}
	lock := eng.lockSender(sender)
	defer eng.unlockSender(sender, lock)

	ch := eng.cancelPending(sender)
	if err := eng.Whitelist.Trust(ctx, int64(sender)); err != nil {
		return err
	}
	eng.Logger.Info("sender trusted", "sender", sender, "via", "admin")
	eng.countDecision(ctx, "trusted")
	if ch != nil {
		eng.executor.Admit(ctx, sender, eng.CurrentSettings().SuccessText)
	}
	return nil
}

// RevokeTrust removes a sender from the whitelist, reporting whether an
// entry existed. The sender's next message goes through the full pipeline
// again.
func (eng *Engine) RevokeTrust(ctx context.Context, sender SenderID) (bool, error) {
	if sender <= 0 {
		return false, ErrInvalidSender
	}
	removed, err := eng.Whitelist.Revoke(ctx, int64(sender))
	if err != nil {
		return false, err
	}
	if removed {
		eng.Logger.Info("sender trust revoked", "sender", sender)
	}
	return removed, nil
}

// Status is an operator-facing snapshot of engine state.
type Status struct {
	Enabled               bool  `json:"enabled"`
	ProtectionActive      bool  `json:"protectionActive"`
	WhitelistSize         int64 `json:"whitelistSize"`
	PendingChallenges     int   `json:"pendingChallenges"`
	Admitted              int64 `json:"admitted"`
	Challenged            int64 `json:"challenged"`
	Rejected              int64 `json:"rejected"`
	Trusted               int64 `json:"trusted"`
	DistinctRejectedToday int64 `json:"distinctRejectedToday"`
}

// Status assembles the operator snapshot: settings state, protection state,
// whitelist size, arena depth, and lifetime decision counts.
func (eng *Engine) Status(ctx context.Context) (*Status, error) {
	size, err := eng.Whitelist.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading whitelist size: %w", err)
	}

	out := Status{
		Enabled:           eng.Enabled(),
		ProtectionActive:  eng.flood.ProtectionActive(),
		WhitelistSize:     size,
		PendingChallenges: eng.pending.Size(),
	}
	for _, c := range []struct {
		val  string
		into *int64
	}{
		{"admitted", &out.Admitted},
		{"challenged", &out.Challenged},
		{"rejected", &out.Rejected},
		{"trusted", &out.Trusted},
	} {
		n, err := eng.Counters.GetCount(ctx, "admission", c.val, countstore.PeriodTotal)
		if err != nil {
			return nil, fmt.Errorf("reading decision counter %s: %w", c.val, err)
		}
		*c.into = int64(n)
	}
	distinct, err := eng.Counters.GetCountDistinct(ctx, "senders", "rejected", countstore.PeriodDay)
	if err != nil {
		return nil, fmt.Errorf("reading distinct rejection counter: %w", err)
	}
	out.DistinctRejectedToday = int64(distinct)
	return &out, nil
}

// Shutdown stops the sweeper and all challenge timers. Pending challenges
// are left unresolved; the arena is in-memory, so after a restart affected
// senders are simply challenged afresh on their next message.
func (eng *Engine) Shutdown() {
	eng.shutdownOnce.Do(func() {
		close(eng.shutdown)
		eng.pending.Range(func(_ SenderID, ch *Challenge) bool {
			if ch.timer != nil {
				ch.timer.Stop()
			}
			return true
		})
		eng.flood.Shutdown()
	})
}
