package admission

import (
	"context"
	"log/slog"
	"time"

	"github.com/pmgate/pmgate/platform"

	"github.com/RussellLuo/slidingwindow"
)

// Action names one of the three mitigation flows.
type Action string

const (
	ActionAdmit     Action = "admit"
	ActionChallenge Action = "challenge"
	ActionReject    Action = "reject"
)

// RejectReason labels why a sender was rejected.
type RejectReason string

const (
	RejectProtectionMode   RejectReason = "protection-mode"
	RejectFlood            RejectReason = "flood"
	RejectInvalidAccount   RejectReason = "invalid-account"
	RejectChallengeFailed  RejectReason = "challenge-failed"
	RejectChallengeExpired RejectReason = "challenge-expired"
)

// StepResult is the outcome of one mitigation step.
type StepResult struct {
	Step string
	Err  error
}

// ActionResult records what one mitigation action actually did. Steps are
// best-effort: a failed step is recorded and later steps still run.
type ActionResult struct {
	Action Action
	Steps  []StepResult
	// Downgraded is set when a destructive rejection was turned into a
	// non-destructive one by the daily quota.
	Downgraded bool
}

// FailedSteps returns the steps that errored, in order.
func (r *ActionResult) FailedSteps() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// Executor applies admission decisions to the platform.
type Executor struct {
	logger *slog.Logger
	client platform.Client

	// destructiveQuota caps report/block/erase sequences per day. When the
	// quota is spent, rejections downgrade to non-destructive.
	destructiveQuota *slidingwindow.Limiter
}

func perDayLimiter(count int64) *slidingwindow.Limiter {
	lim, _ := slidingwindow.NewLimiter(time.Hour*24, count, func() (slidingwindow.Window, slidingwindow.StopFunc) {
		return slidingwindow.NewLocalWindow()
	})
	return lim
}

func NewExecutor(logger *slog.Logger, client platform.Client, destructivePerDay int64) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		logger:           logger.With("system", "mitigation"),
		client:           client,
		destructiveQuota: perDayLimiter(destructivePerDay),
	}
}

func (x *Executor) step(ctx context.Context, res *ActionResult, name string, fn func(context.Context) error) {
	err := fn(ctx)
	res.Steps = append(res.Steps, StepResult{Step: name, Err: err})
	if err != nil {
		mitigationStepsFailed.WithLabelValues(string(res.Action), name).Inc()
		x.logger.Warn("mitigation step failed", "action", res.Action, "step", name, "err", err)
	}
}

// Admit restores the conversation and greets the verified sender.
func (x *Executor) Admit(ctx context.Context, sender SenderID, successText string) *ActionResult {
	res := &ActionResult{Action: ActionAdmit}
	x.step(ctx, res, "restore-conversation", func(ctx context.Context) error {
		return x.client.RestoreConversation(ctx, int64(sender))
	})
	if successText != "" {
		x.step(ctx, res, "send-success", func(ctx context.Context) error {
			return x.client.SendMessage(ctx, int64(sender), successText)
		})
	}
	return res
}

// Challenge hides the conversation and posts the challenge prompt.
func (x *Executor) Challenge(ctx context.Context, sender SenderID, promptText string) *ActionResult {
	res := &ActionResult{Action: ActionChallenge}
	x.step(ctx, res, "archive-conversation", func(ctx context.Context) error {
		return x.client.ArchiveConversation(ctx, int64(sender))
	})
	x.step(ctx, res, "mute-notifications", func(ctx context.Context) error {
		return x.client.MuteConversation(ctx, int64(sender))
	})
	if promptText != "" {
		x.step(ctx, res, "send-prompt", func(ctx context.Context) error {
			return x.client.SendMessage(ctx, int64(sender), promptText)
		})
	}
	return res
}

// Reject handles a rejected sender. In non-destructive mode no platform
// calls are made at all; the sender's messages stay archived and unanswered.
// Destructive mode reports-and-blocks the account and erases the shared
// history, subject to the daily quota.
func (x *Executor) Reject(ctx context.Context, sender SenderID, reason RejectReason, destructive bool) *ActionResult {
	res := &ActionResult{Action: ActionReject}
	if !destructive {
		return res
	}
	if !x.destructiveQuota.Allow() {
		res.Downgraded = true
		destructiveDowngrades.Inc()
		x.logger.Warn("daily destructive action quota spent; downgrading rejection", "sender", sender, "reason", reason)
		return res
	}
	x.step(ctx, res, "report-and-block", func(ctx context.Context) error {
		return x.client.ReportAndBlock(ctx, int64(sender), string(reason))
	})
	x.step(ctx, res, "erase-history", func(ctx context.Context) error {
		return x.client.EraseSharedHistory(ctx, int64(sender))
	})
	return res
}
