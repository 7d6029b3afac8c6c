package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("admission")

var messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pmgate_messages_processed",
	Help: "Number of private-message events processed, by admission decision",
}, []string{"decision"})

var challengesStarted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pmgate_challenges_started",
	Help: "Number of challenges issued to unknown senders",
})

var challengesResolved = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pmgate_challenges_resolved",
	Help: "Number of challenges resolved, by outcome",
}, []string{"outcome"})

var pendingChallenges = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "pmgate_pending_challenges",
	Help: "Current number of senders with an open challenge",
})

var challengesSwept = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pmgate_challenges_swept",
	Help: "Number of stale challenge entries removed by the background sweep",
})

var protectionActivations = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pmgate_protection_activations",
	Help: "Number of times flood protection mode has engaged",
})

var protectionActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "pmgate_protection_active",
	Help: "Whether protection mode is currently active (0 or 1)",
})

var mitigationStepsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pmgate_mitigation_steps_failed",
	Help: "Number of individual mitigation steps that returned an error",
}, []string{"action", "step"})

var destructiveDowngrades = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pmgate_destructive_downgrades",
	Help: "Number of destructive rejections downgraded by the daily action quota",
})

var uncertainChecks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pmgate_uncertain_checks",
	Help: "Number of collaborator checks that errored and went through the uncertainty policy",
}, []string{"op"})

var trustPromotionFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pmgate_trust_promotion_failures",
	Help: "Number of whitelist writes that failed during pipeline trust promotion",
})
