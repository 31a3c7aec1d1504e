package admission

import (
	"context"
	"strconv"

	"github.com/tourwise/gatekeeper/internal/events"
	"github.com/tourwise/gatekeeper/internal/session"
	"github.com/tourwise/gatekeeper/pkg/logger"
)

// Stage names, also used as metric labels.
const (
	StageBlockedIP     = "blocked_ip"
	StageAttackPattern = "attack_pattern"
	StageQuota         = "quota"
)

// Request carries the resolved inputs for one admission check. Identity
// resolution and tier classification happen upstream; the pipeline only
// consumes them.
type Request struct {
	// Identifier is the resolved user ID for authenticated callers,
	// otherwise the origin IP.
	Identifier string

	// Tier is the quota class for this request.
	Tier Tier

	// IP is the proxy-resolved origin address.
	IP string

	// Endpoint is the normalized route used for pattern detection.
	Endpoint string
}

// Stage is one admission check. Stages are pure with respect to the
// request: all state lives in the shared store behind the components.
type Stage interface {
	Name() string
	Check(ctx context.Context, req Request) Decision
}

// SessionAuthority validates a session credential against the presented
// device identity. Satisfied by session.Manager.
type SessionAuthority interface {
	Validate(ctx context.Context, id, ip, fingerprint string) session.Result
}

// Pipeline orders the admission stages and short-circuits on the first
// rejection. Checks run synchronously before any business logic; a
// rejection leaves no side effects in later stages.
type Pipeline struct {
	stages   []Stage
	sessions SessionAuthority
	log      *logger.Logger
	emitter  events.Dispatcher
}

// NewPipeline composes the standard stage order: blocked-IP lookup,
// attack-pattern observation, tier quota. sessions may be nil when the
// deployment exposes no session-protected surface.
func NewPipeline(limiter *RateLimiter, throttler *AdaptiveThrottler, sessions SessionAuthority, emitter events.Dispatcher, log *logger.Logger) *Pipeline {
	if emitter == nil {
		emitter = events.NopDispatcher{}
	}
	return &Pipeline{
		stages: []Stage{
			&blockedIPStage{throttler: throttler, emitter: emitter, log: log},
			&attackPatternStage{throttler: throttler, emitter: emitter, log: log},
			&quotaStage{limiter: limiter, emitter: emitter},
		},
		sessions: sessions,
		log:      log,
		emitter:  emitter,
	}
}

// NewPipelineWithStages builds a pipeline from an explicit stage list.
// Used by tests to exercise ordering.
func NewPipelineWithStages(log *logger.Logger, stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages, log: log, emitter: events.NopDispatcher{}}
}

// Stages returns the ordered stage names.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Admit runs the stages in order and returns the first rejection, or the
// quota stage's admitting decision with its header metadata.
func (p *Pipeline) Admit(ctx context.Context, req Request) Decision {
	var last Decision
	for _, stage := range p.stages {
		decision := stage.Check(ctx, req)
		observeDecision(stage.Name(), decision)
		if !decision.Allowed {
			return decision
		}
		last = decision
	}
	return last
}

// AuthorizeSession validates a session credential against the presented
// device identity, for endpoints behind the session boundary. Without a
// configured session authority every session reads as expired.
func (p *Pipeline) AuthorizeSession(ctx context.Context, id, ip, fingerprint string) session.Result {
	if p.sessions == nil {
		return session.Result{Reason: session.ReasonExpired}
	}
	return p.sessions.Validate(ctx, id, ip, fingerprint)
}

// blockedIPStage rejects requests from currently blocked IPs.
type blockedIPStage struct {
	throttler *AdaptiveThrottler
	emitter   events.Dispatcher
	log       *logger.Logger
}

func (s *blockedIPStage) Name() string { return StageBlockedIP }

func (s *blockedIPStage) Check(ctx context.Context, req Request) Decision {
	blocked, err := s.throttler.IsBlocked(ctx, req.IP)
	if err != nil {
		s.log.Error("block list unavailable",
			"ip", req.IP,
			"fail_closed", s.throttler.FailClosed(),
			"error", err,
		)
		if s.throttler.FailClosed() {
			return Rejected(StageBlockedIP, ReasonStoreUnavailable)
		}
		return Allowed()
	}

	if blocked {
		ev := events.New(events.TypeBlockedIPRejected)
		ev.IP = req.IP
		ev.Endpoint = req.Endpoint
		s.emitter.Publish(ctx, ev)
		return Rejected(StageBlockedIP, ReasonIPBlocked)
	}
	return Allowed()
}

// attackPatternStage feeds the request into the pattern detector and, on
// detection, blocks the IP and rejects the request that tripped it.
type attackPatternStage struct {
	throttler *AdaptiveThrottler
	emitter   events.Dispatcher
	log       *logger.Logger
}

func (s *attackPatternStage) Name() string { return StageAttackPattern }

func (s *attackPatternStage) Check(ctx context.Context, req Request) Decision {
	attack, err := s.throttler.Observe(ctx, req.IP, req.Endpoint)
	if err != nil {
		s.log.Error("pattern store unavailable",
			"ip", req.IP,
			"fail_closed", s.throttler.FailClosed(),
			"error", err,
		)
		if s.throttler.FailClosed() {
			return Rejected(StageAttackPattern, ReasonStoreUnavailable)
		}
		return Allowed()
	}

	if !attack {
		return Allowed()
	}

	duration, err := s.throttler.Block(ctx, req.IP)
	if err != nil {
		s.log.Error("failed to record ip block", "ip", req.IP, "error", err)
	}

	ev := events.New(events.TypeAttackDetected)
	ev.IP = req.IP
	ev.Endpoint = req.Endpoint
	ev.Details = map[string]any{"block_duration": duration.String()}
	s.emitter.Publish(ctx, ev)

	return Rejected(StageAttackPattern, ReasonIPBlocked)
}

// quotaStage enforces the tier quota for the resolved identifier.
type quotaStage struct {
	limiter *RateLimiter
	emitter events.Dispatcher
}

func (s *quotaStage) Name() string { return StageQuota }

func (s *quotaStage) Check(ctx context.Context, req Request) Decision {
	decision := s.limiter.Check(ctx, req.Identifier, req.Tier)

	if decision.Reason == ReasonQuotaExceeded {
		ev := events.New(events.TypeQuotaExceeded)
		ev.IP = req.IP
		ev.Identifier = req.Identifier
		ev.Tier = string(req.Tier)
		ev.Endpoint = req.Endpoint
		ev.Details = map[string]any{"retry_after": strconv.Itoa(decision.RetryAfterSeconds())}
		s.emitter.Publish(ctx, ev)
	}

	return decision
}
