package accessgate

import (
	"context"
	"errors"

	"github.com/predixa/entitlements/internal/entitlement/resolver"
	"github.com/predixa/entitlements/internal/observability/logger"
	obsmetrics "github.com/predixa/entitlements/internal/observability/metrics"
	"github.com/predixa/entitlements/internal/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrNoSession is returned by an Authenticator when there is no live session.
var ErrNoSession = errors.New("accessgate: no live session")

// AccessChecker is the entitlement check for subscription routes.
type AccessChecker interface {
	HasActiveAccess(ctx context.Context, identity string) (bool, error)
}

// Authenticator returns the identity of the live session.
type Authenticator func(ctx context.Context) (string, error)

// Request is one gate evaluation.
type Request struct {
	Path         string
	UserAgent    string
	Authenticate Authenticator
}

type Gate struct {
	ready        <-chan struct{}
	checker      AccessChecker
	routes       RouteTable
	log          *zap.Logger
	metrics      *obsmetrics.Metrics
	onTransition func(Transition)
}

type Option func(*Gate)

// WithTransitionHook observes every state change.
func WithTransitionHook(fn func(Transition)) Option {
	return func(g *Gate) { g.onTransition = fn }
}

func WithRoutes(t RouteTable) Option {
	return func(g *Gate) { g.routes = t }
}

func WithMetrics(m *obsmetrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Session    *session.Provider
	Resolver   *resolver.Resolver
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func New(p Params) *Gate {
	return NewGate(p.Session.Ready(), p.Resolver, p.Log, WithMetrics(p.ObsMetrics))
}

// NewGate waits on ready before the first session check of every evaluation.
func NewGate(ready <-chan struct{}, checker AccessChecker, log *zap.Logger, opts ...Option) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gate{
		ready:   ready,
		checker: checker,
		routes:  DefaultRouteTable(),
		log:     log.Named("accessgate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) Routes() RouteTable {
	return g.routes
}

// Evaluate classifies req.Path with the route table. Unprotected paths and
// search engine crawlers bypass the gate.
func (g *Gate) Evaluate(ctx context.Context, req Request) Outcome {
	if IsCrawler(req.UserAgent) {
		return g.bypass(ctx, req.Path, "crawler")
	}
	route := g.routes.Classify(req.Path)
	if !route.Protected && !route.RequiresSubscription {
		return g.bypass(ctx, req.Path, "public")
	}
	return g.EvaluateRoute(ctx, req.Path, route, req.Authenticate)
}

// EvaluateRoute runs the state machine for a route with a known requirement.
func (g *Gate) EvaluateRoute(ctx context.Context, path string, route Route, authenticate Authenticator) Outcome {
	run := &evaluation{gate: g, out: Outcome{Path: path}}
	run.enter(StateCheckingAuth)

	if err := g.awaitReady(ctx); err != nil {
		logger.WithContext(ctx, g.log).Warn("session provider not ready", zap.Error(err))
		return g.finish(ctx, run.unauthenticated())
	}

	identity := ""
	if authenticate != nil {
		id, err := authenticate(ctx)
		if err != nil && !errors.Is(err, ErrNoSession) && !errors.Is(err, session.ErrMissingToken) {
			logger.WithContext(ctx, g.log).Debug("session check failed", zap.Error(err))
		}
		if err == nil {
			identity = id
		}
	}
	if identity == "" {
		return g.finish(ctx, run.unauthenticated())
	}
	run.out.Identity = identity
	run.enter(StateAuthenticated)

	if !route.RequiresSubscription {
		run.enter(StateEntitled)
		return g.finish(ctx, run.out)
	}

	run.enter(StateCheckingSubscription)
	ok, err := g.checker.HasActiveAccess(ctx, identity)
	switch {
	case err != nil:
		logger.WithContext(ctx, g.log).Warn("subscription check failed", zap.String("path", path), zap.Error(err))
		run.out.Warning = WarningSubscriptionCheckFailed
		run.enter(StateSubscriptionCheckFailed)
	case !ok:
		run.out.Redirect = RedirectNotEntitled
		run.enter(StateNotEntitled)
	default:
		run.enter(StateEntitled)
	}
	return g.finish(ctx, run.out)
}

func (g *Gate) awaitReady(ctx context.Context) error {
	if g.ready == nil {
		return nil
	}
	select {
	case <-g.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) bypass(ctx context.Context, path, reason string) Outcome {
	run := &evaluation{gate: g, out: Outcome{Path: path, Bypass: reason}}
	run.enter(StateEntitled)
	return g.finish(ctx, run.out)
}

func (g *Gate) finish(ctx context.Context, out Outcome) Outcome {
	out.Rendering = out.State.Rendering()
	label := out.Bypass
	if label == "" {
		label = g.routes.Label(out.Path)
	}
	g.metrics.RecordAccessDecision(ctx, label, string(out.State))
	return out
}

type evaluation struct {
	gate *Gate
	out  Outcome
}

func (e *evaluation) enter(next State) {
	prev := e.out.State
	e.out.State = next
	e.out.Trail = append(e.out.Trail, next)
	if e.gate.onTransition != nil {
		e.gate.onTransition(Transition{From: prev, To: next})
	}
}

func (e *evaluation) unauthenticated() Outcome {
	e.out.Redirect = RedirectUnauthenticated
	e.enter(StateUnauthenticated)
	return e.out
}
