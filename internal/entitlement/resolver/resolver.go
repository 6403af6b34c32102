package resolver

import (
	"context"
	"errors"
	"strings"
	"time"

	billing "github.com/predixa/entitlements/internal/billing/stripe"
	"github.com/predixa/entitlements/internal/clock"
	"github.com/predixa/entitlements/internal/config"
	"github.com/predixa/entitlements/internal/entitlement/domain"
	"github.com/predixa/entitlements/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultProviderTimeout = 10 * time.Second

// Provider answers a lookup for one billing source. found=false with a nil
// error means the source has nothing for this identity.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, identity string) (domain.AccessVerdict, bool, error)
}

// Resolver walks its providers in order and returns the first found verdict.
type Resolver struct {
	providers []Provider
	timeout   time.Duration
	log       *zap.Logger
	metrics   *metrics.EntitlementMetrics
}

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    domain.Repository
	Plans   *config.PlanCatalogHolder
	Stripe  billing.Client
	Metrics *metrics.EntitlementMetrics `optional:"true"`
}

// New builds the production chain: store, then Stripe, then the mobile stub.
func New(p Params) *Resolver {
	return NewResolver(p.Log, p.Metrics, p.Config.ProviderTimeout,
		NewStoreProvider(p.Repo, p.Plans, p.Clock),
		NewDirectProvider(p.Stripe),
		MobileProvider{},
	)
}

func NewResolver(log *zap.Logger, m *metrics.EntitlementMetrics, timeout time.Duration, providers ...Provider) *Resolver {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		providers: providers,
		timeout:   timeout,
		log:       log.Named("entitlement.resolver"),
		metrics:   m,
	}
}

// Resolve never fails: provider errors are logged and the chain moves on,
// and exhausting the chain yields none/none.
func (r *Resolver) Resolve(ctx context.Context, identity string) domain.AccessVerdict {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return domain.NoneVerdict()
	}

	for _, provider := range r.providers {
		if ctx.Err() != nil {
			break
		}
		verdict, found := r.lookup(ctx, provider, identity)
		if found {
			return verdict
		}
	}
	return domain.NoneVerdict()
}

// HasActiveAccess reports whether the resolved verdict grants access. The
// only error is the caller's own context ending.
func (r *Resolver) HasActiveAccess(ctx context.Context, identity string) (bool, error) {
	verdict := r.Resolve(ctx, identity)
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return verdict.HasAccess(), nil
}

func (r *Resolver) lookup(ctx context.Context, provider Provider, identity string) (domain.AccessVerdict, bool) {
	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	verdict, found, err := provider.Lookup(lookupCtx, identity)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		outcome := metrics.LookupOutcomeError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(lookupCtx.Err(), context.DeadlineExceeded) {
			outcome = metrics.LookupOutcomeTimeout
		}
		r.metrics.ObserveLookup(provider.Name(), outcome, elapsed)
		r.log.Warn("entitlement provider failed",
			zap.String("provider", provider.Name()),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
		return domain.AccessVerdict{}, false
	case !found:
		r.metrics.ObserveLookup(provider.Name(), metrics.LookupOutcomeNotFound, elapsed)
		return domain.AccessVerdict{}, false
	default:
		r.metrics.ObserveLookup(provider.Name(), metrics.LookupOutcomeFound, elapsed)
		return verdict, true
	}
}
