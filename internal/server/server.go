package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/predixa/entitlements/internal/accessgate"
	billing "github.com/predixa/entitlements/internal/billing/stripe"
	"github.com/predixa/entitlements/internal/briefing"
	"github.com/predixa/entitlements/internal/clock"
	"github.com/predixa/entitlements/internal/config"
	entitlementdomain "github.com/predixa/entitlements/internal/entitlement/domain"
	"github.com/predixa/entitlements/internal/entitlement/resolver"
	"github.com/predixa/entitlements/internal/observability"
	obsmiddleware "github.com/predixa/entitlements/internal/observability/logger"
	obsmetrics "github.com/predixa/entitlements/internal/observability/metrics"
	obstracing "github.com/predixa/entitlements/internal/observability/tracing"
	"github.com/predixa/entitlements/internal/ratelimit"
	"github.com/predixa/entitlements/internal/session"
	webhookdomain "github.com/predixa/entitlements/internal/webhook/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	clock        clock.Clock
	sessions     *session.Manager
	identity     *session.Provider
	entitlements entitlementdomain.Service
	resolver     *resolver.Resolver
	gate         *accessgate.Gate
	stripe       billing.Client
	webhooks     webhookdomain.Service
	briefings    *briefing.Service
	limiter      *ratelimit.Limiter
	validate     *validator.Validate
	obsMetrics   *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	Clock        clock.Clock
	Sessions     *session.Manager
	Identity     *session.Provider
	Entitlements entitlementdomain.Service
	Resolver     *resolver.Resolver
	Gate         *accessgate.Gate
	Stripe       billing.Client
	Webhooks     webhookdomain.Service
	Briefings    *briefing.Service
	Limiter      *ratelimit.Limiter  `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		log:          log.Named("http"),
		clock:        p.Clock,
		sessions:     p.Sessions,
		identity:     p.Identity,
		entitlements: p.Entitlements,
		resolver:     p.Resolver,
		gate:         p.Gate,
		stripe:       p.Stripe,
		webhooks:     p.Webhooks,
		briefings:    p.Briefings,
		limiter:      p.Limiter,
		validate:     validator.New(),
		obsMetrics:   p.ObsMetrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Webhooks --------
	// Providers retry on their own schedule, so deliveries skip the limiter.
	api.POST("/revenuecat/webhook", s.HandleRevenueCatWebhook)
	api.POST("/stripe/webhook", s.HandleStripeWebhook)

	limited := api.Group("", s.RateLimit())

	// -------- Session --------
	limited.POST("/auth/session", s.CreateSession)
	limited.DELETE("/auth/session", s.DeleteSession)

	// -------- Entitlements --------
	limited.GET("/entitlements", s.AuthRequired(), s.GetEntitlements)
	limited.POST("/entitlements/trial", s.AuthRequired(), s.StartTrial)

	// -------- Access --------
	limited.GET("/access", s.AuthRequired(), s.GetAccess)
	limited.GET("/access/gate", s.EvaluateGate)

	// -------- Direct billing --------
	limited.GET("/stripe/subscription", s.OptionalAuth(), s.GetStripeSubscription)
	limited.POST("/stripe/create-checkout-session", s.OptionalAuth(), s.CreateCheckoutSession)
	limited.POST("/stripe/create-portal-session", s.OptionalAuth(), s.CreatePortalSession)

	// -------- News --------
	limited.GET("/news/briefing", s.RequireAccess(), s.GetNewsBriefing)
}
