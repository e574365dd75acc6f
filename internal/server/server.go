// Package server exposes the HTTP API: payment lifecycle operations,
// tenant provider configuration, and the webhook ingress.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/gateway"
	"github.com/smallbiznis/payflow/internal/observability"
	obsmiddleware "github.com/smallbiznis/payflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/payflow/internal/observability/metrics"
	obstracing "github.com/smallbiznis/payflow/internal/observability/tracing"
	"github.com/smallbiznis/payflow/internal/outbox"
	"github.com/smallbiznis/payflow/internal/payment"
	paymentdomain "github.com/smallbiznis/payflow/internal/payment/domain"
	"github.com/smallbiznis/payflow/internal/providerconfig"
	providerconfigdomain "github.com/smallbiznis/payflow/internal/providerconfig/domain"
	"github.com/smallbiznis/payflow/internal/ratelimit"
	"github.com/smallbiznis/payflow/internal/resolver"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	config.Module,
	gateway.Module,
	providerconfig.Module,
	resolver.Module,
	outbox.Module,
	payment.Module,
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
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
	engine            *gin.Engine
	cfg               config.Config
	db                *gorm.DB
	genID             *snowflake.Node
	paymentSvc        paymentdomain.Service
	providerConfigSvc providerconfigdomain.Service
	resolver          *resolver.Resolver
	webhookLimiter    *ratelimit.WebhookLimiter
	obsMetrics        *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin               *gin.Engine
	Cfg               config.Config
	DB                *gorm.DB
	GenID             *snowflake.Node
	PaymentSvc        paymentdomain.Service
	ProviderConfigSvc providerconfigdomain.Service
	Resolver          *resolver.Resolver
	WebhookLimiter    *ratelimit.WebhookLimiter `optional:"true"`
	ObsMetrics        *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:            p.Gin,
		cfg:               p.Cfg,
		db:                p.DB,
		genID:             p.GenID,
		paymentSvc:        p.PaymentSvc,
		providerConfigSvc: p.ProviderConfigSvc,
		resolver:          p.Resolver,
		webhookLimiter:    p.WebhookLimiter,
		obsMetrics:        p.ObsMetrics,
	}

	svc.registerPaymentRoutes()
	svc.registerProviderRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) registerPaymentRoutes() {
	api := s.engine.Group("/api", OrgContext())

	api.POST("/payments", s.CreatePayment)
	api.GET("/payments", s.ListPayments)
	api.GET("/payments/:reference", s.GetPayment)
	api.POST("/payments/:reference/process", s.ProcessPayment)
	api.POST("/payments/:reference/void", s.VoidPayment)
	api.POST("/payments/:reference/refunds", s.RequestRefund)
	api.GET("/payments/:reference/refunds", s.ListRefunds)
	api.POST("/refunds/:reference/process", s.ProcessRefund)
}

func (s *Server) registerProviderRoutes() {
	api := s.engine.Group("/api", OrgContext())

	api.GET("/providers", s.ListProviderCatalog)
	api.GET("/provider-configs", s.ListProviderConfigs)
	api.PUT("/provider-configs/:provider", s.UpsertProviderConfig)
	api.POST("/provider-configs/:provider/activate", s.SetProviderActive)
	api.POST("/provider-configs/:provider/primary", s.SetProviderPrimary)
	api.GET("/provider-configs/:provider/health", s.ProviderHealth)
}

func (s *Server) registerWebhookRoutes() {
	// Webhook ingress carries the tenant in the path; providers cannot set
	// custom headers.
	s.engine.POST("/webhooks/:org_id/:provider", s.IngestWebhook)
}
