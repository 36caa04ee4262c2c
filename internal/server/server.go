package server

import (
	"context"
	"net/http"
	"time"

	"github.com/baridihq/baridi/internal/audit"
	auditdomain "github.com/baridihq/baridi/internal/audit/domain"
	"github.com/baridihq/baridi/internal/auditctx"
	"github.com/baridihq/baridi/internal/config"
	"github.com/baridihq/baridi/internal/credentials"
	credsdomain "github.com/baridihq/baridi/internal/credentials/domain"
	"github.com/baridihq/baridi/internal/gateway"
	gwdomain "github.com/baridihq/baridi/internal/gateway/domain"
	"github.com/baridihq/baridi/internal/ledger"
	"github.com/baridihq/baridi/internal/observability/logger"
	"github.com/baridihq/baridi/internal/observability/metrics"
	"github.com/baridihq/baridi/internal/ratelimit"
	"github.com/baridihq/baridi/internal/reconciler"
	recdomain "github.com/baridihq/baridi/internal/reconciler/domain"
	"github.com/baridihq/baridi/internal/tab"
	"github.com/baridihq/baridi/internal/transaction"
	txndomain "github.com/baridihq/baridi/internal/transaction/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const timeFormat = time.RFC3339

func NewEngine(log *zap.Logger, httpMetrics *metrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(log))
	r.Use(metrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type ServerParams struct {
	fx.In

	Gin *gin.Engine
	Log *zap.Logger
	Cfg config.Config

	Payments     gwdomain.Service
	Reconciler   recdomain.Service
	Transactions txndomain.Service
	Credentials  credsdomain.Service
	Audit        auditdomain.Service
}

type Server struct {
	engine *gin.Engine
	log    *zap.Logger
	cfg    config.Config

	payments     gwdomain.Service
	reconciler   recdomain.Service
	transactions txndomain.Service
	credentials  credsdomain.Service
	audit        auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		log:          p.Log.Named("server"),
		cfg:          p.Cfg,
		payments:     p.Payments,
		reconciler:   p.Reconciler,
		transactions: p.Transactions,
		credentials:  p.Credentials,
		audit:        p.Audit,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1", s.TenantRequired())

	api.POST("/payments/mpesa", s.InitiatePayment)
	api.GET("/payments/mpesa/:transaction_id", s.GetTransaction)
	api.GET("/audit-events", s.ListAuditEvents)
	api.PUT("/settings/mpesa/credentials", s.SetCredentials)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/mpesa/:tenant_id", s.MpesaCallback)
}

// TenantRequired resolves the venue from the X-Tenant-ID header. There is no
// session layer here: the upstream tab service authenticates staff and
// forwards the tenant it resolved.
func (s *Server) TenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, err := snowflake.ParseString(c.GetHeader("X-Tenant-ID"))
		if err != nil || tenantID == 0 {
			AbortWithError(c, newValidationError("tenant_id", "invalid_tenant_id", "missing or invalid X-Tenant-ID header"))
			return
		}
		c.Set("tenant_id", tenantID)
		c.Next()
	}
}

func tenantFromContext(c *gin.Context) snowflake.ID {
	if value, ok := c.Get("tenant_id"); ok {
		if id, ok := value.(snowflake.ID); ok {
			return id
		}
	}
	return 0
}

// requestContext threads the request identity into context so audit records
// carry the actor, origin and request id without handlers passing them.
func (s *Server) requestContext(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	ctx = auditctx.WithIPAddress(ctx, c.ClientIP())
	ctx = auditctx.WithUserAgent(ctx, c.Request.UserAgent())
	if requestID := c.GetString("request_id"); requestID != "" {
		ctx = auditctx.WithRequestID(ctx, requestID)
	}
	if staffID := c.GetHeader("X-Staff-ID"); staffID != "" {
		ctx = auditctx.WithActor(ctx, auditdomain.ActorTypeStaff, staffID)
	}
	return ctx
}

// defaultEnvironment picks the Daraja environment when the request leaves it
// blank: production deployments talk to the live API, everything else stays
// in the sandbox.
func (s *Server) defaultEnvironment(requested string) string {
	if requested != "" {
		return requested
	}
	if s.cfg.Environment == "production" {
		return credsdomain.EnvironmentProduction
	}
	return credsdomain.EnvironmentSandbox
}

func run(lc fx.Lifecycle, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", zap.Error(err))
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

var Module = fx.Module("server",
	tab.Module,
	ledger.Module,
	audit.Module,
	credentials.Module,
	ratelimit.Module,
	transaction.Module,
	gateway.Module,
	reconciler.Module,

	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)
