package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/referralledger/internal/audit/domain"
	"github.com/smallbiznis/referralledger/internal/authorization"
	brokerdomain "github.com/smallbiznis/referralledger/internal/broker/domain"
	"github.com/smallbiznis/referralledger/internal/config"
	ledgerdomain "github.com/smallbiznis/referralledger/internal/ledger/domain"
	"github.com/smallbiznis/referralledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/referralledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/referralledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/referralledger/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/referralledger/internal/payment/domain"
	referraldomain "github.com/smallbiznis/referralledger/internal/referral/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
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
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
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
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	webhookSvc paymentdomain.WebhookService
	referral   referraldomain.Service
	brokerSvc  brokerdomain.Service
	ledgerSvc  ledgerdomain.Service
	auditSvc   auditdomain.Service
	authzSvc   authorization.Service
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	WebhookSvc paymentdomain.WebhookService
	Referral   referraldomain.Service
	BrokerSvc  brokerdomain.Service
	LedgerSvc  ledgerdomain.Service
	AuditSvc   auditdomain.Service
	AuthzSvc   authorization.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics   `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		webhookSvc: p.WebhookSvc,
		referral:   p.Referral,
		brokerSvc:  p.BrokerSvc,
		ledgerSvc:  p.LedgerSvc,
		auditSvc:   p.AuditSvc,
		authzSvc:   p.AuthzSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	s.registerWebhookRoutes()
	s.registerPublicRoutes()
	s.registerAdminRoutes()
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerPublicRoutes() {
	s.engine.GET("/r/:code", s.TrackLinkVisit)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.AdminAuthRequired())

	// -------- Brokers --------
	admin.POST("/brokers", s.authorizeAdminAction(authorization.ObjectBroker, authorization.ActionBrokerCreate), s.RegisterBroker)
	admin.GET("/brokers/:id", s.authorizeAdminAction(authorization.ObjectBroker, authorization.ActionBrokerView), s.GetBroker)
	admin.POST("/brokers/:id/approve", s.authorizeAdminAction(authorization.ObjectBroker, authorization.ActionBrokerApprove), s.ApproveBroker)
	admin.POST("/brokers/:id/deny", s.authorizeAdminAction(authorization.ObjectBroker, authorization.ActionBrokerDeny), s.DenyBroker)
	admin.POST("/brokers/:id/payout-destination", s.authorizeAdminAction(authorization.ObjectBroker, authorization.ActionBrokerPayoutManage), s.SetPayoutDestination)
	admin.GET("/brokers/:id/ledger", s.authorizeAdminAction(authorization.ObjectLedger, authorization.ActionLedgerView), s.GetBrokerLedger)
	admin.GET("/brokers/:id/statement", s.authorizeAdminAction(authorization.ObjectLedger, authorization.ActionLedgerView), s.GetBrokerStatement)
	admin.GET("/brokers/:id/referrals", s.authorizeAdminAction(authorization.ObjectReferral, authorization.ActionReferralView), s.ListBrokerReferrals)

	// -------- Referrals --------
	admin.GET("/referrals/:id", s.authorizeAdminAction(authorization.ObjectReferral, authorization.ActionReferralView), s.GetReferral)
	admin.POST("/referrals/:id/approve", s.authorizeAdminAction(authorization.ObjectReferral, authorization.ActionReferralApprove), s.ApproveReferral)
	admin.POST("/referrals/:id/reject", s.authorizeAdminAction(authorization.ObjectReferral, authorization.ActionReferralReject), s.RejectReferral)
	admin.POST("/referrals/:id/release", s.authorizeAdminAction(authorization.ObjectReferral, authorization.ActionReferralRelease), s.ReleaseReferral)
	admin.POST("/referrals/:id/mark-paid", s.authorizeAdminAction(authorization.ObjectReferral, authorization.ActionReferralMarkPaid), s.MarkReferralPaid)

	// -------- Audit --------
	admin.GET("/audit-logs", s.authorizeAdminAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}
