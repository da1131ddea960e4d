package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/lumichat/lumichat/internal/adreward"
	adrewarddomain "github.com/lumichat/lumichat/internal/adreward/domain"
	"github.com/lumichat/lumichat/internal/config"
	"github.com/lumichat/lumichat/internal/entitlement"
	entitlementdomain "github.com/lumichat/lumichat/internal/entitlement/domain"
	"github.com/lumichat/lumichat/internal/idempotency"
	"github.com/lumichat/lumichat/internal/membership"
	membershipdomain "github.com/lumichat/lumichat/internal/membership/domain"
	obsmetrics "github.com/lumichat/lumichat/internal/observability/metrics"
	"github.com/lumichat/lumichat/internal/quota"
	quotadomain "github.com/lumichat/lumichat/internal/quota/domain"
	"github.com/lumichat/lumichat/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	obsmetrics.Module,
	idempotency.Module,
	ratelimit.Module,
	membership.Module,
	quota.Module,
	entitlement.Module,
	adreward.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics, reg *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log.Named("http")))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	gatherers := prometheus.Gatherers{reg, prometheus.DefaultGatherer}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})))

	return r
}

func registerGin(log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics, reg *prometheus.Registry) *gin.Engine {
	return NewEngine(log, httpMetrics, reg)
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
	engine         *gin.Engine
	cfg            config.Config
	log            *zap.Logger
	db             *gorm.DB
	genID          *snowflake.Node
	quotaSvc       quotadomain.Service
	entitlementSvc entitlementdomain.Service
	adSvc          adrewarddomain.Service
	membershipSvc  membershipdomain.Service
	guard          *idempotency.Guard
	limiter        *ratelimit.APILimiter
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Log            *zap.Logger
	DB             *gorm.DB
	GenID          *snowflake.Node
	QuotaSvc       quotadomain.Service
	EntitlementSvc entitlementdomain.Service
	AdSvc          adrewarddomain.Service
	MembershipSvc  membershipdomain.Service
	Guard          *idempotency.Guard
	Limiter        *ratelimit.APILimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            p.Log.Named("server"),
		db:             p.DB,
		genID:          p.GenID,
		quotaSvc:       p.QuotaSvc,
		entitlementSvc: p.EntitlementSvc,
		adSvc:          p.AdSvc,
		membershipSvc:  p.MembershipSvc,
		guard:          p.Guard,
		limiter:        p.Limiter,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	if p.Cfg.DevPaymentBypass {
		svc.registerDevRoutes()
	}

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1", s.IdentityRequired())

	quotaGroup := v1.Group("/quota")
	quotaGroup.GET("/:resource/check", s.CheckQuota)
	quotaGroup.POST("/:resource/consume", s.ConsumeRateLimit(), s.Consume)
	quotaGroup.POST("/:resource/release", s.ReleaseUse)
	quotaGroup.GET("/:resource/stats", s.QuotaStats)
	quotaGroup.GET("/:resource/stats/all", s.QuotaStatsAll)

	cards := v1.Group("/cards")
	cards.GET("", s.ListBalances)
	cards.GET("/:card_type", s.GetBalance)
	cards.POST("/:card_type/spend", s.SpendCard)
	cards.GET("/history", s.CardHistory)

	ads := v1.Group("/ads")
	ads.POST("/watch", s.RequestAdWatch)
	ads.POST("/claim", s.ClaimAdReward)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.AdminRequired())

	admin.GET("/quota/stats", s.AdminQuotaStats)
	admin.POST("/quota/reset", s.AdminResetQuota)
	admin.POST("/quota/unlock", s.AdminUnlockCharacter)
	admin.POST("/cards/grant", s.AdminGrantCards)
	admin.POST("/cache/clear", s.AdminClearCaches)
}

// registerDevRoutes exposes the card-grant purchase stand-in used by
// local builds without a payment gateway.
func (s *Server) registerDevRoutes() {
	dev := s.engine.Group("/dev", s.IdentityRequired())
	dev.POST("/purchase", s.DevPurchaseCards)
}
