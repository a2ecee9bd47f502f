package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/orgaccess/internal/config"
	"github.com/smallbiznis/orgaccess/internal/membership"
	membershipdomain "github.com/smallbiznis/orgaccess/internal/membership/domain"
	"github.com/smallbiznis/orgaccess/internal/observability"
	obsmiddleware "github.com/smallbiznis/orgaccess/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/orgaccess/internal/observability/metrics"
	obstracing "github.com/smallbiznis/orgaccess/internal/observability/tracing"
	"github.com/smallbiznis/orgaccess/internal/organization"
	orgdomain "github.com/smallbiznis/orgaccess/internal/organization/domain"
	"github.com/smallbiznis/orgaccess/internal/storage"
	"github.com/smallbiznis/orgaccess/internal/user"
	userdomain "github.com/smallbiznis/orgaccess/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var Module = fx.Module("http.server",
	user.Module,
	organization.Module,
	membership.Module,
	fx.Provide(registerGin),
	fx.Provide(providePinger),
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

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

func providePinger(b *storage.Backend) Pinger {
	return b
}

func run(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	log = log.Named("http.server")
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			log.Info("http server shutting down")
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	store         Pinger
	userSvc       userdomain.Service
	orgSvc        orgdomain.Service
	membershipSvc membershipdomain.Service
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Store         Pinger
	UserSvc       userdomain.Service
	OrgSvc        orgdomain.Service
	MembershipSvc membershipdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		store:         p.Store,
		userSvc:       p.UserSvc,
		orgSvc:        p.OrgSvc,
		membershipSvc: p.MembershipSvc,
	}

	svc.registerHealthRoutes()
	svc.registerUserRoutes()
	svc.registerOrganizationRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerHealthRoutes() {
	s.engine.GET("/health", s.Health)
}

func (s *Server) registerUserRoutes() {
	users := s.engine.Group("/users")

	users.POST("", s.CreateUser)
	users.GET("", s.ListUsers)
	users.GET("/:id", s.GetUserByID)
	users.PUT("/:id", s.UpdateUser)
}

func (s *Server) registerOrganizationRoutes() {
	orgs := s.engine.Group("/organizations")

	orgs.POST("", s.CreateOrganization)
	orgs.GET("", s.ListOrganizations)
	orgs.GET("/:id", s.GetOrganizationByID)

	// -------- Membership --------
	orgs.POST("/:id/users", s.AddMember)
	orgs.POST("/:id/users/:user_id/permissions", s.UpdateAccessLevel)
	orgs.DELETE("/:id/users/:user_id/permissions", s.RemoveAccessEntry)
	orgs.DELETE("/:id/users/:user_id", s.RemoveMember)
}

func (s *Server) Health(c *gin.Context) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
