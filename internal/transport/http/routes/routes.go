package routes

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/campus-auth/internal/infra/config"
	"github.com/arklim/campus-auth/internal/infra/security"
	"github.com/arklim/campus-auth/internal/transport/http/handlers"
	"github.com/arklim/campus-auth/internal/transport/http/middleware"
	"github.com/arklim/campus-auth/internal/usecase"
)

// ReadinessChecker is implemented by every dependency probed by /readyz.
type ReadinessChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Auth        handlers.AuthUsecase
	Verifier    middleware.AccessTokenVerifier
	JWTManager  *security.JWTManager
	HTTPMetrics *middleware.HTTPMetrics
	// MetricsHandler serves /metrics; nil uses the default Prometheus registry.
	MetricsHandler http.Handler
	Readiness      []ReadinessChecker
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Tracing())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(deps.HTTPMetrics.Handler())
	r.Use(middleware.CORS(deps.Config.App.CORSAllowedOrigins))

	healthOptions := make([]handlers.HealthOption, 0, len(deps.Readiness))
	for _, checker := range deps.Readiness {
		if checker == nil {
			continue
		}
		healthOptions = append(healthOptions, handlers.WithReadinessCheck(checker.Name(), checker.Check))
	}
	handlers.NewHealthHandler(healthOptions...).RegisterRoutes(r)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.GET("/metrics", gin.WrapH(metricsHandler))

	if deps.JWTManager != nil {
		r.GET("/.well-known/jwks.json", handlers.NewJWKSHandler(deps.JWTManager, deps.Config.JWT.AccessTokenTTL).Keys)
	}

	if deps.Auth != nil {
		authGroup := r.Group("/api/v1/auth")
		authHandler := handlers.NewAuthHandler(deps.Auth, logger)
		authHandler.RegisterRoutes(authGroup, handlers.AuthRouteMiddlewares{
			Credential:    buildRateLimitMiddlewares(deps, middleware.RuleAuthIP, deps.Config.RateLimit.Auth),
			PasswordReset: buildRateLimitMiddlewares(deps, middleware.RulePasswordResetIP, deps.Config.RateLimit.PasswordReset),
			Authenticated: buildAuthMiddlewares(deps),
		})
	}

	return r
}

func buildRateLimitMiddlewares(deps Dependencies, name string, rule config.RateLimitRule) []gin.HandlerFunc {
	if deps.RateLimiter == nil {
		return nil
	}

	effective := deps.Config.RateLimit.Effective(rule, deps.Config.IsProduction())
	if effective.Max <= 0 || effective.Window <= 0 {
		return nil
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(middleware.RateLimitRule{
		Name:       name,
		Limit:      effective.Max,
		Window:     effective.Window,
		Identifier: middleware.ClientIPIdentifier(),
	})}
}

func buildAuthMiddlewares(deps Dependencies) []gin.HandlerFunc {
	verifier := deps.Verifier
	if verifier == nil {
		return []gin.HandlerFunc{func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, handlers.NewErrorResponse(c, usecase.CodeInternal, "authentication unavailable"))
		}}
	}
	return []gin.HandlerFunc{middleware.RequireAuth(verifier)}
}
