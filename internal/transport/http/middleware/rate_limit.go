package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/campus-auth/internal/core/port"
	appLogger "github.com/arklim/campus-auth/internal/infra/logger"
	"github.com/arklim/campus-auth/internal/usecase"
)

// Rule names used as key prefixes in the rate limit store.
const (
	RuleAuthIP          = "auth_ip"
	RulePasswordResetIP = "password_reset_ip"
)

// IdentifierFunc extracts the identifier used to scope rate limits (e.g., client IP).
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule configures a sliding-window limit for a particular identifier.
type RateLimitRule struct {
	Name       string
	Limit      int
	Window     time.Duration
	Identifier IdentifierFunc
}

// RateLimiter enforces sliding-window budgets. Store failures let the request through.
type RateLimiter struct {
	store  port.RateLimitStore
	logger *zap.Logger
	now    func() time.Time
}

type ruleResult struct {
	allowed    bool
	limit      int
	remaining  int
	reset      time.Time
	retryAfter time.Duration
}

// RateLimitResponse is the uniform 429 payload.
type RateLimitResponse struct {
	Code       string `json:"code"`
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after"`
	TraceID    string `json:"trace_id,omitempty"`
}

// NewRateLimiter builds a reusable rate limiter middleware helper.
func NewRateLimiter(store port.RateLimitStore, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RateLimiter{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock allows injection of a custom clock (primarily for testing).
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// ClientIPIdentifier builds an IdentifierFunc using the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		if ip == "" {
			return "", false
		}
		return ip, true
	}
}

// RateLimit returns a Gin middleware enforcing the provided rules.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	filtered := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Identifier == nil || rule.Limit <= 0 || rule.Window <= 0 {
			continue
		}
		if rule.Name == "" {
			rule.Name = "default"
		}
		filtered = append(filtered, rule)
	}

	return func(c *gin.Context) {
		if rl == nil || len(filtered) == 0 || rl.store == nil {
			c.Next()
			return
		}

		now := rl.now()
		var tightest *ruleResult

		for _, rule := range filtered {
			identifier, ok := rule.Identifier(c)
			if !ok || identifier == "" {
				continue
			}

			res, err := rl.evaluateRule(c, rule, identifier, now)
			if err != nil {
				rl.logger.Warn("rate limit check failed, allowing request",
					zap.String("rule", rule.Name),
					zap.String("client_ip", appLogger.MaskIP(identifier)),
					zap.Error(err),
				)
				continue
			}

			if !res.allowed {
				rl.applyHeaders(c, res)
				rl.respondRateLimited(c, rule, identifier, res)
				return
			}

			if tightest == nil || res.remaining < tightest.remaining ||
				(res.remaining == tightest.remaining && res.reset.Before(tightest.reset)) {
				snapshot := res
				tightest = &snapshot
			}
		}

		if tightest != nil {
			rl.applyHeaders(c, *tightest)
		}

		c.Next()
	}
}

func (rl *RateLimiter) evaluateRule(c *gin.Context, rule RateLimitRule, identifier string, now time.Time) (ruleResult, error) {
	key := fmt.Sprintf("%s:%s", rule.Name, identifier)

	decision, err := rl.store.Hit(c.Request.Context(), key, rule.Limit, rule.Window, now)
	if err != nil {
		return ruleResult{}, err
	}

	result := ruleResult{
		allowed: decision.Allowed,
		limit:   rule.Limit,
		reset:   now.Add(rule.Window),
	}
	if !decision.Oldest.IsZero() {
		result.reset = decision.Oldest.Add(rule.Window)
	}

	if decision.Allowed {
		result.remaining = rule.Limit - decision.Count
	}
	if result.remaining < 0 {
		result.remaining = 0
	}

	result.retryAfter = result.reset.Sub(now)
	if result.retryAfter < 0 {
		result.retryAfter = 0
	}

	return result, nil
}

func (rl *RateLimiter) applyHeaders(c *gin.Context, res ruleResult) {
	headers := c.Writer.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(res.limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(res.remaining))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(res.reset.Unix(), 10))

	if !res.allowed {
		headers.Set("Retry-After", strconv.Itoa(retrySeconds(res.retryAfter)))
	}
}

func (rl *RateLimiter) respondRateLimited(c *gin.Context, rule RateLimitRule, identifier string, res ruleResult) {
	rl.logger.Debug("rate limit exceeded",
		zap.String("rule", rule.Name),
		zap.String("client_ip", appLogger.MaskIP(identifier)),
		zap.String("path", c.Request.URL.Path),
	)

	c.AbortWithStatusJSON(http.StatusTooManyRequests, RateLimitResponse{
		Code:       usecase.CodeTooManyRequests,
		Error:      usecase.ErrTooManyRequests.Error(),
		RetryAfter: retrySeconds(res.retryAfter),
		TraceID:    GetTraceID(c),
	})
}

func retrySeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 0 {
		return 0
	}
	return seconds
}
