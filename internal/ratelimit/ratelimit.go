// Package ratelimit provides the fixed-window per-IP limiters guarding the API.
// Counters live in process memory unless RATE_LIMIT_STORE=redis.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"nexus/internal/apperr"
	"nexus/internal/config"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"

	storePrefix = "nexus:ratelimit"
)

const (
	msgAuthLimited       = "Too many login attempts, please try again after 15 minutes"
	msgGenerationLimited = "Generation limit reached, please try again later"
)

// Tier 是一个带名称和超限提示的限流器
type Tier struct {
	Name    string
	Message string
	limiter *limiter.Limiter
}

// Set groups the three limiter tiers used by the routes.
type Set struct {
	General    *Tier
	Auth       *Tier
	Generation *Tier

	closeFn func() error
}

// New builds the limiter tiers from configuration. The redis client, when
// configured, is owned by the returned Set; call Close on shutdown.
func New(ctx context.Context, cfg config.Config) (*Set, error) {
	storeType := strings.ToLower(strings.TrimSpace(cfg.RateLimitStore))
	switch storeType {
	case "", StoreMemory:
		return newSet(cfg, func(tier string) (limiter.Store, error) {
			return memory.NewStoreWithOptions(limiter.StoreOptions{
				Prefix:          storePrefix + ":" + tier,
				CleanUpInterval: limiter.DefaultCleanUpInterval,
			}), nil
		}, nil)
	case StoreRedis:
		if strings.TrimSpace(cfg.RedisURL) == "" {
			return nil, fmt.Errorf("REDIS_URL is required when RATE_LIMIT_STORE=redis")
		}
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		set, err := newSet(cfg, func(tier string) (limiter.Store, error) {
			return sredis.NewStoreWithOptions(client, limiter.StoreOptions{
				Prefix:   storePrefix + ":" + tier,
				MaxRetry: 3,
			})
		}, client.Close)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return set, nil
	default:
		return nil, fmt.Errorf("unsupported RATE_LIMIT_STORE %q", cfg.RateLimitStore)
	}
}

func newSet(cfg config.Config, storeFor func(tier string) (limiter.Store, error), closeFn func() error) (*Set, error) {
	general, err := newTier("general", generalMessage(cfg.RateLimitWindow), cfg.RateLimitWindow, cfg.RateLimitMax, storeFor)
	if err != nil {
		return nil, err
	}
	authTier, err := newTier("auth", msgAuthLimited, cfg.AuthRateLimitWindow, cfg.AuthRateLimitMax, storeFor)
	if err != nil {
		return nil, err
	}
	generation, err := newTier("generation", msgGenerationLimited, cfg.GenerationRateLimitWindow, cfg.GenerationRateLimitMax, storeFor)
	if err != nil {
		return nil, err
	}
	return &Set{General: general, Auth: authTier, Generation: generation, closeFn: closeFn}, nil
}

func newTier(name, message string, window time.Duration, max int64, storeFor func(string) (limiter.Store, error)) (*Tier, error) {
	store, err := storeFor(name)
	if err != nil {
		return nil, fmt.Errorf("create %s limiter store: %w", name, err)
	}
	rate := limiter.Rate{Period: window, Limit: max}
	return &Tier{Name: name, Message: message, limiter: limiter.New(store, rate)}, nil
}

// Close releases the shared store connection, if any.
func (s *Set) Close() error {
	if s == nil || s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

func generalMessage(window time.Duration) string {
	minutes := int(math.Ceil(window.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("Too many requests, please try again after %d minutes", minutes)
}

// Middleware counts every request from the client IP against the tier. When
// the store fails the request is let through and the failure logged.
func (t *Tier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if t == nil || t.limiter == nil {
			c.Next()
			return
		}

		result, err := t.limiter.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			logrus.WithError(err).WithField("tier", t.Name).Warn("rate limiter unavailable, allowing request")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.Reset, 10))

		if result.Reached {
			logrus.WithFields(logrus.Fields{
				"tier":      t.Name,
				"client_ip": c.ClientIP(),
				"path":      c.FullPath(),
			}).Warn("rate limit reached")
			_ = c.Error(apperr.RateLimit(t.Message))
			c.Abort()
			return
		}
		c.Next()
	}
}
