package api

import (
	"net/http"
	"nexus/internal/apperr"
	"nexus/internal/storage"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	requestIDKey    = "request-id"
	requestIDHeader = "X-Request-ID"
)

// Router 构建完整的 gin 引擎：中间件、API 路由、本地文件与前端资源
func (h *HTTPHandler) Router() *gin.Engine {
	r := gin.New()
	r.Use(RequestID())
	r.Use(LoggingMiddleware())
	r.Use(SecurityHeaders())
	r.Use(CORSMiddleware(h.cfg.CORSOrigin))
	r.Use(Recovery(h.cfg))
	r.Use(ErrorHandler(h.cfg))

	h.RegisterRoutes(r)
	h.registerFiles(r)
	h.registerFrontend(r)
	return r
}

func (h *HTTPHandler) RegisterRoutes(r gin.IRouter) {
	apiGroup := r.Group("/api")

	health := apiGroup.Group("/health")
	health.GET("", h.Health)
	health.GET("/provider", h.ProviderHealth)

	images := apiGroup.Group("/images")
	images.GET("/models", h.ListModels)

	generation := images.Group("")
	generation.Use(h.limiters.General.Middleware(), h.limiters.Generation.Middleware(), h.OptionalAuth())
	generation.POST("/generate", h.GenerateImage)
	generation.POST("/edit", h.EditImage)

	owned := images.Group("")
	owned.Use(h.limiters.General.Middleware(), h.AuthMiddleware())
	owned.GET("", h.ListImages)
	owned.GET("/history", h.ImageHistory)
	owned.GET("/search", h.SearchImages)
	owned.GET("/stats", h.ImageStats)
	owned.GET("/:id", h.GetImage)
	owned.DELETE("/:id", h.DeleteImage)
	owned.PUT("/:id/favorite", h.ToggleFavorite)
	owned.POST("/:id/tags", h.AddImageTag)
	owned.DELETE("/:id/tags/:tag", h.RemoveImageTag)

	users := apiGroup.Group("/users")
	users.Use(h.limiters.General.Middleware())
	users.POST("/register", h.limiters.Auth.Middleware(), h.Register)
	users.POST("/login", h.limiters.Auth.Middleware(), h.Login)

	profile := users.Group("")
	profile.Use(h.AuthMiddleware())
	profile.GET("/profile", h.GetProfile)
	profile.PUT("/profile", h.UpdateProfile)
	profile.DELETE("/profile", h.DeleteProfile)
	profile.PUT("/password", h.ChangePassword)

	admin := apiGroup.Group("/admin")
	admin.Use(h.limiters.General.Middleware(), h.AuthMiddleware(), h.Authorize("admin"))
	admin.GET("/users", h.ListUsers)
}

// registerFiles 本地存储时通过 /files 提供镜像文件
func (h *HTTPHandler) registerFiles(r *gin.Engine) {
	localProvider, ok := h.storage.(storage.LocalBaseDirProvider)
	if !ok {
		return
	}
	if strings.HasPrefix(h.storagePublicBase, "http://") || strings.HasPrefix(h.storagePublicBase, "https://") {
		return
	}
	r.Static(h.storagePublicBase, localProvider.LocalBaseDir())
}

// registerFrontend serves STATIC_DIR with an index.html fallback for client
// side routes. Unknown /api paths always get the JSON envelope.
func (h *HTTPHandler) registerFrontend(r *gin.Engine) {
	staticDir := strings.TrimSpace(h.cfg.StaticDir)
	r.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if staticDir == "" || strings.HasPrefix(path, "/api") || c.Request.Method != http.MethodGet {
			fail(c, apperr.NotFound("Not found - "+c.Request.URL.RequestURI()))
			return
		}

		candidate := filepath.Join(staticDir, filepath.FromSlash(filepath.Clean("/"+path)))
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			c.File(candidate)
			return
		}
		c.File(filepath.Join(staticDir, "index.html"))
	})
}

// RequestID 为每个请求分配 X-Request-ID
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

// SecurityHeaders 为所有响应加上常用的安全响应头
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("X-DNS-Prefetch-Control", "off")
		c.Next()
	}
}

// CORSMiddleware CORS跨域中间件
func CORSMiddleware(origin string) gin.HandlerFunc {
	if strings.TrimSpace(origin) == "" {
		origin = "*"
	}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")
		if origin != "*" {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggingMiddleware 日志记录中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logrus.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
			"size":       c.Writer.Size(),
			"client_ip":  c.ClientIP(),
			"request_id": c.GetString(requestIDKey),
		}).Info("http_request")
	}
}
