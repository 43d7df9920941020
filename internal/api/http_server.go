package api

import (
	"context"
	"nexus/internal/auth"
	"nexus/internal/config"
	"nexus/internal/entity"
	"nexus/internal/model"
	"nexus/internal/ratelimit"
	"nexus/internal/service"
	"nexus/internal/storage"
	"strings"
	"time"
)

const msgPersistenceDisabled = "Persistence is disabled on this server"

// ImageProvider 外部图像服务：生成、编辑与可达性探测
type ImageProvider interface {
	service.ImageGenerator
	ListModels(ctx context.Context) ([]string, error)
}

// HTTPHandler HTTP 请求处理器
type HTTPHandler struct {
	cfg               config.Config
	repo              model.Repository
	storage           storage.Storage
	storagePublicBase string
	authManager       *auth.Manager
	provider          ImageProvider
	limiters          *ratelimit.Set

	// 服务层
	generationService *service.GenerationService
	imageService      *service.ImageService
}

// NewHTTPHandler 创建 HTTP 处理器实例。repo 与 store 可以为 nil，此时历史相关接口返回 503。
func NewHTTPHandler(cfg config.Config, repo model.Repository, store storage.Storage, provider ImageProvider, limiters *ratelimit.Set) (*HTTPHandler, error) {
	expiry := time.Duration(cfg.JWTExpirationMinutes) * time.Minute
	authManager, err := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer, expiry)
	if err != nil {
		return nil, err
	}

	return &HTTPHandler{
		cfg:               cfg,
		repo:              repo,
		storage:           store,
		storagePublicBase: normalisePublicBase(cfg.StoragePublicBaseURL),
		authManager:       authManager,
		provider:          provider,
		limiters:          limiters,
		generationService: service.NewGenerationService(cfg, provider, repo, store),
		imageService:      service.NewImageService(repo, store),
	}, nil
}

// Shutdown waits for background mirroring to finish or ctx to expire.
func (h *HTTPHandler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.generationService.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// normalisePublicBase 规范化公共 URL 基础路径
func normalisePublicBase(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		trimmed = "/files"
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return strings.TrimRight(trimmed, "/")
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return strings.TrimRight(trimmed, "/")
}

func (h *HTTPHandler) publicURL(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return trimmed
	}
	return h.storagePublicBase + "/" + strings.TrimLeft(trimmed, "/")
}

// presentImage fills the public URLs of mirrored copies.
func (h *HTTPHandler) presentImage(image *entity.DbImage) *entity.DbImage {
	if image == nil || len(image.StoredPaths) == 0 {
		return image
	}
	image.StoredURLs = make([]string, 0, len(image.StoredPaths))
	for _, key := range image.StoredPaths {
		if url := h.publicURL(key); url != "" {
			image.StoredURLs = append(image.StoredURLs, url)
		}
	}
	return image
}

func (h *HTTPHandler) presentImages(images []entity.DbImage) []entity.DbImage {
	if images == nil {
		return []entity.DbImage{}
	}
	for idx := range images {
		h.presentImage(&images[idx])
	}
	return images
}
