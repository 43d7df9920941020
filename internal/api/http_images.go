package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"nexus/internal/apperr"
	"nexus/internal/entity"
	"nexus/internal/service"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// multipartOverhead 允许 multipart 边界与文本字段占用的额外字节
const multipartOverhead = 1 << 20

const msgImageTooLarge = "Image file is too large"

func (h *HTTPHandler) GenerateImage(c *gin.Context) {
	var req entity.GenerateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, invalidPayload(err))
		return
	}

	outcome, err := h.generationService.GenerateImages(c.Request.Context(), req, callerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": generationResponse(outcome)})
}

func (h *HTTPHandler) EditImage(c *gin.Context) {
	if h.cfg.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes+multipartOverhead)
	}

	req := entity.EditImageRequest{}
	header, err := c.FormFile("image")
	switch {
	case err == nil:
		data, readErr := readUpload(header, h.cfg.MaxUploadBytes)
		if readErr != nil {
			fail(c, readErr)
			return
		}
		req.Image = data
		req.Filename = header.Filename
		req.ContentType = header.Header.Get("Content-Type")
	case isBodyTooLarge(err):
		fail(c, apperr.Validation(msgImageTooLarge, map[string]string{"image": msgImageTooLarge}))
		return
	}
	// 其他错误（非 multipart、缺少文件）交给校验层报告 "No image file uploaded"

	req.Prompt = c.PostForm("prompt")
	req.Model = strings.TrimSpace(c.PostForm("model"))
	req.Size = strings.TrimSpace(c.PostForm("size"))

	outcome, err := h.generationService.EditImage(c.Request.Context(), req, callerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": generationResponse(outcome)})
}

func readUpload(header *multipart.FileHeader, maxBytes int64) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, apperr.Internal("", err)
	}
	defer file.Close()

	reader := io.Reader(file)
	if maxBytes > 0 {
		reader = io.LimitReader(file, maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, apperr.Internal("", err)
	}
	return data, nil
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "request body too large")
}

func generationResponse(outcome *service.GenerationOutcome) entity.GenerationResponse {
	return entity.GenerationResponse{
		Images:  outcome.Result.Images,
		Created: outcome.Result.Created,
		ID:      outcome.ImageID,
	}
}

// ImageHistory 返回当前用户最近的图片，最新在前
func (h *HTTPHandler) ImageHistory(c *gin.Context) {
	images, err := h.imageService.History(c.Request.Context(), callerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	images = h.presentImages(images)
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(images), "data": images})
}

func (h *HTTPHandler) SearchImages(c *gin.Context) {
	page, _ := strconv.ParseInt(c.Query("page"), 10, 64)
	pageSize, _ := strconv.ParseInt(c.Query("page_size"), 10, 64)

	images, meta, err := h.imageService.Search(c.Request.Context(), callerID(c), c.Query("q"), page, pageSize)
	if err != nil {
		fail(c, err)
		return
	}
	images = h.presentImages(images)
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(images), "data": images, "meta": meta})
}

func (h *HTTPHandler) ListImages(c *gin.Context) {
	var query entity.ImageQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		fail(c, invalidPayload(err))
		return
	}

	images, meta, err := h.imageService.List(c.Request.Context(), callerID(c), query)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": h.presentImages(images), "meta": meta})
}

func (h *HTTPHandler) ImageStats(c *gin.Context) {
	stats, err := h.imageService.Stats(c.Request.Context(), callerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": stats})
}

// ListModels 返回支持的模型与尺寸
func (h *HTTPHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": entity.ModelCatalog{
		Models:       h.cfg.SupportedModels,
		EditModels:   h.cfg.EditModels,
		Sizes:        h.cfg.SupportedSizes,
		DefaultModel: h.cfg.DefaultModel,
		DefaultSize:  h.cfg.DefaultSize,
	}})
}

func (h *HTTPHandler) GetImage(c *gin.Context) {
	image, err := h.imageService.GetOwnedImage(c.Request.Context(), callerID(c), parseImageID(c), service.ActionAccess)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": h.presentImage(image)})
}

func (h *HTTPHandler) DeleteImage(c *gin.Context) {
	if err := h.imageService.DeleteImage(c.Request.Context(), callerID(c), parseImageID(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{}})
}

func (h *HTTPHandler) ToggleFavorite(c *gin.Context) {
	image, err := h.imageService.ToggleFavorite(c.Request.Context(), callerID(c), parseImageID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": h.presentImage(image)})
}

func (h *HTTPHandler) AddImageTag(c *gin.Context) {
	var req entity.AddTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, invalidPayload(err))
		return
	}
	image, err := h.imageService.AddTag(c.Request.Context(), callerID(c), parseImageID(c), req.Tag)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": h.presentImage(image)})
}

func (h *HTTPHandler) RemoveImageTag(c *gin.Context) {
	image, err := h.imageService.RemoveTag(c.Request.Context(), callerID(c), parseImageID(c), c.Param("tag"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": h.presentImage(image)})
}

// parseImageID returns 0 for malformed ids, which the service reports as not found.
func parseImageID(c *gin.Context) uint {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}
