package service

import (
	"nexus/internal/config"
	"nexus/internal/entity"
	"nexus/internal/validate"
	"strings"
)

func catalogOf(cfg config.Config) validate.Catalog {
	return validate.Catalog{
		Models:     cfg.SupportedModels,
		EditModels: cfg.EditModels,
		Sizes:      cfg.SupportedSizes,
	}
}

func validateGeneration(req entity.GenerateImageRequest, cfg config.Config) validate.Result {
	return validate.Generation(validate.GenerationParams{
		Prompt: req.Prompt,
		Model:  req.Model,
		N:      string(req.N),
		Size:   req.Size,
	}, catalogOf(cfg))
}

func validateEdit(req entity.EditImageRequest, cfg config.Config) validate.Result {
	return validate.Edit(validate.EditParams{
		Prompt:      req.Prompt,
		Model:       req.Model,
		Size:        req.Size,
		HasImage:    len(req.Image) > 0,
		ContentType: req.ContentType,
		ImageSize:   int64(len(req.Image)),
	}, catalogOf(cfg), cfg.MaxUploadBytes)
}

// imageCount returns the validated n, or 1 when n was omitted.
func imageCount(n entity.ImageCount) int {
	if strings.TrimSpace(string(n)) == "" {
		return validate.MinImages
	}
	count, ok := validate.ParseImageCount(string(n))
	if !ok {
		return validate.MinImages
	}
	return count
}
