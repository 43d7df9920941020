package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"nexus/internal/apperr"
	"nexus/internal/config"
	"nexus/internal/entity"
	"nexus/internal/llm"
	"nexus/internal/model"
	"nexus/internal/storage"
	"nexus/internal/utils"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	persistTimeout = 5 * time.Second
	mirrorTimeout  = 5 * time.Minute
)

// ImageGenerator 是外部图像服务的调用端口
type ImageGenerator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (*entity.GenerationResult, error)
	Edit(ctx context.Context, req llm.EditRequest) (*entity.GenerationResult, error)
}

// PersistStatus 描述一次生成结果的落库情况
type PersistStatus string

const (
	PersistSkipped   PersistStatus = "skipped"
	PersistSucceeded PersistStatus = "persisted"
	PersistFailed    PersistStatus = "failed"
)

// GenerationOutcome 生成结果及其落库状态。落库失败不影响 Result。
type GenerationOutcome struct {
	Result     *entity.GenerationResult
	Persist    PersistStatus
	ImageID    uint
	PersistErr error
}

// GenerationService 内容生成服务：校验、补默认值、调用服务商、按需落库与转存
type GenerationService struct {
	cfg        config.Config
	generator  ImageGenerator
	repo       model.Repository
	storage    storage.Storage
	httpClient *http.Client
	mirror     bool
	now        func() time.Time

	wg sync.WaitGroup
}

// NewGenerationService 创建生成服务实例。repo 与 store 均可为 nil。
func NewGenerationService(cfg config.Config, generator ImageGenerator, repo model.Repository, store storage.Storage) *GenerationService {
	return &GenerationService{
		cfg:        cfg,
		generator:  generator,
		repo:       repo,
		storage:    store,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		mirror:     cfg.MirrorImages && store != nil,
		now:        time.Now,
	}
}

// Wait blocks until background mirroring jobs have finished.
func (s *GenerationService) Wait() {
	s.wg.Wait()
}

// GenerateImages validates the payload, applies defaults and forwards a single
// generate call. callerID 0 means anonymous.
func (s *GenerationService) GenerateImages(ctx context.Context, req entity.GenerateImageRequest, callerID uint) (*GenerationOutcome, error) {
	res := validateGeneration(req, s.cfg)
	if !res.IsValid() {
		_, msg := res.First()
		return nil, apperr.Validation(msg, res.Errors)
	}

	params := llm.GenerateRequest{
		Model:  defaultString(req.Model, s.cfg.DefaultModel),
		Prompt: req.Prompt,
		N:      imageCount(req.N),
		Size:   defaultString(req.Size, s.cfg.DefaultSize),
	}

	result, err := s.generator.Generate(ctx, params)
	if err != nil {
		return nil, err
	}

	outcome := &GenerationOutcome{Result: result}
	s.persist(ctx, outcome, &entity.DbImage{
		Prompt:  params.Prompt,
		Model:   params.Model,
		Size:    params.Size,
		URLs:    entity.StringArray(result.Images),
		Created: result.Created,
	}, callerID, nil)
	return outcome, nil
}

// EditImage validates an uploaded image plus prompt and forwards a single edit call.
func (s *GenerationService) EditImage(ctx context.Context, req entity.EditImageRequest, callerID uint) (*GenerationOutcome, error) {
	res := validateEdit(req, s.cfg)
	if !res.IsValid() {
		_, msg := res.First()
		return nil, apperr.Validation(msg, res.Errors)
	}

	params := llm.EditRequest{
		Model:       defaultString(req.Model, s.defaultEditModel()),
		Prompt:      req.Prompt,
		Size:        defaultString(req.Size, s.cfg.DefaultSize),
		Image:       req.Image,
		Filename:    req.Filename,
		ContentType: req.ContentType,
	}

	result, err := s.generator.Edit(ctx, params)
	if err != nil {
		return nil, err
	}

	outcome := &GenerationOutcome{Result: result}
	s.persist(ctx, outcome, &entity.DbImage{
		Prompt:  params.Prompt,
		Model:   params.Model,
		Size:    params.Size,
		URLs:    entity.StringArray(result.Images),
		Created: result.Created,
		IsEdit:  true,
	}, callerID, req.Image)
	return outcome, nil
}

func (s *GenerationService) defaultEditModel() string {
	if s.cfg.SupportsEditModel(s.cfg.DefaultModel) || len(s.cfg.EditModels) == 0 {
		return s.cfg.DefaultModel
	}
	return s.cfg.EditModels[0]
}

// persist 只在已认证调用时落库；失败只记录日志，生成结果照常返回
func (s *GenerationService) persist(ctx context.Context, outcome *GenerationOutcome, record *entity.DbImage, callerID uint, source []byte) {
	logger := logrus.WithFields(logrus.Fields{
		"user_id": callerID,
		"model":   record.Model,
		"is_edit": record.IsEdit,
		"images":  len(record.URLs),
	})

	if callerID == 0 || s.repo == nil {
		outcome.Persist = PersistSkipped
		logger.Debug("anonymous generation, skipping persistence")
		return
	}

	// 请求方断开连接不应取消落库
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	record.UserID = callerID
	if err := s.repo.CreateImage(persistCtx, record); err != nil {
		outcome.Persist = PersistFailed
		outcome.PersistErr = err
		logger.WithError(err).Error("image persistence failed")
		return
	}
	outcome.Persist = PersistSucceeded
	outcome.ImageID = record.ID
	logger.WithField("image_id", record.ID).Info("image persisted")

	if err := s.repo.RecordGeneration(persistCtx, callerID, s.now()); err != nil {
		logger.WithError(err).Warn("failed to update user generation stats")
	}

	if s.mirror {
		s.wg.Add(1)
		go s.mirrorImage(record.ID, record.Model, record.URLs.ToSlice(), source)
	}
}

// mirrorImage 后台转存生成结果与编辑原图，并回写存储路径
func (s *GenerationService) mirrorImage(imageID uint, modelName string, outputs []string, source []byte) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	logger := logrus.WithFields(logrus.Fields{
		"image_id": imageID,
		"model":    modelName,
	})

	var (
		updates entity.ImageUpdates
		issues  []string
	)

	if len(source) > 0 {
		key, err := s.storage.Save(ctx, source, storage.SaveOptions{
			Category:     storage.CategoryInputs,
			Extension:    utils.ExtensionFromMime(http.DetectContentType(source)),
			BaseName:     computeInputBaseName(source),
			SkipIfExists: true,
		})
		if err != nil {
			issues = append(issues, fmt.Sprintf("input image: %v", err))
		} else {
			updates.SourceImagePath = &key
		}
	}

	paths, err := s.saveOutputs(ctx, modelName, outputs)
	if len(paths) > 0 {
		stored := entity.StringArray(paths)
		updates.StoredPaths = &stored
	}
	if err != nil {
		issues = append(issues, fmt.Sprintf("output images: %v", err))
	}

	if len(issues) > 0 {
		logger.Warn(appendStorageNotes("image mirroring incomplete", issues))
	}
	if updates.IsEmpty() || s.repo == nil {
		return
	}
	if err := s.repo.UpdateImage(ctx, imageID, updates); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 转存期间记录已被删除，没有记录再引用这些对象；原图共享，保留
			logger.Info("image deleted while mirroring, removing stored outputs")
			s.removeObjects(ctx, paths, logger)
			return
		}
		logger.WithError(err).Error("failed to record mirrored paths")
		return
	}
	logger.WithField("stored", len(paths)).Info("image mirrored")
}

func (s *GenerationService) removeObjects(ctx context.Context, keys []string, logger *logrus.Entry) {
	for _, key := range keys {
		if err := s.storage.Delete(ctx, key); err != nil {
			logger.WithError(err).WithField("key", key).Warn("failed to delete mirrored image")
		}
	}
}

func (s *GenerationService) saveOutputs(ctx context.Context, modelName string, outputs []string) ([]string, error) {
	var (
		paths []string
		errs  []string
	)
	for idx, source := range outputs {
		data, ext, err := utils.FetchMedia(ctx, s.httpClient, source)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%d: %v", idx, err))
			continue
		}
		key, err := s.storage.Save(ctx, data, storage.SaveOptions{
			Category:  storage.CategoryOutputs,
			Extension: ext,
			BaseName:  buildOutputBaseName(modelName, idx, s.now()),
		})
		if err != nil {
			errs = append(errs, fmt.Sprintf("%d: %v", idx, err))
			continue
		}
		paths = append(paths, key)
	}
	if len(errs) > 0 {
		return paths, fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return paths, nil
}

// appendStorageNotes 合并存储问题说明
func appendStorageNotes(existing string, notes []string) string {
	if len(notes) == 0 {
		return existing
	}
	combined := strings.Join(notes, "; ")
	if strings.TrimSpace(existing) == "" {
		return combined
	}
	return existing + "; " + combined
}

// computeInputBaseName 计算输入文件的基础名称（使用 MD5 哈希）
func computeInputBaseName(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// buildOutputBaseName 构建输出文件的基础名称
func buildOutputBaseName(modelName string, idx int, at time.Time) string {
	token := storage.SanitizeToken(modelName)
	if token == "" {
		token = "model"
	}
	if len(token) > 32 {
		token = token[:32]
	}
	return fmt.Sprintf("%s_%d_%d", token, at.UTC().UnixNano(), idx)
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
