package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"nexus/internal/entity"
	"nexus/internal/utils"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Mode string

const (
	ModeText  Mode = "text"
	ModeImage Mode = "image"
)

var (
	ErrEmptyPrompt          = errors.New("Prompt is required")
	ErrGenerationInProgress = errors.New("A generation is already in progress")
	ErrNoImageSelected      = errors.New("No image file found. Please upload an image and try again.")
	ErrNoImagesReturned     = errors.New("No images found in API response")
)

const (
	msgGenerateFailed = "Failed to generate images. Please try again."
	msgEditFailed     = "Failed to edit image. Please try again."
)

// Backend is the part of the REST API the generator drives.
type Backend interface {
	Generate(ctx context.Context, req entity.GenerateImageRequest) (*entity.GenerationResponse, error)
	Edit(ctx context.Context, req entity.EditImageRequest) (*entity.GenerationResponse, error)
}

type Downloader interface {
	Download(ctx context.Context, url, filename string) error
}

// Result is one image of the current generation.
type Result struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Prompt    string    `json:"prompt"`
	Model     string    `json:"model"`
	Size      string    `json:"size"`
	IsEdit    bool      `json:"isEdit,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SelectedImage is the local file used as edit input.
type SelectedImage struct {
	Path        string
	Filename    string
	ContentType string
	Data        []byte
}

// Generator 负责一次会话中的生成编排：参数来自 Store，结果写回当前结果与历史
type Generator struct {
	store      *Store
	backend    Backend
	downloader Downloader
	now        func() time.Time

	generating atomic.Bool

	mu       sync.RWMutex
	mode     Mode
	selected *SelectedImage
	results  []Result
	errMsg   string
}

// NewGenerator wires a generator. A nil downloader disables auto-download.
func NewGenerator(store *Store, backend Backend, downloader Downloader) *Generator {
	return &Generator{
		store:      store,
		backend:    backend,
		downloader: downloader,
		now:        time.Now,
		mode:       ModeText,
	}
}

func (g *Generator) Mode() Mode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mode
}

func (g *Generator) SetMode(mode Mode) {
	if mode != ModeImage {
		mode = ModeText
	}
	g.mu.Lock()
	g.mode = mode
	g.mu.Unlock()
}

// SelectImage reads path as the edit input and switches to image mode.
func (g *Generator) SelectImage(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	g.mu.Lock()
	g.selected = &SelectedImage{
		Path:        path,
		Filename:    filepath.Base(path),
		ContentType: http.DetectContentType(data),
		Data:        data,
	}
	g.mode = ModeImage
	g.mu.Unlock()
	return nil
}

func (g *Generator) Selected() *SelectedImage {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.selected
}

// IsGenerating reports whether a request is in flight.
func (g *Generator) IsGenerating() bool {
	return g.generating.Load()
}

func (g *Generator) Results() []Result {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Result(nil), g.results...)
}

// Err returns the message of the last failure, empty after a success.
func (g *Generator) Err() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.errMsg
}

func (g *Generator) ToggleFavorite(id string) State {
	return g.store.Dispatch(ToggleFavorite{ID: id})
}

func (g *Generator) GenerateImages(ctx context.Context, prompt string) ([]Result, error) {
	return g.run(ctx, prompt, false, msgGenerateFailed, func(state State) (*entity.GenerationResponse, error) {
		return g.backend.Generate(ctx, entity.GenerateImageRequest{
			Model:  state.Model,
			Prompt: prompt,
			N:      entity.ImageCount(strconv.Itoa(state.NumImages)),
			Size:   state.Size,
		})
	})
}

func (g *Generator) EditImageWithPrompt(ctx context.Context, prompt string) ([]Result, error) {
	return g.run(ctx, prompt, true, msgEditFailed, func(state State) (*entity.GenerationResponse, error) {
		selected := g.Selected()
		if selected == nil || len(selected.Data) == 0 {
			return nil, ErrNoImageSelected
		}
		return g.backend.Edit(ctx, entity.EditImageRequest{
			Model:       state.Model,
			Prompt:      prompt,
			Size:        state.Size,
			Image:       selected.Data,
			Filename:    selected.Filename,
			ContentType: selected.ContentType,
		})
	})
}

func (g *Generator) run(ctx context.Context, prompt string, isEdit bool, fallback string, call func(State) (*entity.GenerationResponse, error)) ([]Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if !g.generating.CompareAndSwap(false, true) {
		return nil, ErrGenerationInProgress
	}
	defer g.generating.Store(false)

	g.setErr("")
	state := g.store.Dispatch(SetLastPrompt{Prompt: prompt})

	resp, err := call(state)
	if err == nil && (resp == nil || len(resp.Images) == 0) {
		err = ErrNoImagesReturned
	}
	if err != nil {
		message := err.Error()
		if message == "" {
			message = fallback
		}
		g.setErr(message)
		logrus.WithError(err).WithField("edit", isEdit).Warn("generation failed")
		return nil, err
	}

	now := g.now()
	results := make([]Result, 0, len(resp.Images))
	for idx, url := range resp.Images {
		results = append(results, Result{
			ID:        fmt.Sprintf("%d-%d", now.UnixMilli(), idx),
			URL:       url,
			Prompt:    prompt,
			Model:     state.Model,
			Size:      state.Size,
			IsEdit:    isEdit,
			Timestamp: now,
		})
	}

	g.mu.Lock()
	g.results = results
	g.mu.Unlock()

	prefs := g.store.Preferences()
	if prefs.AutoDownload && g.downloader != nil {
		g.download(ctx, results, now)
	}
	if prefs.AutoSave {
		g.store.Dispatch(AddToHistory{Entry: HistoryEntry{
			ID:        uuid.NewString(),
			Prompt:    prompt,
			Model:     state.Model,
			Size:      state.Size,
			IsEdit:    isEdit,
			Images:    append([]string(nil), resp.Images...),
			Timestamp: now,
		}})
	}
	return append([]Result(nil), results...), nil
}

// download 失败只记录日志，不影响生成结果
func (g *Generator) download(ctx context.Context, results []Result, at time.Time) {
	for idx, result := range results {
		filename := utils.ImageFilename(result.Prompt, idx, at)
		if err := g.downloader.Download(ctx, result.URL, filename); err != nil {
			logrus.WithError(err).WithField("filename", filename).Warn("auto-download failed")
		}
	}
}

func (g *Generator) setErr(message string) {
	g.mu.Lock()
	g.errMsg = message
	g.mu.Unlock()
}

// FileDownloader saves images under Dir. Data URLs are decoded in place.
type FileDownloader struct {
	Dir    string
	Client *http.Client
}

func NewFileDownloader(dir string) *FileDownloader {
	return &FileDownloader{Dir: dir, Client: &http.Client{Timeout: 60 * time.Second}}
}

func (d *FileDownloader) Download(ctx context.Context, url, filename string) error {
	data, _, err := utils.FetchMedia(ctx, d.Client, url)
	if err != nil {
		return err
	}
	dir := d.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, filename), data, 0o644)
}
