package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"nexus/internal/entity"
)

type failingPersister struct{}

func (failingPersister) Load() (Snapshot, error) { return defaultSnapshot(), errors.New("disk gone") }
func (failingPersister) Save(Snapshot) error     { return errors.New("disk gone") }

type fakeBackend struct {
	mu       sync.Mutex
	images   []string
	err      error
	block    chan struct{}
	started  chan struct{}
	generate []entity.GenerateImageRequest
	edit     []entity.EditImageRequest
}

func (b *fakeBackend) Generate(_ context.Context, req entity.GenerateImageRequest) (*entity.GenerationResponse, error) {
	if b.started != nil {
		close(b.started)
	}
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generate = append(b.generate, req)
	if b.err != nil {
		return nil, b.err
	}
	return &entity.GenerationResponse{Images: b.images, Created: 1700000000}, nil
}

func (b *fakeBackend) Edit(_ context.Context, req entity.EditImageRequest) (*entity.GenerationResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.edit = append(b.edit, req)
	if b.err != nil {
		return nil, b.err
	}
	return &entity.GenerationResponse{Images: b.images}, nil
}

type recordingDownloader struct {
	mu        sync.Mutex
	filenames []string
	err       error
}

func (d *recordingDownloader) Download(_ context.Context, _ string, filename string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filenames = append(d.filenames, filename)
	return d.err
}

func newTestGenerator(backend *fakeBackend, downloader Downloader) (*Generator, *Store) {
	store := NewStore(nil)
	g := NewGenerator(store, backend, downloader)
	g.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return g, store
}

func TestGenerateImagesUpdatesResultsAndHistory(t *testing.T) {
	backend := &fakeBackend{images: []string{"https://x/1.png", "https://x/2.png"}}
	g, store := newTestGenerator(backend, nil)
	store.Dispatch(SetNumImages{N: 2})
	store.Dispatch(SetModel{Model: "img4"})

	results, err := g.GenerateImages(context.Background(), "a red fox")
	if err != nil {
		t.Fatalf("GenerateImages: %v", err)
	}
	if len(results) != 2 || results[0].Model != "img4" || results[1].URL != "https://x/2.png" {
		t.Fatalf("unexpected results %+v", results)
	}
	req := backend.generate[0]
	if req.N != "2" || req.Model != "img4" || req.Size != DefaultSize || req.Prompt != "a red fox" {
		t.Fatalf("unexpected request %+v", req)
	}

	state := store.State()
	if state.LastPrompt != "a red fox" || len(state.History) != 1 || len(state.History[0].Images) != 2 {
		t.Fatalf("unexpected state %+v", state)
	}
	if g.Err() != "" || g.IsGenerating() {
		t.Fatalf("generator not idle after success")
	}
}

func TestHistoryLengthAfterManyGenerations(t *testing.T) {
	backend := &fakeBackend{images: []string{"https://x/1.png"}}
	g, store := newTestGenerator(backend, nil)

	for i := 0; i < MaxHistory+3; i++ {
		if _, err := g.GenerateImages(context.Background(), "prompt "+strings.Repeat("x", i)); err != nil {
			t.Fatalf("GenerateImages: %v", err)
		}
		state := store.State()
		if want := min(i+1, MaxHistory); len(state.History) != want {
			t.Fatalf("after %d generations history = %d, want %d", i+1, len(state.History), want)
		}
		if state.History[0].Prompt != "prompt "+strings.Repeat("x", i) {
			t.Fatalf("history[0] is not the most recent generation")
		}
	}
}

func TestGenerateRespectsPreferences(t *testing.T) {
	backend := &fakeBackend{images: []string{"https://x/1.png", "https://x/2.png"}}
	downloader := &recordingDownloader{err: errors.New("network down")}
	g, store := newTestGenerator(backend, downloader)
	store.SetPreferences(Preferences{AutoDownload: true, AutoSave: false})

	if _, err := g.GenerateImages(context.Background(), "a red fox"); err != nil {
		t.Fatalf("download failures must not fail generation: %v", err)
	}
	if len(store.State().History) != 0 {
		t.Fatalf("history must not be saved when autoSave is off")
	}
	if len(downloader.filenames) != 2 {
		t.Fatalf("expected two downloads, got %v", downloader.filenames)
	}
	if want := "nexus_a_red_fox_1_2024-05-01T12-00-00.000Z.png"; downloader.filenames[1] != want {
		t.Fatalf("filename = %q, want %q", downloader.filenames[1], want)
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
		prompt  string
		wantErr error
		message string
	}{
		{"空提示词", &fakeBackend{}, "   ", ErrEmptyPrompt, ""},
		{"无图片返回", &fakeBackend{}, "a fox", ErrNoImagesReturned, "No images found in API response"},
		{"服务端错误", &fakeBackend{err: &APIError{Status: 400, Message: "Prompt must be at least 3 characters"}}, "a fox", nil, "Prompt must be at least 3 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGenerator(tt.backend, nil)
			_, err := g.GenerateImages(context.Background(), tt.prompt)
			if err == nil {
				t.Fatalf("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if g.Err() != tt.message {
				t.Fatalf("Err() = %q, want %q", g.Err(), tt.message)
			}
		})
	}
}

func TestConcurrentGenerationIsRejected(t *testing.T) {
	backend := &fakeBackend{images: []string{"https://x/1.png"}, block: make(chan struct{}), started: make(chan struct{})}
	g, _ := newTestGenerator(backend, nil)

	done := make(chan error, 1)
	go func() {
		_, err := g.GenerateImages(context.Background(), "first")
		done <- err
	}()
	<-backend.started

	if _, err := g.GenerateImages(context.Background(), "second"); !errors.Is(err, ErrGenerationInProgress) {
		t.Fatalf("expected in-progress error, got %v", err)
	}
	close(backend.block)
	if err := <-done; err != nil {
		t.Fatalf("first generation: %v", err)
	}
	if len(backend.generate) != 1 {
		t.Fatalf("second request reached the backend")
	}
}

func TestEditImageWithPrompt(t *testing.T) {
	backend := &fakeBackend{images: []string{"https://x/edited.png"}}
	g, store := newTestGenerator(backend, nil)

	if _, err := g.EditImageWithPrompt(context.Background(), "make it blue"); !errors.Is(err, ErrNoImageSelected) {
		t.Fatalf("expected ErrNoImageSelected, got %v", err)
	}
	if g.Err() != ErrNoImageSelected.Error() {
		t.Fatalf("Err() = %q", g.Err())
	}

	path := filepath.Join(t.TempDir(), "cat.png")
	if err := os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n0000"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := g.SelectImage(path); err != nil {
		t.Fatalf("SelectImage: %v", err)
	}
	if g.Mode() != ModeImage {
		t.Fatalf("selecting an image must switch to image mode")
	}

	results, err := g.EditImageWithPrompt(context.Background(), "make it blue")
	if err != nil {
		t.Fatalf("EditImageWithPrompt: %v", err)
	}
	if !results[0].IsEdit || !store.State().History[0].IsEdit {
		t.Fatalf("edit results must be marked")
	}
	req := backend.edit[0]
	if req.Filename != "cat.png" || req.ContentType != "image/png" {
		t.Fatalf("unexpected edit request %+v", req)
	}
	if g.Err() != "" {
		t.Fatalf("error not cleared after success")
	}
}

func TestGeneratorToggleFavoriteAndMode(t *testing.T) {
	g, store := newTestGenerator(&fakeBackend{}, nil)
	g.ToggleFavorite("img-1")
	g.ToggleFavorite("img-1")
	if len(store.State().Favorites) != 0 {
		t.Fatalf("favorites not restored")
	}
	g.SetMode("bogus")
	if g.Mode() != ModeText {
		t.Fatalf("unknown modes fall back to text")
	}
}

func TestFileDownloaderDataURL(t *testing.T) {
	dir := t.TempDir()
	d := NewFileDownloader(dir)
	// 1x1 PNG
	dataURL := "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="
	if err := d.Download(context.Background(), dataURL, "one.png"); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "one.png")); err != nil {
		t.Fatalf("file not written: %v", err)
	}
}
