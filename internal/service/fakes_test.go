package service

import (
	"context"
	"nexus/internal/entity"
	"nexus/internal/llm"
	"nexus/internal/storage"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
)

type fakeGenerator struct {
	result      *entity.GenerationResult
	err         error
	generateReq []llm.GenerateRequest
	editReq     []llm.EditRequest
}

func (f *fakeGenerator) Generate(_ context.Context, req llm.GenerateRequest) (*entity.GenerationResult, error) {
	f.generateReq = append(f.generateReq, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeGenerator) Edit(_ context.Context, req llm.EditRequest) (*entity.GenerationResult, error) {
	f.editReq = append(f.editReq, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakeRepo 内存实现，只覆盖服务层用到的行为
type fakeRepo struct {
	mu            sync.Mutex
	images        map[uint]*entity.DbImage
	nextID        uint
	createErr     error
	deleteUserErr error
	generations   map[uint]int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{images: make(map[uint]*entity.DbImage), generations: make(map[uint]int)}
}

func (r *fakeRepo) CreateUser(context.Context, *entity.DbUser) error { return nil }
func (r *fakeRepo) UpdateUser(context.Context, uint, entity.UserUpdates) error {
	return nil
}
func (r *fakeRepo) GetUserByEmail(context.Context, string) (*entity.DbUser, error) {
	return nil, gorm.ErrRecordNotFound
}
func (r *fakeRepo) GetUserByID(context.Context, uint) (*entity.DbUser, error) {
	return nil, gorm.ErrRecordNotFound
}
func (r *fakeRepo) FindUserConflict(context.Context, string, string, uint) (*entity.DbUser, error) {
	return nil, gorm.ErrRecordNotFound
}
func (r *fakeRepo) ListUsers(context.Context, *entity.UserQuery) ([]entity.DbUser, *entity.Meta, error) {
	return nil, &entity.Meta{}, nil
}
func (r *fakeRepo) DeleteUser(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteUserErr != nil {
		return r.deleteUserErr
	}
	for imageID, image := range r.images {
		if image.UserID == id {
			delete(r.images, imageID)
		}
	}
	return nil
}

func (r *fakeRepo) RecordGeneration(_ context.Context, userID uint, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generations[userID]++
	return nil
}

func (r *fakeRepo) CreateImage(_ context.Context, image *entity.DbImage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.nextID++
	image.ID = r.nextID
	image.CreatedAt = time.Now().Add(time.Duration(r.nextID) * time.Millisecond)
	image.ImageCount = len(image.URLs)
	copied := *image
	r.images[image.ID] = &copied
	return nil
}

func (r *fakeRepo) GetImage(_ context.Context, id uint) (*entity.DbImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	image, ok := r.images[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *image
	return &copied, nil
}

func (r *fakeRepo) UpdateImage(_ context.Context, id uint, updates entity.ImageUpdates) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	image, ok := r.images[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if updates.IsFavorite != nil {
		image.IsFavorite = *updates.IsFavorite
	}
	if updates.Tags != nil {
		image.Tags = *updates.Tags
	}
	if updates.StoredPaths != nil {
		image.StoredPaths = *updates.StoredPaths
	}
	if updates.SourceImagePath != nil {
		image.SourceImagePath = *updates.SourceImagePath
	}
	return nil
}

func (r *fakeRepo) DeleteImage(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.images[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(r.images, id)
	return nil
}

func (r *fakeRepo) ListImages(_ context.Context, q *entity.ImageQuery) ([]entity.DbImage, *entity.Meta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.DbImage
	for _, image := range r.images {
		if image.UserID != q.UserID {
			continue
		}
		if q.FavoritesOnly && !image.IsFavorite {
			continue
		}
		if q.Search != "" && !strings.Contains(strings.ToLower(image.Prompt), strings.ToLower(q.Search)) {
			continue
		}
		out = append(out, *image)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.PageSize > 0 && int64(len(out)) > q.PageSize {
		out = out[:q.PageSize]
	}
	return out, &entity.Meta{Page: 1, PageSize: q.PageSize, Total: int64(len(out))}, nil
}

func (r *fakeRepo) ImageStats(_ context.Context, userID uint) (*entity.ImageStats, error) {
	stats := &entity.ImageStats{ModelDistribution: map[string]int64{}}
	for _, image := range r.images {
		if image.UserID != userID {
			continue
		}
		stats.TotalPrompts++
		stats.TotalImages += int64(len(image.URLs))
		stats.ModelDistribution[image.Model]++
	}
	return stats, nil
}

type fakeStorage struct {
	mu      sync.Mutex
	saved   map[string][]byte
	deleted []string
	saveErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{saved: make(map[string][]byte)}
}

func (s *fakeStorage) Save(_ context.Context, data []byte, opts storage.SaveOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return "", s.saveErr
	}
	key := opts.Category + "/" + opts.BaseName + "." + opts.Extension
	if _, exists := s.saved[key]; exists && opts.SkipIfExists {
		return key, nil
	}
	s.saved[key] = append([]byte(nil), data...)
	return key, nil
}

func (s *fakeStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, key)
	s.deleted = append(s.deleted, key)
	return nil
}
