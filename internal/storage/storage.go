package storage

import (
	"context"
	"fmt"
	"nexus/internal/config"
	"sort"
	"strings"
)

// 图片转存的对象分类
const (
	CategoryOutputs = "outputs"
	// CategoryInputs 存放编辑请求上传的原图，按内容哈希去重
	CategoryInputs = "inputs"
)

// SaveOptions 控制一次转存。
//
// BaseName 为空时使用时间戳；SkipIfExists 为 true 时对象键不带日期目录，
// 同一 BaseName 只写一次。Extension 可带或不带前导点。
type SaveOptions struct {
	Category     string
	Extension    string
	BaseName     string
	SkipIfExists bool
}

// Storage 保存生成图片的副本并返回对象键（本地存储为相对路径）。
type Storage interface {
	Save(ctx context.Context, data []byte, opts SaveOptions) (string, error)
	Delete(ctx context.Context, key string) error
}

// LocalBaseDirProvider is implemented by backends whose files can be served
// straight from disk under /files.
type LocalBaseDirProvider interface {
	LocalBaseDir() string
}

type factory func(cfg config.Config) (Storage, error)

var backends = map[string]factory{
	"local": newLocal,
	"s3":    NewS3Storage,
	"r2":    NewR2Storage,
	"oss":   NewOSSStorage,
	"cos":   NewCOSStorage,
}

func newLocal(cfg config.Config) (Storage, error) {
	store, err := NewLocalStorage(cfg.StorageLocalDir)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewStorage 按 STORAGE_TYPE 创建存储后端，空值视为 local
func NewStorage(cfg config.Config) (Storage, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.StorageType))
	if name == "" {
		name = "local"
	}
	create, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("unsupported storage type %q (expected one of %s)", cfg.StorageType, strings.Join(backendNames(), ", "))
	}
	return create(cfg)
}

func backendNames() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// required 返回第一个为空的配置项名称
func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return fmt.Errorf("storage: %s is required", pairs[i])
		}
	}
	return nil
}
