package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	HTTPPort    string `env:"PORT" envDefault:"5000"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	CORSOrigin  string `env:"CORS_ORIGIN" envDefault:"*"`
	StaticDir   string `env:"STATIC_DIR" envDefault:""`

	// 图像生成服务
	ProviderAPIKey  string        `env:"INFIP_API_KEY" envDefault:""`
	ProviderBaseURL string        `env:"INFIP_BASE_URL" envDefault:"https://api.infip.pro"`
	GenerateTimeout time.Duration `env:"GENERATE_TIMEOUT" envDefault:"30s"`
	EditTimeout     time.Duration `env:"EDIT_TIMEOUT" envDefault:"60s"`
	MaxUploadBytes  int64         `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`

	DefaultModel    string   `env:"DEFAULT_MODEL" envDefault:"img4"`
	DefaultSize     string   `env:"DEFAULT_SIZE" envDefault:"1024x1024"`
	SupportedModels []string `env:"SUPPORTED_MODELS" envSeparator:"," envDefault:"img3,img4,qwen,uncen"`
	EditModels      []string `env:"EDIT_MODELS" envSeparator:"," envDefault:"img3,img4"`
	SupportedSizes  []string `env:"SUPPORTED_SIZES" envSeparator:"," envDefault:"1024x1024,1792x1024,1024x1792"`

	// 限流
	RateLimitWindow           time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"15m"`
	RateLimitMax              int64         `env:"RATE_LIMIT_MAX" envDefault:"100"`
	AuthRateLimitWindow       time.Duration `env:"AUTH_RATE_LIMIT_WINDOW" envDefault:"15m"`
	AuthRateLimitMax          int64         `env:"AUTH_RATE_LIMIT_MAX" envDefault:"10"`
	GenerationRateLimitWindow time.Duration `env:"GENERATION_RATE_LIMIT_WINDOW" envDefault:"1h"`
	GenerationRateLimitMax    int64         `env:"GENERATION_RATE_LIMIT_MAX" envDefault:"50"`
	RateLimitStore            string        `env:"RATE_LIMIT_STORE" envDefault:"memory"`
	RedisURL                  string        `env:"REDIS_URL" envDefault:""`

	DBType     string `env:"DB_TYPE" envDefault:"sqlite"`
	DSNURL     string `env:"DSN_URL" envDefault:""`
	DBUser     string `env:"DB_USER" envDefault:""`
	DBPassword string `env:"DB_PASSWORD" envDefault:""`
	DBAddr     string `env:"DB_HOST" envDefault:""`
	DBName     string `env:"DB_NAME" envDefault:"nexus"`
	DBPath     string `env:"DB_PATH" envDefault:"datas/nexus.db"`
	DBPort     string `env:"DB_PORT" envDefault:"3306"`

	// 生成结果转存
	MirrorImages         bool   `env:"MIRROR_IMAGES" envDefault:"false"`
	StorageType          string `env:"STORAGE_TYPE" envDefault:"local"`
	StorageLocalDir      string `env:"STORAGE_LOCAL_DIR" envDefault:"datas/images"`
	StoragePublicBaseURL string `env:"STORAGE_PUBLIC_BASE_URL" envDefault:"/files"`

	// S3 兼容存储配置
	StorageS3Region          string `env:"STORAGE_S3_REGION"`
	StorageS3Bucket          string `env:"STORAGE_S3_BUCKET"`
	StorageS3Prefix          string `env:"STORAGE_S3_PREFIX"`
	StorageS3Endpoint        string `env:"STORAGE_S3_ENDPOINT"`
	StorageS3AccessKeyID     string `env:"STORAGE_S3_ACCESS_KEY_ID"`
	StorageS3SecretAccessKey string `env:"STORAGE_S3_SECRET_ACCESS_KEY"`
	StorageS3SessionToken    string `env:"STORAGE_S3_SESSION_TOKEN"`
	StorageS3ForcePathStyle  bool   `env:"STORAGE_S3_FORCE_PATH_STYLE" envDefault:"false"`

	// 阿里云 OSS 存储配置
	StorageOSSEndpoint        string `env:"STORAGE_OSS_ENDPOINT"`
	StorageOSSBucket          string `env:"STORAGE_OSS_BUCKET"`
	StorageOSSPrefix          string `env:"STORAGE_OSS_PREFIX"`
	StorageOSSAccessKeyID     string `env:"STORAGE_OSS_ACCESS_KEY_ID"`
	StorageOSSAccessKeySecret string `env:"STORAGE_OSS_ACCESS_KEY_SECRET"`

	// 腾讯云 COS 存储配置
	StorageCOSBucketURL string `env:"STORAGE_COS_BUCKET_URL"`
	StorageCOSPrefix    string `env:"STORAGE_COS_PREFIX"`
	StorageCOSSecretID  string `env:"STORAGE_COS_SECRET_ID"`
	StorageCOSSecretKey string `env:"STORAGE_COS_SECRET_KEY"`

	// Cloudflare R2 存储配置
	StorageR2AccountID       string `env:"STORAGE_R2_ACCOUNT_ID"`
	StorageR2Endpoint        string `env:"STORAGE_R2_ENDPOINT"`
	StorageR2Region          string `env:"STORAGE_R2_REGION" envDefault:"auto"`
	StorageR2Bucket          string `env:"STORAGE_R2_BUCKET"`
	StorageR2Prefix          string `env:"STORAGE_R2_PREFIX"`
	StorageR2AccessKeyID     string `env:"STORAGE_R2_ACCESS_KEY_ID"`
	StorageR2SecretAccessKey string `env:"STORAGE_R2_SECRET_ACCESS_KEY"`

	JWTSecret            string `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	JWTIssuer            string `env:"JWT_ISSUER" envDefault:"nexus-image-gen"`
	JWTExpirationMinutes int    `env:"JWT_EXPIRATION_MINUTES" envDefault:"10080"`
}

// ParseConfig 读取 .env（可选）与环境变量，只在进程启动时调用一次
func ParseConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("no .env file loaded")
	}
	var conf Config
	if err := env.Parse(&conf); err != nil {
		logrus.WithError(err).Error("env.Parse error")
		return Config{}, err
	}
	conf.normalize()
	if err := conf.Validate(); err != nil {
		return Config{}, err
	}
	return conf, nil
}

// Default returns the configuration with every envDefault applied and no environment lookups.
func Default() Config {
	var conf Config
	_ = env.ParseWithOptions(&conf, env.Options{Environment: map[string]string{}})
	conf.normalize()
	return conf
}

func (c *Config) normalize() {
	c.SupportedModels = trimAll(c.SupportedModels)
	c.EditModels = trimAll(c.EditModels)
	c.SupportedSizes = trimAll(c.SupportedSizes)
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	c.DBType = strings.ToLower(strings.TrimSpace(c.DBType))
}

func (c Config) Validate() error {
	if len(c.SupportedModels) == 0 {
		return fmt.Errorf("SUPPORTED_MODELS must not be empty")
	}
	if len(c.SupportedSizes) == 0 {
		return fmt.Errorf("SUPPORTED_SIZES must not be empty")
	}
	if !slices.Contains(c.SupportedModels, c.DefaultModel) {
		return fmt.Errorf("DEFAULT_MODEL %q is not a supported model", c.DefaultModel)
	}
	if !slices.Contains(c.SupportedSizes, c.DefaultSize) {
		return fmt.Errorf("DEFAULT_SIZE %q is not a supported size", c.DefaultSize)
	}
	for _, m := range c.EditModels {
		if !slices.Contains(c.SupportedModels, m) {
			return fmt.Errorf("EDIT_MODELS entry %q is not a supported model", m)
		}
	}
	if c.GenerateTimeout <= 0 || c.EditTimeout <= 0 {
		return fmt.Errorf("provider timeouts must be positive")
	}
	if c.RateLimitMax <= 0 || c.AuthRateLimitMax <= 0 || c.GenerationRateLimitMax <= 0 {
		return fmt.Errorf("rate limit ceilings must be positive")
	}
	if c.RateLimitWindow <= 0 || c.AuthRateLimitWindow <= 0 || c.GenerationRateLimitWindow <= 0 {
		return fmt.Errorf("rate limit windows must be positive")
	}
	return nil
}

func (c Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

func (c Config) SupportsModel(model string) bool {
	return slices.Contains(c.SupportedModels, model)
}

func (c Config) SupportsEditModel(model string) bool {
	return slices.Contains(c.EditModels, model)
}

func (c Config) SupportsSize(size string) bool {
	return slices.Contains(c.SupportedSizes, size)
}

func (c Config) LogrusLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
