package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar 指定 YAML 配置文件路径。
const ConfigPathEnvVar = "NEWSRELAY_CONFIG"

// envPrefix 为结构化环境变量前缀，双下划线表示层级：NEWSRELAY_GATEWAY__WRITE_TIMEOUT。
const envPrefix = "NEWSRELAY_"

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Upload    UploadConfig    `koanf:"upload"`
	AI        AIConfig        `koanf:"ai"`
	Gateway   GatewayConfig   `koanf:"gateway"`
	Jobs      JobsConfig      `koanf:"jobs"`
	Lock      LockConfig      `koanf:"lock"`
	Log       LogConfig       `koanf:"log"`
	SuperRoot SuperRootConfig `koanf:"super_root"`
}

// ServerConfig 为 HTTP 服务配置。
type ServerConfig struct {
	ListenAddr    string `koanf:"listen_addr" validate:"required"`
	SessionSecret string `koanf:"session_secret" validate:"required,min=8"`
	GinMode       string `koanf:"gin_mode" validate:"oneof=debug release test"`
	Environment   string `koanf:"environment" validate:"oneof=development production test"`
}

// DatabaseConfig 选择数据库驱动与连接串。
type DatabaseConfig struct {
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `koanf:"dsn" validate:"required"`
}

// UploadConfig 为站点专属配图的存放位置。
type UploadConfig struct {
	Dir     string `koanf:"dir" validate:"required"`
	URLPath string `koanf:"url_path" validate:"required"`
	MaxSize int64  `koanf:"max_size" validate:"gt=0"`
}

// AIConfig 为改写服务的默认值，数据库中的系统设置优先。
type AIConfig struct {
	Provider       string        `koanf:"provider" validate:"oneof=openai deepseek"`
	OpenAIAPIKey   string        `koanf:"openai_api_key"`
	DeepSeekAPIKey string        `koanf:"deepseek_api_key"`
	OpenAIBaseURL  string        `koanf:"openai_base_url" validate:"omitempty,url"`
	DeepSeekURL    string        `koanf:"deepseek_base_url" validate:"omitempty,url"`
	Model          string        `koanf:"model"`
	Timeout        time.Duration `koanf:"timeout" validate:"gt=0"`
	RequestsPerMin int           `koanf:"requests_per_minute" validate:"gte=0"`
}

// GatewayConfig 控制访问站点接口的超时、限流与熔断。
type GatewayConfig struct {
	WriteTimeout      time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ReadTimeout       time.Duration `koanf:"read_timeout" validate:"gt=0"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gte=0"`
	Burst             int           `koanf:"burst" validate:"gte=1"`
	BreakerFailures   uint32        `koanf:"breaker_failures" validate:"gte=1"`
	BreakerTimeout    time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// JobsConfig 为后台发布任务的工作池配置。
type JobsConfig struct {
	Workers   int `koanf:"workers" validate:"gte=1,lte=64"`
	QueueSize int `koanf:"queue_size" validate:"gte=1"`
}

// LockConfig 选择 (稿件, 站点) 粒度的互斥实现。
type LockConfig struct {
	Backend   string        `koanf:"backend" validate:"oneof=local redis"`
	RedisAddr string        `koanf:"redis_addr" validate:"required_if=Backend redis"`
	TTL       time.Duration `koanf:"ttl" validate:"gt=0"`
}

// LogConfig 为 zerolog 的输出配置。
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// SuperRootConfig 为启动时确保存在的管理员账号。
type SuperRootConfig struct {
	UserName string `koanf:"user_name"`
	Password string `koanf:"password"`
}

func defaultConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			ListenAddr:    ":8080",
			SessionSecret: "newsrelay-dev-secret",
			GinMode:       "release",
			Environment:   "development",
		},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "newsrelay.db"},
		Upload: UploadConfig{
			Dir:     "web/static/uploads",
			URLPath: "/static/uploads",
			MaxSize: 10 << 20,
		},
		AI: AIConfig{
			Provider:       "openai",
			Timeout:        180 * time.Second,
			RequestsPerMin: 60,
		},
		Gateway: GatewayConfig{
			WriteTimeout:      90 * time.Second,
			ReadTimeout:       60 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
			BreakerFailures:   5,
			BreakerTimeout:    30 * time.Second,
		},
		Jobs: JobsConfig{Workers: 4, QueueSize: 256},
		Lock: LockConfig{Backend: "local", TTL: 5 * time.Minute},
		Log:  LogConfig{Level: "info", Format: "json"},
	}
}

// legacyEnv 保留早期部署使用的环境变量名。
var legacyEnv = map[string]string{
	"listen_addr":          "server.listen_addr",
	"session_secret":       "server.session_secret",
	"gin_mode":             "server.gin_mode",
	"app_env":              "server.environment",
	"database_driver":      "database.driver",
	"database_path":        "database.dsn",
	"database_url":         "database.dsn",
	"upload_dir":           "upload.dir",
	"upload_url_path":      "upload.url_path",
	"openai_api_key":       "ai.openai_api_key",
	"deepseek_api_key":     "ai.deepseek_api_key",
	"redis_addr":           "lock.redis_addr",
	"log_level":            "log.level",
	"log_format":           "log.format",
	"super_root_user_name": "super_root.user_name",
	"super_root_password":  "super_root.password",
}

func envTransformFunc(key string) string {
	lower := strings.ToLower(key)
	if strings.HasPrefix(lower, strings.ToLower(envPrefix)) {
		trimmed := strings.TrimPrefix(lower, strings.ToLower(envPrefix))
		if trimmed == "config" {
			return ""
		}
		return strings.ReplaceAll(trimmed, "__", ".")
	}
	if mapped, ok := legacyEnv[lower]; ok {
		return mapped
	}
	return ""
}

// Load 依次叠加默认值、YAML 文件与环境变量，并做校验。
// 非生产环境会先加载当前目录下的 .env。
func Load() (AppConfig, error) {
	if !strings.EqualFold(os.Getenv("APP_ENV"), "production") {
		_ = godotenv.Load()
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return AppConfig{}, fmt.Errorf("load defaults: %w", err)
	}

	if path := strings.TrimSpace(os.Getenv(ConfigPathEnvVar)); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return AppConfig{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return AppConfig{}, fmt.Errorf("load environment: %w", err)
	}

	// PORT 仅在未显式设置监听地址时生效
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" && os.Getenv("LISTEN_ADDR") == "" && os.Getenv(envPrefix+"SERVER__LISTEN_ADDR") == "" {
		if err := k.Set("server.listen_addr", ":"+port); err != nil {
			return AppConfig{}, err
		}
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate 检查配置取值是否合法。
func (c AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// IsProduction 表示是否运行在生产环境。
func (c AppConfig) IsProduction() bool {
	return c.Server.Environment == "production"
}
