package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	AI        AIConfig        `mapstructure:"ai"`
	Memory    MemoryConfig    `mapstructure:"memory"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Version  string `mapstructure:"version"`
	LogLevel string `mapstructure:"log_level"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// CaptureConfig 捕获收件箱配置
type CaptureConfig struct {
	InboxDir  string `mapstructure:"inbox_dir"`
	DefaultTZ string `mapstructure:"default_tz"`
	AutoQueue bool   `mapstructure:"auto_queue"`
}

// SchedulerConfig 后台调度配置
type SchedulerConfig struct {
	Workers int `mapstructure:"workers"` // 并发分析上限，0 表示不限
}

// ServerConfig 本地 API 配置
type ServerConfig struct {
	Addr string `mapstructure:"addr"` // 仅监听回环地址
}

// AIConfig AI 配置
type AIConfig struct {
	Provider   string           `mapstructure:"provider"` // 生效的提供商: deepseek / openai
	DeepSeek   ProviderConfig   `mapstructure:"deepseek"`
	OpenAI     ProviderConfig   `mapstructure:"openai"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
}

// ProviderConfig 单个提供商的配置
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// EmbeddingsConfig 嵌入服务配置（记忆检索用，OpenAI 兼容端点）
type EmbeddingsConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// MemoryConfig 长期记忆配置
type MemoryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	StoragePath string `mapstructure:"storage_path"`
}

// ActiveProvider 当前生效的提供商
func (c *AIConfig) ActiveProvider() string {
	return strings.ToLower(strings.TrimSpace(c.Provider))
}

// Model 指定提供商配置的模型（未配置返回空串，由调用方决定回退）
func (c *AIConfig) Model(provider string) string {
	switch provider {
	case "deepseek":
		return c.DeepSeek.Model
	case "openai":
		return c.OpenAI.Model
	default:
		return ""
	}
}

// APIKey 指定提供商配置的凭证
func (c *AIConfig) APIKey(provider string) string {
	switch provider {
	case "deepseek":
		return c.DeepSeek.APIKey
	case "openai":
		return c.OpenAI.APIKey
	default:
		return ""
	}
}

// Default 返回默认配置（首次启动时写盘用）
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:     "life-agent",
			Version:  "0.1.0",
			LogLevel: "info",
		},
		Storage: StorageConfig{DBPath: "./data/lifemirror.db"},
		Capture: CaptureConfig{
			InboxDir:  "./data/inbox",
			AutoQueue: true,
		},
		Scheduler: SchedulerConfig{Workers: 4},
		Server:    ServerConfig{Addr: "127.0.0.1:8921"},
		AI: AIConfig{
			Provider: "deepseek",
			DeepSeek: ProviderConfig{
				APIKey:  "${DEEPSEEK_API_KEY}",
				BaseURL: "https://api.deepseek.com",
				Model:   "deepseek-chat",
			},
			OpenAI: ProviderConfig{
				APIKey: "${OPENAI_API_KEY}",
				Model:  "gpt-4o-mini",
			},
			Embeddings: EmbeddingsConfig{
				APIKey: "${OPENAI_API_KEY}",
				Model:  "text-embedding-3-small",
			},
		},
		Memory: MemoryConfig{
			Enabled:     true,
			StoragePath: "./data/memory",
		},
	}
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 设置配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// 默认查找路径
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// 支持环境变量
	v.SetEnvPrefix("LIFEMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("配置文件未找到，使用默认配置")
		} else {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	} else {
		slog.Info("加载配置文件", "path", v.ConfigFileUsed())
	}

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// 处理环境变量占位符
	cfg.AI.DeepSeek.APIKey = expandEnv(cfg.AI.DeepSeek.APIKey)
	cfg.AI.OpenAI.APIKey = expandEnv(cfg.AI.OpenAI.APIKey)
	cfg.AI.Embeddings.APIKey = expandEnv(cfg.AI.Embeddings.APIKey)

	// 处理相对路径
	cfg.Storage.DBPath = resolvePath(cfg.Storage.DBPath)
	cfg.Capture.InboxDir = resolvePath(cfg.Capture.InboxDir)
	cfg.Memory.StoragePath = resolvePath(cfg.Memory.StoragePath)

	return &cfg, nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "life-agent")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.log_level", "info")

	// Storage
	v.SetDefault("storage.db_path", "./data/lifemirror.db")

	// Capture
	v.SetDefault("capture.inbox_dir", "./data/inbox")
	v.SetDefault("capture.auto_queue", true)

	// Scheduler
	v.SetDefault("scheduler.workers", 4)

	// Server
	v.SetDefault("server.addr", "127.0.0.1:8921")

	// AI
	v.SetDefault("ai.provider", "deepseek")
	v.SetDefault("ai.deepseek.base_url", "https://api.deepseek.com")
	v.SetDefault("ai.deepseek.model", "deepseek-chat")
	v.SetDefault("ai.openai.model", "gpt-4o-mini")
	v.SetDefault("ai.embeddings.model", "text-embedding-3-small")

	// Memory
	v.SetDefault("memory.enabled", true)
	v.SetDefault("memory.storage_path", "./data/memory")
}

// expandEnv 展开环境变量占位符 ${VAR}
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		envVar := s[2 : len(s)-1]
		return os.Getenv(envVar)
	}
	return s
}

// resolvePath 解析相对路径为绝对路径
func resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	// 获取可执行文件目录
	exe, err := os.Executable()
	if err != nil {
		return path
	}

	exeDir := filepath.Dir(exe)
	return filepath.Join(exeDir, path)
}

// SetupLogger 根据配置设置日志级别
func SetupLogger(level string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
