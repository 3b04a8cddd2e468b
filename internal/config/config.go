package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Kafka    KafkaConfig
	Minio    MinioConfig
	Chat     ChatConfig
	Upload   UploadConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	Host    string
	Port    string
	DB      int
	Enabled bool
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Enabled bool
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Enabled   bool
}

// ChatConfig 聊天编排相关配置
type ChatConfig struct {
	// 标题生成的最大等待时间（秒），超时后连接直接关闭
	TitleTimeoutSeconds int
	// 上游流式请求的空闲超时（秒）
	StreamTimeoutSeconds int
	// 工具调用单次请求超时（秒）
	ToolTimeoutSeconds int
}

type UploadConfig struct {
	MaxAttachmentBytes int64
	MaxAttachments     int
}

var AppConfig *Config

// LoadConfig 从环境变量和配置文件加载配置
func LoadConfig() error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// 环境变量覆盖，例如 CHATSPACE_DATABASE_URL
	v.SetEnvPrefix("CHATSPACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 默认值
	v.SetDefault("server.port", "8001")
	v.SetDefault("server.env", "development")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "chat-usage-events")
	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.bucket", "chat-attachments")
	v.SetDefault("chat.title_timeout_seconds", 10)
	v.SetDefault("chat.stream_timeout_seconds", 300)
	v.SetDefault("chat.tool_timeout_seconds", 30)
	v.SetDefault("upload.max_attachment_bytes", 20*1024*1024)
	v.SetDefault("upload.max_attachments", 10)

	// 配置文件可选，找不到时仅依赖环境变量和默认值
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("server.port"),
			Env:  v.GetString("server.env"),
		},
		Database: DatabaseConfig{
			URL: v.GetString("database.url"),
		},
		Redis: RedisConfig{
			Host:    v.GetString("redis.host"),
			Port:    v.GetString("redis.port"),
			DB:      v.GetInt("redis.db"),
			Enabled: v.GetBool("redis.enabled"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
			Issuer: v.GetString("jwt.issuer"),
		},
		Kafka: KafkaConfig{
			Brokers: v.GetStringSlice("kafka.brokers"),
			Topic:   v.GetString("kafka.topic"),
			Enabled: v.GetBool("kafka.enabled"),
		},
		Minio: MinioConfig{
			Endpoint:  v.GetString("minio.endpoint"),
			AccessKey: v.GetString("minio.access_key"),
			SecretKey: v.GetString("minio.secret_key"),
			Bucket:    v.GetString("minio.bucket"),
			UseSSL:    v.GetBool("minio.use_ssl"),
			Enabled:   v.GetBool("minio.enabled"),
		},
		Chat: ChatConfig{
			TitleTimeoutSeconds:  v.GetInt("chat.title_timeout_seconds"),
			StreamTimeoutSeconds: v.GetInt("chat.stream_timeout_seconds"),
			ToolTimeoutSeconds:   v.GetInt("chat.tool_timeout_seconds"),
		},
		Upload: UploadConfig{
			MaxAttachmentBytes: v.GetInt64("upload.max_attachment_bytes"),
			MaxAttachments:     v.GetInt("upload.max_attachments"),
		},
	}

	// DATABASE_URL 环境变量兼容（部署平台常用）
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url 未配置")
	}

	AppConfig = cfg
	return nil
}

// GetAppConfig 获取全局配置
func GetAppConfig() *Config {
	return AppConfig
}
