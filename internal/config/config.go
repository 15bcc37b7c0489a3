// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// 全局配置变量，main 启动时通过 Init 填充。
var Conf Config

// Config 与 configs/config.yaml 的结构一一对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Guard         GuardConfig         `mapstructure:"guard"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Validator     ValidatorConfig     `mapstructure:"validator"`
	Classifier    ClassifierConfig    `mapstructure:"classifier"`
	Context       ContextConfig       `mapstructure:"context"`
	RAG           RAGConfig           `mapstructure:"rag"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	History       HistoryConfig       `mapstructure:"history"`
	Analytics     AnalyticsConfig     `mapstructure:"analytics"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port" validate:"required"`
	Mode string `mapstructure:"mode" validate:"oneof=debug release test"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN          string `mapstructure:"dsn" validate:"required"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// RedisConfig 存储 Redis 的配置，仅在 rate_limit.backend=redis 时使用。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 只包含校验所需的密钥，签发由外部认证服务负责。
type JWTConfig struct {
	Secret string `mapstructure:"secret" validate:"required"`
}

// GuardConfig 控制请求守卫的负载上限与订阅校验。
type GuardConfig struct {
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" validate:"gt=0"`
	// SkipEntitlement 为运维兜底开关，打开后不再检查订阅。
	SkipEntitlement bool `mapstructure:"skip_entitlement"`
}

// RateLimitConfig 固定窗口限流配置。
type RateLimitConfig struct {
	Backend       string `mapstructure:"backend" validate:"oneof=memory redis"`
	MaxRequests   int    `mapstructure:"max_requests" validate:"gt=0"`
	WindowSeconds int    `mapstructure:"window_seconds" validate:"gt=0"`
	SweepSeconds  int    `mapstructure:"sweep_seconds"`
	MaxKeys       int    `mapstructure:"max_keys"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

// Window 返回限流窗口时长。
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// ValidatorConfig 消息数组的边界。
type ValidatorConfig struct {
	MaxMessages      int `mapstructure:"max_messages" validate:"gt=0"`
	MaxContentLength int `mapstructure:"max_content_length" validate:"gt=0"`
}

// ClassifierConfig 分类器配置。mode=model 时先用小模型分类，失败再回退规则集。
type ClassifierConfig struct {
	Mode      string `mapstructure:"mode" validate:"oneof=rules model"`
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// ContextConfig 上下文组装的并发查询配置。
type ContextConfig struct {
	LookupTimeoutMs int `mapstructure:"lookup_timeout_ms" validate:"gt=0"`
	CheckInLimit    int `mapstructure:"check_in_limit"`
	DigestDays      int `mapstructure:"digest_days"`
}

// LookupTimeout 返回单个查询的超时。
func (c ContextConfig) LookupTimeout() time.Duration {
	return time.Duration(c.LookupTimeoutMs) * time.Millisecond
}

// RAGConfig 知识库检索参数。
type RAGConfig struct {
	TopK          int     `mapstructure:"top_k" validate:"gt=0"`
	MinSimilarity float64 `mapstructure:"min_similarity" validate:"gte=0,lte=1"`
	NumCandidates int     `mapstructure:"num_candidates"`
	MaxSnippetLen int     `mapstructure:"max_snippet_len"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses" validate:"required"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name" validate:"required"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url" validate:"required"`
	Model      string `mapstructure:"model" validate:"required"`
	Dimensions int    `mapstructure:"dimensions" validate:"gt=0"`
}

// ProviderConfig 描述一个可注册的大模型供应商。
type ProviderConfig struct {
	Name    string `mapstructure:"name" validate:"required"`
	Kind    string `mapstructure:"kind" validate:"oneof=openai_compatible openai"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// TierConfig 描述一个模型档位的预算。
type TierConfig struct {
	Model       string  `mapstructure:"model" validate:"required"`
	MaxTokens   int     `mapstructure:"max_tokens" validate:"gt=0"`
	TimeoutMs   int     `mapstructure:"timeout_ms" validate:"gt=0"`
	Temperature float64 `mapstructure:"temperature"`
	// SecondaryModel 为空时回退到备用供应商的同名模型。
	SecondaryModel string `mapstructure:"secondary_model"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	Providers []ProviderConfig `mapstructure:"providers" validate:"min=1,dive"`
	Primary   string           `mapstructure:"primary" validate:"required"`
	Secondary string           `mapstructure:"secondary"`
	Fast      TierConfig       `mapstructure:"fast"`
	Advanced  TierConfig       `mapstructure:"advanced"`
	Prompt    LLMPromptConfig  `mapstructure:"prompt"`
}

// LLMPromptConfig 配置系统提示与参考资料包裹格式。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

// HistoryConfig 对话持久化配置。
type HistoryConfig struct {
	DedupWindowSeconds int `mapstructure:"dedup_window_seconds" validate:"gt=0"`
	QueueSize          int `mapstructure:"queue_size"`
	Workers            int `mapstructure:"workers"`
}

// DedupWindow 返回去重窗口。
func (c HistoryConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowSeconds) * time.Second
}

// AnalyticsConfig 埋点事件配置。sink 为 kafka/log/none。
type AnalyticsConfig struct {
	Sink                string `mapstructure:"sink" validate:"oneof=kafka log none"`
	BufferSize          int    `mapstructure:"buffer_size"`
	ArchiveEnabled      bool   `mapstructure:"archive_enabled"`
	ArchiveBatchSize    int    `mapstructure:"archive_batch_size"`
	ArchiveFlushSeconds int    `mapstructure:"archive_flush_seconds"`
	ArchivePrefix       string `mapstructure:"archive_prefix"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// MinIOConfig 存储 MinIO 对象存储的配置，用于归档埋点事件。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// setDefaults 写入各项的默认值，配置文件缺省时生效。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.mysql.max_idle_conns", 10)
	v.SetDefault("database.mysql.max_open_conns", 100)
	v.SetDefault("guard.max_body_bytes", 64*1024)
	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.max_requests", 20)
	v.SetDefault("rate_limit.window_seconds", 60)
	v.SetDefault("rate_limit.sweep_seconds", 60)
	v.SetDefault("rate_limit.max_keys", 10000)
	v.SetDefault("rate_limit.key_prefix", "coach:ratelimit:")
	v.SetDefault("validator.max_messages", 50)
	v.SetDefault("validator.max_content_length", 8000)
	v.SetDefault("classifier.mode", "rules")
	v.SetDefault("classifier.timeout_ms", 3000)
	v.SetDefault("context.lookup_timeout_ms", 2500)
	v.SetDefault("context.check_in_limit", 3)
	v.SetDefault("context.digest_days", 7)
	v.SetDefault("rag.top_k", 5)
	v.SetDefault("rag.min_similarity", 0.35)
	v.SetDefault("rag.num_candidates", 100)
	v.SetDefault("rag.max_snippet_len", 1000)
	v.SetDefault("elasticsearch.index_name", "coach_knowledge")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("llm.prompt.history_limit", 20)
	v.SetDefault("history.dedup_window_seconds", 300)
	v.SetDefault("history.queue_size", 256)
	v.SetDefault("history.workers", 2)
	v.SetDefault("analytics.sink", "log")
	v.SetDefault("analytics.buffer_size", 1024)
	v.SetDefault("analytics.archive_batch_size", 500)
	v.SetDefault("analytics.archive_flush_seconds", 30)
	v.SetDefault("analytics.archive_prefix", "analytics")
	v.SetDefault("kafka.group_id", "health-coach-analytics")
}

// Load 读取并校验配置文件。环境变量 COACH_<SECTION>_<KEY> 会覆盖文件中的值。
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("COACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate 按 struct tag 校验配置，并检查跨字段约束。
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	known := make(map[string]struct{}, len(cfg.LLM.Providers))
	for _, p := range cfg.LLM.Providers {
		known[p.Name] = struct{}{}
	}
	if _, ok := known[cfg.LLM.Primary]; !ok {
		return fmt.Errorf("配置校验失败: primary provider %q 未在 llm.providers 中声明", cfg.LLM.Primary)
	}
	if cfg.LLM.Secondary != "" {
		if _, ok := known[cfg.LLM.Secondary]; !ok {
			return fmt.Errorf("配置校验失败: secondary provider %q 未在 llm.providers 中声明", cfg.LLM.Secondary)
		}
	}
	if cfg.Classifier.Mode == "model" && cfg.Classifier.Model == "" {
		return fmt.Errorf("配置校验失败: classifier.mode=model 时必须设置 classifier.model")
	}
	return nil
}

// Init 加载配置到全局 Conf，失败时直接 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
