// Package config 提供 TOML 配置加载、环境变量覆盖与校验
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/wyfcoding/unionfinance/pkg/logger"
)

// Config 服务配置
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name" validate:"required"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment" validate:"oneof=dev staging prod"`

	HTTP           HTTPConfig           `mapstructure:"http"`
	GRPC           GRPCConfig           `mapstructure:"grpc"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	Logger         logger.Config        `mapstructure:"logger"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	RateLimit      RateLimitConfig      `mapstructure:"ratelimit"`
	Dues           DuesConfig           `mapstructure:"dues"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Forecast       ForecastConfig       `mapstructure:"forecast"`
	Alerts         AlertsConfig         `mapstructure:"alerts"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
	// 读写超时（秒）
	ReadTimeout  int `mapstructure:"read_timeout" validate:"min=1"`
	WriteTimeout int `mapstructure:"write_timeout" validate:"min=1"`
}

// Addr 监听地址
func (c HTTPConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// GRPCConfig gRPC 服务配置
type GRPCConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port" validate:"min=1,max=65535"`
}

// Addr 监听地址
func (c GRPCConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// DatabaseConfig 数据库配置，driver=memory 时使用内存仓储
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver" validate:"oneof=mysql postgres memory"`
	DSN             string `mapstructure:"dsn" validate:"required_unless=Driver memory"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	// 慢查询阈值（毫秒）
	SlowQueryThreshold int  `mapstructure:"slow_query_threshold"`
	AutoMigrate        bool `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Addr        string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password    string `mapstructure:"password"`
	DB          int    `mapstructure:"db"`
	PoolSize    int    `mapstructure:"pool_size"`
	DialTimeout int    `mapstructure:"dial_timeout"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	GroupID string   `mapstructure:"group_id"`
	// 主题
	ReconciledTopic string `mapstructure:"reconciled_topic"`
	SubmittedTopic  string `mapstructure:"submitted_topic"`
	AlertTopic      string `mapstructure:"alert_topic"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// RateLimitConfig 限流配置，作用于汇款上传
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	QPS     int  `mapstructure:"qps" validate:"min=1"`
	Burst   int  `mapstructure:"burst" validate:"min=1"`
}

// DuesConfig 会费计算配置
type DuesConfig struct {
	// 批量计算并发数，0 表示 CPU 核数
	Workers int `mapstructure:"workers" validate:"min=0"`
	// 规则缓存有效期（秒）
	RuleCacheTTL int `mapstructure:"rule_cache_ttl" validate:"min=0"`
}

// ReconciliationConfig 对账配置
type ReconciliationConfig struct {
	AutoMatch bool   `mapstructure:"auto_match"`
	Tolerance string `mapstructure:"tolerance" validate:"required,numeric"`
	// 分布式锁有效期（秒）
	LockTTL int `mapstructure:"lock_ttl" validate:"min=1"`
}

// ForecastConfig 罢工基金预测配置
type ForecastConfig struct {
	WindowDays             int     `mapstructure:"window_days" validate:"min=1"`
	MinHistoryDays         int     `mapstructure:"min_history_days" validate:"min=1"`
	DefaultForecastDays    int     `mapstructure:"default_forecast_days" validate:"min=1,max=3650"`
	OptimisticMultiplier   float64 `mapstructure:"optimistic_multiplier" validate:"gt=0"`
	PessimisticMultiplier  float64 `mapstructure:"pessimistic_multiplier" validate:"gt=0"`
	SeasonalityThreshold   float64 `mapstructure:"seasonality_threshold" validate:"gt=0"`
	GapRatioThreshold      float64 `mapstructure:"gap_ratio_threshold" validate:"gte=0,lte=1"`
	CriticalDays           int     `mapstructure:"critical_days" validate:"min=1"`
	WarningDays            int     `mapstructure:"warning_days" validate:"gtfield=CriticalDays"`
	MaxConcurrentForecasts int     `mapstructure:"max_concurrent_forecasts" validate:"min=1"`
}

// AlertsConfig 自动告警调度
type AlertsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// 执行间隔（分钟）
	IntervalMinutes int `mapstructure:"interval_minutes" validate:"min=1"`
}

// Interval 执行间隔
func (c AlertsConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// Load 加载配置：默认值 < TOML 文件 < APP_ 前缀环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "unionfinance")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.slow_query_threshold", 1000)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "unionfinance")
	v.SetDefault("kafka.reconciled_topic", "remittance.reconciled")
	v.SetDefault("kafka.submitted_topic", "remittance.submitted")
	v.SetDefault("kafka.alert_topic", "strikefund.alerts")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/unionfinance.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.qps", 5)
	v.SetDefault("ratelimit.burst", 10)

	v.SetDefault("dues.workers", 0)
	v.SetDefault("dues.rule_cache_ttl", 300)

	v.SetDefault("reconciliation.auto_match", false)
	v.SetDefault("reconciliation.tolerance", "0.01")
	v.SetDefault("reconciliation.lock_ttl", 30)

	v.SetDefault("forecast.window_days", 90)
	v.SetDefault("forecast.min_history_days", 14)
	v.SetDefault("forecast.default_forecast_days", 180)
	v.SetDefault("forecast.optimistic_multiplier", 0.75)
	v.SetDefault("forecast.pessimistic_multiplier", 1.25)
	v.SetDefault("forecast.seasonality_threshold", 1.5)
	v.SetDefault("forecast.gap_ratio_threshold", 0.2)
	v.SetDefault("forecast.critical_days", 30)
	v.SetDefault("forecast.warning_days", 60)
	v.SetDefault("forecast.max_concurrent_forecasts", 8)

	v.SetDefault("alerts.enabled", false)
	v.SetDefault("alerts.interval_minutes", 60)
}

// GetEnv 获取环境变量，支持默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
