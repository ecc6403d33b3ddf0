package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix 是所有环境变量覆盖项的前缀。
const EnvPrefix = "SAFESWAP"

// Config 描述了 SafeSwap 守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server        ServerConfig        `json:"server"`
	Logging       LoggingConfig       `json:"logging"`
	Auth          AuthConfig          `json:"auth"`
	Storage       StorageConfig       `json:"storage"`
	TaskQueue     TaskQueueConfig     `json:"task_queue"`
	Web3          Web3Config          `json:"web3"`
	Agent         AgentConfig         `json:"agent"`
	Safe          SafeConfig          `json:"safe"`
	Swap          SwapConfig          `json:"swap"`
	Observability ObservabilityConfig `json:"observability"`
	Runtime       RuntimeConfig       `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address                string `json:"address"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds"`
}

// ShutdownTimeout 返回优雅退出的等待时间。
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// LoggingConfig 对应 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志的落盘与轮转。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// AuthConfig 描述钱包身份认证方式。
type AuthConfig struct {
	// Mode 支持 disabled 与 magic。
	Mode             string `json:"mode"`
	Audience         string `json:"audience"`
	ClockSkewSeconds int    `json:"clock_skew_seconds"`
}

// StorageConfig 统一描述 MySQL、Redis 等后端的连接信息。
type StorageConfig struct {
	Accounts  AccountStoreConfig `json:"accounts"`
	TaskStore TaskStoreConfig    `json:"task_store"`
	Locker    LockerConfig       `json:"locker"`
	MySQL     MySQLConfig        `json:"mysql"`
	Redis     RedisConfig        `json:"redis"`
}

// AccountStoreConfig 选择账户会话的持久化驱动：memory、redis 或 mysql。
type AccountStoreConfig struct {
	Driver string `json:"driver"`
}

// TaskStoreConfig 选择任务状态存储：memory 或 mysql。
type TaskStoreConfig struct {
	Driver  string `json:"driver"`
	Retries int    `json:"retries"`
}

// LockerConfig 选择用户级串行锁的实现：memory 或 redis。
type LockerConfig struct {
	Driver     string `json:"driver"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// TTL 返回锁的过期时间。
func (l LockerConfig) TTL() time.Duration {
	return time.Duration(l.TTLSeconds) * time.Second
}

// MySQLConfig 描述 MySQL 连接池参数。
type MySQLConfig struct {
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
}

// TaskQueueConfig 选择任务队列：memory、redis 或 rabbitmq。
type TaskQueueConfig struct {
	Driver   string              `json:"driver"`
	Worker   int                 `json:"worker"`
	Buffer   int                 `json:"buffer"`
	Redis    RedisQueueConfig    `json:"redis"`
	RabbitMQ RabbitMQQueueConfig `json:"rabbitmq"`
	// RetryBackoffMillis 为可重试失败重投前的基础等待，按尝试次数翻倍。
	RetryBackoffMillis int `json:"retry_backoff_millis"`
}

// RedisQueueConfig 描述基于 Redis 列表的队列。
type RedisQueueConfig struct {
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQQueueConfig 描述 RabbitMQ 队列参数。
type RabbitMQQueueConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// Web3Config 包含访问区块链节点所需的 RPC 地址与链配置文件。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	RPCURL       string `json:"rpc_url"`
	ChainID      int64  `json:"chain_id"`
}

// AgentConfig 描述代理签名账户，它是每个 Safe 的第一个所有者。
type AgentConfig struct {
	PrivateKey string `json:"private_key"`
	Address    string `json:"address"`
}

// SafeConfig 控制 Safe 账户的预测参数。
type SafeConfig struct {
	// SaltMode 支持 deterministic（默认）与 random。
	SaltMode string `json:"salt_mode"`
	// L2 为 true 时使用 SafeL2 单例合约。
	L2 bool `json:"l2"`
}

// SwapConfig 描述固定方向的卖单参数。
type SwapConfig struct {
	OrderbookURL      string  `json:"orderbook_url"`
	AppCode           string  `json:"app_code"`
	SellToken         string  `json:"sell_token"`
	SellTokenDecimals int     `json:"sell_token_decimals"`
	BuyToken          string  `json:"buy_token"`
	BuyTokenDecimals  int     `json:"buy_token_decimals"`
	Amount            string  `json:"amount"`
	SlippageBps       int     `json:"slippage_bps"`
	ValidForSeconds   int     `json:"valid_for_seconds"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
}

// Timeout 返回订单接口的请求超时时间。
func (s SwapConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// ObservabilityConfig 汇总指标与告警配置。
type ObservabilityConfig struct {
	Metrics  MetricsConfig  `json:"metrics"`
	Alerting AlertingConfig `json:"alerting"`
}

// MetricsConfig 控制 Prometheus 指标暴露。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// AlertingConfig 描述告警通知渠道。
type AlertingConfig struct {
	WebhookURL     string `json:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
	EnvFile string `json:"env_file"`
}

// envOverrides 列出允许通过环境变量覆盖的字段，按原值读取，只做存在性判断。
type envOverrides struct {
	RPCURL          string `envconfig:"RPC_URL"`
	ChainID         int64  `envconfig:"CHAIN_ID"`
	AgentPrivateKey string `envconfig:"AGENT_PRIVATE_KEY"`
	AgentAddress    string `envconfig:"AGENT_ADDRESS"`
	OrderbookURL    string `envconfig:"ORDERBOOK_URL"`
	SwapAmount      string `envconfig:"INPUT_AMOUNT"`
	AuthMode        string `envconfig:"AUTH_MODE"`
	MagicAudience   string `envconfig:"MAGIC_AUDIENCE"`
	MySQLDSN        string `envconfig:"MYSQL_DSN"`
	RedisAddress    string `envconfig:"REDIS_ADDRESS"`
	RedisPassword   string `envconfig:"REDIS_PASSWORD"`
	RabbitMQURL     string `envconfig:"RABBITMQ_URL"`
	ListenAddress   string `envconfig:"LISTEN_ADDRESS"`
	LogLevel        string `envconfig:"LOG_LEVEL"`
}

// Load 负责解析指定路径的 JSON 配置文件，并叠加 .env 与环境变量。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.finish(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv 在没有配置文件时仅依赖 .env 与环境变量构造配置。
func FromEnv(baseDir string) (*Config, error) {
	var cfg Config
	if err := cfg.finish(baseDir); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finish(baseDir string) error {
	envFile := c.Runtime.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if !filepath.IsAbs(envFile) {
		envFile = filepath.Join(baseDir, envFile)
	}
	if err := loadEnvFile(envFile); err != nil {
		return err
	}
	if err := c.applyEnv(); err != nil {
		return err
	}
	c.applyDefaults(baseDir)
	return c.Validate()
}

// loadEnvFile 读取 .env 文件；文件不存在时忽略。已存在的环境变量优先。
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("读取 env 文件失败: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("解析 env 文件失败: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("解析环境变量失败: %w", err)
	}

	override := func(dst *string, value string) {
		if strings.TrimSpace(value) != "" {
			*dst = value
		}
	}
	override(&c.Web3.RPCURL, env.RPCURL)
	override(&c.Agent.PrivateKey, env.AgentPrivateKey)
	override(&c.Agent.Address, env.AgentAddress)
	override(&c.Swap.OrderbookURL, env.OrderbookURL)
	override(&c.Swap.Amount, env.SwapAmount)
	override(&c.Auth.Mode, env.AuthMode)
	override(&c.Auth.Audience, env.MagicAudience)
	override(&c.Storage.MySQL.DSN, env.MySQLDSN)
	override(&c.Storage.Redis.Address, env.RedisAddress)
	override(&c.Storage.Redis.Password, env.RedisPassword)
	override(&c.TaskQueue.RabbitMQ.URL, env.RabbitMQURL)
	override(&c.Server.Address, env.ListenAddress)
	override(&c.Logging.Level, env.LogLevel)
	if env.ChainID != 0 {
		c.Web3.ChainID = env.ChainID
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 5
	}

	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = "audit.log"
	}
	if c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	if c.Auth.ClockSkewSeconds <= 0 {
		c.Auth.ClockSkewSeconds = 300
	}

	if c.Storage.Accounts.Driver == "" {
		c.Storage.Accounts.Driver = "memory"
	}
	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.TaskStore.Retries <= 0 {
		c.Storage.TaskStore.Retries = 3
	}
	if c.Storage.Locker.Driver == "" {
		c.Storage.Locker.Driver = "memory"
	}
	if c.Storage.Locker.TTLSeconds <= 0 {
		c.Storage.Locker.TTLSeconds = 600
	}
	if c.Storage.Redis.KeyPrefix == "" {
		c.Storage.Redis.KeyPrefix = "safeswap"
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Worker <= 0 {
		c.TaskQueue.Worker = 2
	}
	if c.TaskQueue.Buffer <= 0 {
		c.TaskQueue.Buffer = 256
	}
	if c.TaskQueue.RetryBackoffMillis <= 0 {
		c.TaskQueue.RetryBackoffMillis = 2000
	}
	if c.TaskQueue.Redis.Queue == "" {
		c.TaskQueue.Redis.Queue = "safeswap:tasks"
	}
	if c.TaskQueue.Redis.BlockWaitSeconds <= 0 {
		c.TaskQueue.Redis.BlockWaitSeconds = 5
	}
	if c.TaskQueue.RabbitMQ.Queue == "" {
		c.TaskQueue.RabbitMQ.Queue = "safeswap.tasks"
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}

	if c.Safe.SaltMode == "" {
		c.Safe.SaltMode = "deterministic"
	}

	if c.Swap.AppCode == "" {
		c.Swap.AppCode = "awesome-app"
	}
	if c.Swap.SellToken == "" {
		c.Swap.SellToken = "0xfFf9976782d46CC05630D1f6eBAb18b2324d6B14"
	}
	if c.Swap.BuyToken == "" {
		c.Swap.BuyToken = "0x0625aFB445C3B6B7B929342a04A22599fd5dBB59"
	}
	if c.Swap.SellTokenDecimals <= 0 {
		c.Swap.SellTokenDecimals = 18
	}
	if c.Swap.BuyTokenDecimals <= 0 {
		c.Swap.BuyTokenDecimals = 18
	}
	if c.Swap.SlippageBps <= 0 {
		c.Swap.SlippageBps = 50
	}
	if c.Swap.ValidForSeconds <= 0 {
		c.Swap.ValidForSeconds = 1800
	}
	if c.Swap.RequestsPerSecond <= 0 {
		c.Swap.RequestsPerSecond = 5
	}
	if c.Swap.TimeoutSeconds <= 0 {
		c.Swap.TimeoutSeconds = 15
	}

	if c.Observability.Metrics.Path == "" {
		c.Observability.Metrics.Path = "/metrics"
	}
	if c.Observability.Alerting.TimeoutSeconds <= 0 {
		c.Observability.Alerting.TimeoutSeconds = 5
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// Validate 校验驱动名称等枚举字段。凭据类字段只在使用时检查是否存在。
func (c *Config) Validate() error {
	check := func(field, value string, allowed ...string) error {
		for _, candidate := range allowed {
			if value == candidate {
				return nil
			}
		}
		return fmt.Errorf("%s 不支持取值 %q", field, value)
	}
	if err := check("auth.mode", c.Auth.Mode, "disabled", "magic"); err != nil {
		return err
	}
	if err := check("storage.accounts.driver", c.Storage.Accounts.Driver, "memory", "redis", "mysql"); err != nil {
		return err
	}
	if err := check("storage.task_store.driver", c.Storage.TaskStore.Driver, "memory", "mysql"); err != nil {
		return err
	}
	if err := check("storage.locker.driver", c.Storage.Locker.Driver, "memory", "redis"); err != nil {
		return err
	}
	if err := check("task_queue.driver", c.TaskQueue.Driver, "memory", "redis", "rabbitmq"); err != nil {
		return err
	}
	if err := check("safe.salt_mode", c.Safe.SaltMode, "deterministic", "random"); err != nil {
		return err
	}
	if c.Swap.SlippageBps >= 10_000 {
		return fmt.Errorf("swap.slippage_bps 超出范围: %d", c.Swap.SlippageBps)
	}
	return nil
}
