package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// InboxConfig 定义测试收件箱的业务配置
type InboxConfig struct {
	Domain  string        // 生成测试地址使用的域名
	TTL     time.Duration // 收件箱有效期，过期后不再接受触发
	ProbeMX bool          // 是否附加 MX 与 SMTP 握手的参考性检查
}

// IMAPConfig 定义外部邮箱的取件配置
type IMAPConfig struct {
	Address  string // IMAP 服务地址，格式 "host:port"
	Username string
	Password string
	Mailbox  string // 取件目录，默认 "INBOX"
}

// IngestConfig 定义本地 SMTP 收件服务的配置
type IngestConfig struct {
	Enabled  bool   // 启用后测试邮件直接投递进程内收件箱
	BindAddr string // 监听地址，默认 ":2525"
	Domain   string // EHLO 标识域名
}

// SpamdConfig 定义垃圾邮件分类器的连接配置
type SpamdConfig struct {
	Address     string        // spamd 地址，格式 "host:port"
	DialTimeout time.Duration // 连接超时，默认 10s
	IOTimeout   time.Duration // 整体读写超时，默认 20s
}

// DNSConfig 定义记录检查与黑名单探测的配置
type DNSConfig struct {
	QueryTimeout      time.Duration // 单次查询超时，默认 5s
	BlacklistWorkers  int           // DNSBL 并发上限，默认 10
	BlacklistLifetime time.Duration // DNSBL 整体探测寿命，默认 30s
	BlacklistRate     float64       // DNSBL 每秒查询上限，0 表示不限速
}

// QuotaConfig 定义每日分析配额
type QuotaConfig struct {
	AnonymousDaily int // 匿名来源的每日上限，默认 5
}

// TaskConfig 定义分析任务的重试编排
type TaskConfig struct {
	MaxAttempts int           // 最大尝试次数，默认 30
	Backoff     time.Duration // 重试间隔，默认 10s
	MetricsAddr string        // 工作者指标与健康检查监听地址，默认 ":9090"
}

// CleanupConfig 定义过期收件箱的清理节奏
type CleanupConfig struct {
	Interval time.Duration // 清理周期，默认 10 分钟
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，为空时使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 任务队列配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server   ServerConfig
	Inbox    InboxConfig
	IMAP     IMAPConfig
	Ingest   IngestConfig
	Spamd    SpamdConfig
	DNS      DNSConfig
	Quota    QuotaConfig
	Task     TaskConfig
	Cleanup  CleanupConfig
	CORS     CORSConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: MAILTESTER_
// 例如: MAILTESTER_SERVER_PORT, MAILTESTER_SPAMD_ADDRESS
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("mailtester")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("inbox.domain", "mailtester.dev")
	viper.SetDefault("inbox.ttl", "24h")
	viper.SetDefault("inbox.probe_mx", false)
	viper.SetDefault("imap.address", "")
	viper.SetDefault("imap.username", "")
	viper.SetDefault("imap.password", "")
	viper.SetDefault("imap.mailbox", "INBOX")
	viper.SetDefault("ingest.enabled", false)
	viper.SetDefault("ingest.bind_addr", ":2525")
	viper.SetDefault("ingest.domain", "mailtester.dev")
	viper.SetDefault("spamd.address", "localhost:783")
	viper.SetDefault("spamd.dial_timeout", "10s")
	viper.SetDefault("spamd.io_timeout", "20s")
	viper.SetDefault("dns.query_timeout", "5s")
	viper.SetDefault("dns.blacklist_workers", 10)
	viper.SetDefault("dns.blacklist_lifetime", "30s")
	viper.SetDefault("dns.blacklist_rate", 0.0)
	viper.SetDefault("quota.anonymous_daily", 5)
	viper.SetDefault("task.max_attempts", 30)
	viper.SetDefault("task.backoff", "10s")
	viper.SetDefault("task.metrics_addr", ":9090")
	viper.SetDefault("cleanup.interval", "10m")
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	inboxDomain := strings.ToLower(strings.TrimSpace(viper.GetString("inbox.domain")))
	if inboxDomain == "" {
		return nil, fmt.Errorf("inbox.domain must not be empty")
	}

	inboxTTL, err := time.ParseDuration(viper.GetString("inbox.ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid inbox.ttl: %w", err)
	}

	dbType := viper.GetString("database.type")
	if dbType != "" && dbType != "mysql" && dbType != "postgres" {
		return nil, fmt.Errorf("unsupported database.type: %s", dbType)
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Inbox: InboxConfig{
			Domain:  inboxDomain,
			TTL:     inboxTTL,
			ProbeMX: viper.GetBool("inbox.probe_mx"),
		},
		IMAP: IMAPConfig{
			Address:  viper.GetString("imap.address"),
			Username: viper.GetString("imap.username"),
			Password: viper.GetString("imap.password"),
			Mailbox:  viper.GetString("imap.mailbox"),
		},
		Ingest: IngestConfig{
			Enabled:  viper.GetBool("ingest.enabled"),
			BindAddr: viper.GetString("ingest.bind_addr"),
			Domain:   viper.GetString("ingest.domain"),
		},
		Spamd: SpamdConfig{
			Address:     viper.GetString("spamd.address"),
			DialTimeout: durationOr(viper.GetString("spamd.dial_timeout"), 10*time.Second),
			IOTimeout:   durationOr(viper.GetString("spamd.io_timeout"), 20*time.Second),
		},
		DNS: DNSConfig{
			QueryTimeout:      durationOr(viper.GetString("dns.query_timeout"), 5*time.Second),
			BlacklistWorkers:  viper.GetInt("dns.blacklist_workers"),
			BlacklistLifetime: durationOr(viper.GetString("dns.blacklist_lifetime"), 30*time.Second),
			BlacklistRate:     viper.GetFloat64("dns.blacklist_rate"),
		},
		Quota: QuotaConfig{
			AnonymousDaily: viper.GetInt("quota.anonymous_daily"),
		},
		Task: TaskConfig{
			MaxAttempts: viper.GetInt("task.max_attempts"),
			Backoff:     durationOr(viper.GetString("task.backoff"), 10*time.Second),
			MetricsAddr: viper.GetString("task.metrics_addr"),
		},
		Cleanup: CleanupConfig{
			Interval: durationOr(viper.GetString("cleanup.interval"), 10*time.Minute),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Database: DatabaseConfig{
			Type:            dbType,
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: durationOr(viper.GetString("database.conn_max_lifetime"), 5*time.Minute),
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
	}

	return cfg, nil
}

// durationOr 解析时长字符串，失败时回退默认值
func durationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 文件不存在时静默失败，已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
