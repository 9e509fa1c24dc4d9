package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	// 保存原始环境变量
	originalEnvs := make(map[string]string)
	envKeys := []string{
		"MAILTESTER_SERVER_HOST",
		"MAILTESTER_SERVER_PORT",
		"MAILTESTER_INBOX_DOMAIN",
		"MAILTESTER_INBOX_TTL",
		"MAILTESTER_SPAMD_ADDRESS",
		"MAILTESTER_QUOTA_ANONYMOUS_DAILY",
		"MAILTESTER_TASK_MAX_ATTEMPTS",
		"MAILTESTER_TASK_BACKOFF",
		"MAILTESTER_DATABASE_TYPE",
		"MAILTESTER_LOG_LEVEL",
	}

	for _, key := range envKeys {
		originalEnvs[key] = os.Getenv(key)
	}

	// 测试后恢复环境变量
	defer func() {
		for key, value := range originalEnvs {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	}()

	t.Run("加载默认配置成功", func(t *testing.T) {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}

		cfg, err := Load()

		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		// 验证默认值
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "mailtester.dev", cfg.Inbox.Domain)
		assert.Equal(t, 24*time.Hour, cfg.Inbox.TTL)
		assert.False(t, cfg.Inbox.ProbeMX)
		assert.Equal(t, "localhost:783", cfg.Spamd.Address)
		assert.Equal(t, 10*time.Second, cfg.Spamd.DialTimeout)
		assert.Equal(t, 20*time.Second, cfg.Spamd.IOTimeout)
		assert.Equal(t, 10, cfg.DNS.BlacklistWorkers)
		assert.Equal(t, 30*time.Second, cfg.DNS.BlacklistLifetime)
		assert.Equal(t, 5, cfg.Quota.AnonymousDaily)
		assert.Equal(t, 30, cfg.Task.MaxAttempts)
		assert.Equal(t, 10*time.Second, cfg.Task.Backoff)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "", cfg.Database.Type)
		assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	})

	t.Run("加载自定义配置成功", func(t *testing.T) {
		os.Setenv("MAILTESTER_SERVER_HOST", "127.0.0.1")
		os.Setenv("MAILTESTER_SERVER_PORT", "9090")
		os.Setenv("MAILTESTER_INBOX_DOMAIN", "Probe.Example.COM")
		os.Setenv("MAILTESTER_INBOX_TTL", "2h")
		os.Setenv("MAILTESTER_SPAMD_ADDRESS", "spamd:783")
		os.Setenv("MAILTESTER_QUOTA_ANONYMOUS_DAILY", "3")
		os.Setenv("MAILTESTER_TASK_MAX_ATTEMPTS", "5")
		os.Setenv("MAILTESTER_TASK_BACKOFF", "30s")

		cfg, err := Load()

		assert.NoError(t, err)
		assert.Equal(t, "127.0.0.1", cfg.Server.Host)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "probe.example.com", cfg.Inbox.Domain, "domain is lowercased")
		assert.Equal(t, 2*time.Hour, cfg.Inbox.TTL)
		assert.Equal(t, "spamd:783", cfg.Spamd.Address)
		assert.Equal(t, 3, cfg.Quota.AnonymousDaily)
		assert.Equal(t, 5, cfg.Task.MaxAttempts)
		assert.Equal(t, 30*time.Second, cfg.Task.Backoff)
	})

	t.Run("非法TTL返回错误", func(t *testing.T) {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}
		os.Setenv("MAILTESTER_INBOX_TTL", "not-a-duration")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("非法数据库类型返回错误", func(t *testing.T) {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}
		os.Setenv("MAILTESTER_DATABASE_TYPE", "oracle")

		_, err := Load()
		assert.Error(t, err)
	})
}
