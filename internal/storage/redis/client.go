package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix 是未配置前缀时所有键的命名空间。
const DefaultKeyPrefix = "safeswap"

// Config 描述 Redis 连接参数。
type Config struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// NewClient 创建客户端并通过 PING 确认连接可用。
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return client, nil
}

// Key 以冒号拼接前缀与各段键名。
func Key(prefix string, parts ...string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return prefix + ":" + strings.Join(parts, ":")
}
