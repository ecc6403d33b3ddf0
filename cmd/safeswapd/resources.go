package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"SafeSwap-Chain/internal/account"
	"SafeSwap-Chain/internal/config"
	storagemysql "SafeSwap-Chain/internal/storage/mysql"
	storageredis "SafeSwap-Chain/internal/storage/redis"
	"SafeSwap-Chain/internal/task"

	goredis "github.com/redis/go-redis/v9"
)

// resources 按需打开并共享 MySQL 连接池与 Redis 客户端。
type resources struct {
	cfg   *config.Config
	db    *sql.DB
	redis *goredis.Client
}

func (r *resources) mysql(ctx context.Context) (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}
	c := r.cfg.Storage.MySQL
	db, err := storagemysql.OpenAndMigrate(ctx, storagemysql.Config{
		DSN:             c.DSN,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: time.Duration(c.ConnMaxLifetimeSeconds) * time.Second,
		ConnMaxIdleTime: time.Duration(c.ConnMaxIdleTimeSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	r.db = db
	return db, nil
}

func (r *resources) redisClient(ctx context.Context) (*goredis.Client, error) {
	if r.redis != nil {
		return r.redis, nil
	}
	c := r.cfg.Storage.Redis
	client, err := storageredis.NewClient(ctx, storageredis.Config{
		Address:   c.Address,
		Password:  c.Password,
		DB:        c.DB,
		KeyPrefix: c.KeyPrefix,
	})
	if err != nil {
		return nil, err
	}
	r.redis = client
	return client, nil
}

func (r *resources) accountStore(ctx context.Context) (account.Store, error) {
	switch r.cfg.Storage.Accounts.Driver {
	case "", "memory":
		return account.NewMemoryStore(), nil
	case "redis":
		client, err := r.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return account.NewRedisStore(client, r.cfg.Storage.Redis.KeyPrefix), nil
	case "mysql":
		db, err := r.mysql(ctx)
		if err != nil {
			return nil, err
		}
		return account.NewMySQLStore(db), nil
	default:
		return nil, fmt.Errorf("未知的账户存储驱动: %s", r.cfg.Storage.Accounts.Driver)
	}
}

func (r *resources) locker(ctx context.Context) (account.Locker, error) {
	switch r.cfg.Storage.Locker.Driver {
	case "", "memory":
		return account.NewMemoryLocker(), nil
	case "redis":
		client, err := r.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return account.NewRedisLocker(client, r.cfg.Storage.Redis.KeyPrefix, r.cfg.Storage.Locker.TTL()), nil
	default:
		return nil, fmt.Errorf("未知的串行锁驱动: %s", r.cfg.Storage.Locker.Driver)
	}
}

func (r *resources) taskStore(ctx context.Context) (task.Store, error) {
	switch r.cfg.Storage.TaskStore.Driver {
	case "", "memory":
		return task.NewMemoryStore(), nil
	case "mysql":
		db, err := r.mysql(ctx)
		if err != nil {
			return nil, err
		}
		return task.NewMySQLStore(db), nil
	default:
		return nil, fmt.Errorf("未知的任务存储驱动: %s", r.cfg.Storage.TaskStore.Driver)
	}
}

func (r *resources) taskQueue(ctx context.Context) (task.Queue, error) {
	q := r.cfg.TaskQueue
	switch q.Driver {
	case "", "memory":
		return task.NewMemoryQueue(q.Buffer), nil
	case "redis":
		client, err := r.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return task.NewRedisQueueWithClient(client, r.cfg.Storage.Redis.KeyPrefix, q.Redis.Queue,
			time.Duration(q.Redis.BlockWaitSeconds)*time.Second), nil
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        q.RabbitMQ.URL,
			Queue:      q.RabbitMQ.Queue,
			Prefetch:   q.RabbitMQ.Prefetch,
			Durable:    q.RabbitMQ.Durable,
			AutoDelete: q.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", q.Driver)
	}
}

// Close 释放共享连接。
func (r *resources) Close() error {
	var errs []error
	if r.db != nil {
		errs = append(errs, r.db.Close())
	}
	if r.redis != nil {
		errs = append(errs, r.redis.Close())
	}
	return errors.Join(errs...)
}
