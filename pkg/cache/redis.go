package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"edgetrader/conf"

	"github.com/redis/go-redis/v9"
)

var redisClient *redis.Client

// NewRedis 创建客户端并 ping 一次
func NewRedis(ctx context.Context, redisCfg conf.RedisConfig) (*redis.Client, error) {
	if redisCfg.Addr == "" {
		return nil, errors.New("redis address is empty")
	}
	client := redis.NewClient(&redis.Options{
		DB:              redisCfg.Db,
		Addr:            redisCfg.Addr,
		Password:        redisCfg.Password,
		PoolSize:        redisCfg.PoolSize,
		MinIdleConns:    redisCfg.MinIdleConns,
		ConnMaxIdleTime: time.Duration(redisCfg.IdleTimeout) * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", redisCfg.Addr, err)
	}
	return client, nil
}

// InitRedis 初始化进程共用的 redisClient
func InitRedis(ctx context.Context, redisCfg conf.RedisConfig) error {
	client, err := NewRedis(ctx, redisCfg)
	if err != nil {
		return err
	}
	redisClient = client
	return nil
}

func GetRedisClient() *redis.Client {
	if nil == redisClient {
		panic("Please initialize the Redis client first!")
	}
	return redisClient
}

// 关闭redis client
func CloseRedis() {
	if nil != redisClient {
		_ = redisClient.Close()
	}
}
