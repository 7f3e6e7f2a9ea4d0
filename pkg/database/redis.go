package database

import (
	"context"

	"thingdb/pkg/log"

	"github.com/go-redis/redis/v8"
)

// RDB 全局 Redis 客户端；未启用 Redis（配置里 addr 为空）时保持 nil，
// 依赖它的扫码解析缓存会自动退化为纯数据库查询。
var RDB *redis.Client

func InitRedis(addr, password string, db int) {
	RDB = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := RDB.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", err)
	}

	log.Info("Redis client connected successfully")
}
