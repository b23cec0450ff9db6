package redis

import (
	"context"
	"log"
	"soulchart-share-service/internal/config"
	"time"

	"github.com/redis/go-redis/v9"
)

var Client *redis.Client

func InitRedis(cfg *config.RedisConfig) error {
	Client = redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Client.Ping(ctx).Err(); err != nil {
		log.Printf("Error connecting to Redis: %v", err)
		return err
	}

	log.Printf("Successfully connected to Redis at %s", cfg.Address)
	return nil
}

// CloseRedis closes the Redis connection
func CloseRedis() {
	if Client != nil {
		if err := Client.Close(); err != nil {
			log.Printf("Error closing Redis connection: %v", err)
		}
	}
}
