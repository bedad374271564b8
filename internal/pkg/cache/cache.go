package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/paycycle/paycycle/internal/pkg/env"
	"github.com/redis/go-redis/v9"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

// SetupCache initializes the connection to the Redis cache server
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: "",
		DB:       0,
	})

	// Test the connection
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Printf("Warning: Could not connect to Redis cache: %v", err)
	} else {
		log.Printf("Successfully connected to Redis cache: %s", pong)
	}
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// Set stores a value in the cache with the given key and expiration time
func Set(key string, value interface{}, expiration time.Duration) error {
	return GetClient().Set(ctx, key, value, expiration).Err()
}

// Get retrieves a value from the cache by key
func Get(key string) (string, error) {
	return GetClient().Get(ctx, key).Result()
}

// PushCapped prepends a value to a list and trims it to maxLen entries.
func PushCapped(key, value string, maxLen int64) error {
	rdb := GetClient()
	if err := rdb.LPush(ctx, key, value).Err(); err != nil {
		return err
	}
	return rdb.LTrim(ctx, key, 0, maxLen-1).Err()
}

// ListRange returns list entries between start and stop.
func ListRange(key string, start, stop int64) ([]string, error) {
	return GetClient().LRange(ctx, key, start, stop).Result()
}
