package testutil

import (
	"bytes"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/grigta/webportal/pkg/cache"
	"github.com/grigta/webportal/pkg/logger"
)

// NewMiniRedisCache returns a cache backed by an in-process Redis that is torn
// down with the test.
func NewMiniRedisCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return cache.NewRedisCacheWithClient(client), mr
}

// NewQuietLogger discards everything below error and returns the sink for inspection.
func NewQuietLogger() (logger.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return logger.NewWithOutput("error", "json", &buf), &buf
}

func UserFields(email, username string) bson.M {
	return bson.M{
		"email":     email,
		"username":  username,
		"password":  "$2a$10$abcdefghijklmnopqrstuv",
		"role":      "user",
		"is_active": true,
	}
}

func SourceFields(name, kind string, priority int) bson.M {
	fields := bson.M{
		"name":     name,
		"kind":     kind,
		"enabled":  true,
		"priority": priority,
	}
	if kind != "file" {
		fields["url"] = "https://" + name + ".example.com/feed"
	}
	return fields
}
