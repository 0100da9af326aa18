package utils

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	testMongoURI  string
	testRedisAddr string
)

func init() {
	loadTestEnv()
}

// loadTestEnv loads the .env file from the project root, falling back to the working directory.
func loadTestEnv() {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "..", "..")
	if err := godotenv.Load(filepath.Join(projectRoot, ".env")); err != nil {
		godotenv.Load()
	}

	testMongoURI = os.Getenv("MONGO_URI")
	testRedisAddr = os.Getenv("REDIS_ADDR")
}

// SetupTestDB connects to the MongoDB named by MONGO_URI and drops the given collections.
// The test is skipped when MONGO_URI is not set.
func SetupTestDB(t *testing.T, dbName string, collections ...string) *mongo.Database {
	t.Helper()
	if testMongoURI == "" {
		t.Skip("MONGO_URI not set, skipping MongoDB-backed test")
	}
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(testMongoURI))
	require.NoError(t, err, "Failed to connect to MongoDB")
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	db := client.Database(dbName)

	for _, collection := range collections {
		_ = db.Collection(collection).Drop(context.Background())
	}

	return db
}

// SetupTestRedis connects to REDIS_ADDR and deletes the given keys.
// The test is skipped when REDIS_ADDR is not set.
func SetupTestRedis(t *testing.T, keys ...string) *redis.Client {
	t.Helper()
	if testRedisAddr == "" {
		t.Skip("REDIS_ADDR not set, skipping Redis-backed test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	require.NoError(t, rdb.Ping(context.Background()).Err(), "Failed to connect to Redis")
	t.Cleanup(func() { _ = rdb.Close() })
	if len(keys) > 0 {
		_ = rdb.Del(context.Background(), keys...).Err()
	}
	return rdb
}
