package utils

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	testMongoURI  string
	containerOnce sync.Once
	containerErr  error
)

func init() {
	loadTestEnv()
}

// loadTestEnv loads the project's .env file, if any, and picks up MONGO_URI.
func loadTestEnv() {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "..", "..")
	if err := godotenv.Load(filepath.Join(projectRoot, ".env")); err != nil {
		_ = godotenv.Load()
	}
	testMongoURI = os.Getenv("MONGO_URI")
}

// startMongoContainer launches a throwaway MongoDB once per test binary when MONGO_URI is unset.
func startMongoContainer(t *testing.T) {
	containerOnce.Do(func() {
		container, err := mongodb.Run(context.Background(), "mongo:6")
		if err != nil {
			containerErr = err
			return
		}
		testMongoURI, containerErr = container.ConnectionString(context.Background())
	})
	if containerErr != nil {
		t.Skipf("MongoDB is unavailable: %v", containerErr)
	}
}

// SetupTestDB returns a MongoDB database for integration tests.
// It uses MONGO_URI when set and otherwise starts a MongoDB container, skipping the test if
// neither is possible. The listed collections are dropped for a clean state.
func SetupTestDB(t *testing.T, dbName string, collections ...string) *mongo.Database {
	t.Helper()
	if testMongoURI == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)
		startMongoContainer(t)
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
