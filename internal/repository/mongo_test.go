package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// openTestMongo connects to TEST_MONGO_URI and hands out a throwaway database.
func openTestMongo(t *testing.T) *mongo.Database {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)

	db := client.Database(fmt.Sprintf("restaurant_test_%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	require.NoError(t, EnsureMongoIndexes(ctx, db))
	return db
}

func TestMongoStores(t *testing.T) {
	db := openTestMongo(t)
	testCounterStore(t, NewMongoCounterStore(db, 90*24*time.Hour, logrus.New()), 90*24*time.Hour)

	store := NewMongoOrderStore(db, logrus.New())
	testOrderStore(t, store)

	_, err := store.FindByID(context.Background(), "not-an-object-id")
	assert.ErrorIs(t, err, ErrNotFound)
}
