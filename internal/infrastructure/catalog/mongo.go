package catalog

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/productmatcher/backend/config"
	"github.com/productmatcher/backend/internal/domain"
	"github.com/productmatcher/backend/internal/logging"
)

// MongoRepository reads products from a MongoDB collection.
// The client is pooled and safe for concurrent requests.
type MongoRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
}

// NewMongoRepository connects to MongoDB and verifies the connection
func NewMongoRepository(ctx context.Context, cfg config.CatalogConfig) (*MongoRepository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	repo := NewMongoRepositoryWithCollection(client.Database(cfg.Database).Collection(cfg.Collection), cfg.QueryTimeout)
	repo.client = client
	return repo, nil
}

// NewMongoRepositoryWithCollection wraps an existing collection (for tests)
func NewMongoRepositoryWithCollection(collection *mongo.Collection, timeout time.Duration) *MongoRepository {
	return &MongoRepository{collection: collection, timeout: timeout}
}

// FetchAll returns every product in the collection
func (r *MongoRepository) FetchAll(ctx context.Context) (domain.CatalogSnapshot, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	projection := bson.D{{Key: "image_url", Value: 1}, {Key: "name", Value: 1}, {Key: "category", Value: 1}}
	cursor, err := r.collection.Find(ctx, bson.D{}, options.Find().SetProjection(projection))
	if err != nil {
		return nil, catalogError("query", err)
	}
	defer cursor.Close(ctx)

	var docs []productDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, catalogError("read", err)
	}

	snapshot, skipped := toSnapshot(docs)
	if skipped > 0 {
		logging.Ctx(ctx).Warn().Int("skipped", skipped).Str("collection", r.collection.Name()).Msg("Catalog documents without image_url ignored")
	}
	return snapshot, nil
}

// Close disconnects the client
func (r *MongoRepository) Close(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Disconnect(ctx)
}
