package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/cyderes/social-feed/internal/config"
	"github.com/cyderes/social-feed/internal/models"
)

const mongoCollection = "cached_posts"

// PostDocument is the MongoDB schema for a cached post
type PostDocument struct {
	ID        int    `bson:"_id"`
	UserID    int    `bson:"user_id"`
	Title     string `bson:"title"`
	Body      string `bson:"body"`
	AvatarURL string `bson:"avatar_url"`
}

// MongoDBStorage implements Storage using MongoDB. ReplaceAll runs in a
// multi-document transaction, so the server must be a replica set or sharded cluster.
type MongoDBStorage struct {
	mu         sync.RWMutex
	client     *mongo.Client
	collection *mongo.Collection
}

var _ Storage = (*MongoDBStorage)(nil)

// NewMongoDBStorage connects to MongoDB and verifies the connection
func NewMongoDBStorage(ctx context.Context, cfg config.StorageConfig) (*MongoDBStorage, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoDBURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoDBStorage{
		client:     client,
		collection: client.Database(cfg.MongoDatabase).Collection(mongoCollection),
	}, nil
}

func toDocument(post models.CachedPost) PostDocument {
	return PostDocument{
		ID:        post.ID,
		UserID:    post.UserID,
		Title:     post.Title,
		Body:      post.Body,
		AvatarURL: post.AvatarURL,
	}
}

func fromDocument(doc PostDocument) models.CachedPost {
	return models.CachedPost{
		ID:        doc.ID,
		UserID:    doc.UserID,
		Title:     doc.Title,
		Body:      doc.Body,
		AvatarURL: doc.AvatarURL,
	}
}

// ReplaceAll deletes every document and inserts posts in one transaction
func (m *MongoDBStorage) ReplaceAll(ctx context.Context, posts []models.CachedPost) error {
	rows := models.NormalizeCached(posts)
	docs := make([]interface{}, len(rows))
	for i, row := range rows {
		docs[i] = toDocument(row)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.client.StartSession()
	if err != nil {
		return writeError(fmt.Errorf("failed to start session: %w", err))
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := m.collection.DeleteMany(sc, bson.D{}); err != nil {
			return nil, fmt.Errorf("failed to delete posts: %w", err)
		}
		if len(docs) == 0 {
			return nil, nil
		}
		if _, err := m.collection.InsertMany(sc, docs); err != nil {
			return nil, fmt.Errorf("failed to insert posts: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return writeError(err)
	}
	return nil
}

// FetchAll returns every cached document ordered by ID
func (m *MongoDBStorage) FetchAll(ctx context.Context) ([]models.CachedPost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := m.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, readError(err)
	}
	defer cursor.Close(ctx)

	var docs []PostDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, readError(err)
	}

	posts := make([]models.CachedPost, len(docs))
	for i, doc := range docs {
		posts[i] = fromDocument(doc)
	}
	return posts, nil
}

// Ping checks the primary is reachable
func (m *MongoDBStorage) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client
func (m *MongoDBStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
