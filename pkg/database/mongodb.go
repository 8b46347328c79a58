package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/grigta/webportal/pkg/logger"
)

// Store is the subset of MongoDB the data-access layer runs against.
type Store interface {
	FindOne(ctx context.Context, collection string, filter interface{}, opts ...*options.FindOneOptions) (bson.M, error)
	FindAll(ctx context.Context, collection string, filter interface{}, opts ...*options.FindOptions) ([]bson.M, error)
	InsertOne(ctx context.Context, collection string, document interface{}) (*mongo.InsertOneResult, error)
	ReplaceOne(ctx context.Context, collection string, filter interface{}, replacement interface{}) (*mongo.UpdateResult, error)
	UpdateOne(ctx context.Context, collection string, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateMany(ctx context.Context, collection string, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, collection string, filter interface{}) (*mongo.DeleteResult, error)
	DeleteMany(ctx context.Context, collection string, filter interface{}) (*mongo.DeleteResult, error)
	CountDocuments(ctx context.Context, collection string, filter interface{}) (int64, error)
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type MongoDB struct {
	client        *mongo.Client
	database      *mongo.Database
	timeout       time.Duration
	transactional bool
}

type Option func(*MongoDB)

// WithTransactions enables multi-document transactions. Requires a replica set
// or sharded cluster; on a standalone server leave it off.
func WithTransactions(enabled bool) Option {
	return func(m *MongoDB) {
		m.transactional = enabled
	}
}

func NewMongoDB(ctx context.Context, uri string, dbName string, timeout time.Duration, opts ...Option) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	clientOptions.SetMaxPoolSize(50)
	clientOptions.SetMinPoolSize(10)
	clientOptions.SetMaxConnIdleTime(5 * time.Minute)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Connected to MongoDB", logger.Field{Key: "database", Value: dbName})

	m := &MongoDB{
		client:   client,
		database: client.Database(dbName),
		timeout:  timeout,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

func (m *MongoDB) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoDB) Ping(ctx context.Context) error {
	if m.client == nil {
		return ErrConnection
	}
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *MongoDB) Client() *mongo.Client {
	return m.client
}

func (m *MongoDB) GetDatabase() *mongo.Database {
	return m.database
}

func (m *MongoDB) GetCollection(name string) *mongo.Collection {
	return m.database.Collection(name)
}

func (m *MongoDB) Transactional() bool {
	return m.transactional
}

func (m *MongoDB) CreateIndexes(ctx context.Context, collection string, indexes []mongo.IndexModel) error {
	if len(indexes) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	_, err := m.GetCollection(collection).Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
	}

	return nil
}

func (m *MongoDB) FindOne(ctx context.Context, collection string, filter interface{}, opts ...*options.FindOneOptions) (bson.M, error) {
	var doc bson.M
	err := m.GetCollection(collection).FindOne(ctx, filter, opts...).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find document: %w", err)
	}
	return doc, nil
}

func (m *MongoDB) Find(ctx context.Context, collection string, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	return m.GetCollection(collection).Find(ctx, filter, opts...)
}

func (m *MongoDB) FindAll(ctx context.Context, collection string, filter interface{}, opts ...*options.FindOptions) ([]bson.M, error) {
	cursor, err := m.Find(ctx, collection, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to find documents: %w", err)
	}
	defer cursor.Close(ctx)

	docs := make([]bson.M, 0)
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	return docs, nil
}

func (m *MongoDB) InsertOne(ctx context.Context, collection string, document interface{}) (*mongo.InsertOneResult, error) {
	res, err := m.GetCollection(collection).InsertOne(ctx, document)
	return res, classify(err)
}

func (m *MongoDB) ReplaceOne(ctx context.Context, collection string, filter interface{}, replacement interface{}) (*mongo.UpdateResult, error) {
	res, err := m.GetCollection(collection).ReplaceOne(ctx, filter, replacement)
	return res, classify(err)
}

func (m *MongoDB) UpdateOne(ctx context.Context, collection string, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	res, err := m.GetCollection(collection).UpdateOne(ctx, filter, update, opts...)
	return res, classify(err)
}

func (m *MongoDB) UpdateMany(ctx context.Context, collection string, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	res, err := m.GetCollection(collection).UpdateMany(ctx, filter, update, opts...)
	return res, classify(err)
}

func (m *MongoDB) DeleteOne(ctx context.Context, collection string, filter interface{}) (*mongo.DeleteResult, error) {
	return m.GetCollection(collection).DeleteOne(ctx, filter)
}

func (m *MongoDB) DeleteMany(ctx context.Context, collection string, filter interface{}) (*mongo.DeleteResult, error) {
	return m.GetCollection(collection).DeleteMany(ctx, filter)
}

func (m *MongoDB) CountDocuments(ctx context.Context, collection string, filter interface{}) (int64, error) {
	return m.GetCollection(collection).CountDocuments(ctx, filter)
}

// WithTransaction runs fn inside a session transaction when transactions are
// enabled, otherwise it runs fn directly against the shared client.
func (m *MongoDB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !m.transactional {
		return fn(ctx)
	}

	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("%w: failed to start session: %w", ErrTransaction, err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx)
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	}
	return err
}
