package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/grigta/webportal/pkg/database"
	"github.com/grigta/webportal/pkg/models"
	"github.com/grigta/webportal/pkg/schema"
)

func (r *Repository) Read(ctx context.Context, collection string, condition bson.M) (docs []schema.Document, err error) {
	start := time.Now()
	s, err := r.registry.Lookup(collection)
	if err != nil {
		return nil, err
	}
	defer func() { r.metrics.observe("read", s.Collection, start, statusOf(nil, err)) }()

	raw, err := r.store.FindAll(ctx, s.Collection, filterOf(condition))
	if err != nil {
		return nil, err
	}
	return r.decodeAll(s, raw)
}

// ReadOne returns the first match or database.ErrNotFound.
func (r *Repository) ReadOne(ctx context.Context, collection string, condition bson.M) (doc schema.Document, err error) {
	start := time.Now()
	s, err := r.registry.Lookup(collection)
	if err != nil {
		return nil, err
	}
	defer func() { r.metrics.observe("read_one", s.Collection, start, statusOf(nil, notFoundIsOK(err))) }()

	raw, err := r.store.FindOne(ctx, s.Collection, filterOf(condition))
	if err != nil {
		return nil, err
	}
	return r.registry.Decode(s, raw)
}

// ReadDB reads without the schema. projection defaults to {_id: 1}.
func (r *Repository) ReadDB(ctx context.Context, collection string, condition, projection bson.M) (docs []bson.M, err error) {
	start := time.Now()
	name := schema.Normalize(collection)
	defer func() { r.metrics.observe("read_db", name, start, statusOf(nil, err)) }()

	if projection == nil {
		projection = bson.M{"_id": 1}
	}
	return r.store.FindAll(ctx, name, filterOf(condition), options.Find().SetProjection(projection))
}

// ReadDBSingle reads one document without the schema. projection defaults to
// {_id: 0}; opts are applied after it.
func (r *Repository) ReadDBSingle(ctx context.Context, collection string, condition, projection bson.M, opts ...*options.FindOneOptions) (doc bson.M, err error) {
	start := time.Now()
	name := schema.Normalize(collection)
	defer func() { r.metrics.observe("read_db_single", name, start, statusOf(nil, notFoundIsOK(err))) }()

	if projection == nil {
		projection = bson.M{"_id": 0}
	}
	findOpts := append([]*options.FindOneOptions{options.FindOne().SetProjection(projection)}, opts...)
	return r.store.FindOne(ctx, name, filterOf(condition), findOpts...)
}

func (r *Repository) SortedRead(ctx context.Context, collection string, condition bson.M, sort []SortField) (docs []bson.M, err error) {
	start := time.Now()
	name := schema.Normalize(collection)
	defer func() { r.metrics.observe("sorted_read", name, start, statusOf(nil, err)) }()

	order := make(bson.D, 0, len(sort))
	for _, f := range sort {
		if f.Direction != 1 && f.Direction != -1 {
			return nil, fmt.Errorf("%w: sort direction for %s must be 1 or -1", database.ErrInvalidQuery, f.Field)
		}
		order = append(order, bson.E{Key: f.Field, Value: f.Direction})
	}

	opts := options.Find()
	if len(order) > 0 {
		opts.SetSort(order)
	}
	return r.store.FindAll(ctx, name, filterOf(condition), opts)
}

func (r *Repository) Count(ctx context.Context, collection string, condition bson.M) (n int64, err error) {
	start := time.Now()
	name := schema.Normalize(collection)
	defer func() { r.metrics.observe("count", name, start, statusOf(nil, err)) }()

	return r.store.CountDocuments(ctx, name, filterOf(condition))
}

func (r *Repository) ReadUser(ctx context.Context, condition bson.M) (user *models.User, err error) {
	start := time.Now()
	defer func() { r.metrics.observe("read_user", models.UserCollection, start, statusOf(nil, notFoundIsOK(err))) }()

	raw, err := r.store.FindOne(ctx, models.UserCollection, filterOf(condition))
	if err != nil {
		return nil, err
	}

	user = &models.User{}
	if err := schema.Merge(user, raw); err != nil {
		return nil, err
	}
	return user, nil
}

// Dereference loads the document a DBRef points at.
func (r *Repository) Dereference(ctx context.Context, ref DBRef) (doc bson.M, err error) {
	if !ref.Resolvable() {
		return nil, ErrUnresolvableRef
	}

	start := time.Now()
	name := schema.Normalize(ref.Collection)
	defer func() { r.metrics.observe("dereference", name, start, statusOf(nil, notFoundIsOK(err))) }()

	return r.store.FindOne(ctx, name, bson.M{"_id": ref.ID})
}

func (r *Repository) decodeAll(s schema.Schema, raw []bson.M) ([]schema.Document, error) {
	docs := make([]schema.Document, 0, len(raw))
	for _, m := range raw {
		doc, err := r.registry.Decode(s, m)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s document %v: %w", s.Collection, m["_id"], err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func notFoundIsOK(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	return err
}
