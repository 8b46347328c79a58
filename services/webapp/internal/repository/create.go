package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/grigta/webportal/pkg/database"
	"github.com/grigta/webportal/pkg/schema"
)

// Create validates fields against the collection's schema and inserts one
// document. Validation and store failures are reported in the result; a unique
// index collision is returned as ErrDuplicateKey.
func (r *Repository) Create(ctx context.Context, collection string, fields bson.M) (res *Result, err error) {
	start := time.Now()
	s, err := r.registry.Lookup(collection)
	if err != nil {
		return nil, err
	}
	defer func() { r.metrics.observe("create", s.Collection, start, statusOf(res, err)) }()

	res = newResult()
	doc, err := r.insert(ctx, s, fields)
	switch {
	case errors.Is(err, database.ErrDuplicate):
		return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, err.Error())
	case isContextErr(err):
		return nil, err
	case err != nil:
		res.addError(s.Collection, err.Error())
		return res, nil
	}

	res.Docs = append(res.Docs, doc)
	r.publish(ctx, ChangeEvent{Collection: s.Collection, Action: actionCreated, IDs: idsOf(res.Docs)})
	return res, nil
}

// CreateMany inserts every item it can. Duplicates are reported like any other
// per-item failure.
func (r *Repository) CreateMany(ctx context.Context, collection string, items []bson.M) (res *Result, err error) {
	start := time.Now()
	s, err := r.registry.Lookup(collection)
	if err != nil {
		return nil, err
	}
	defer func() { r.metrics.observe("create_many", s.Collection, start, statusOf(res, err)) }()

	res, err = r.insertMany(ctx, s, items)
	if err != nil {
		return nil, err
	}
	if len(res.Docs) > 0 {
		r.publish(ctx, ChangeEvent{Collection: s.Collection, Action: actionCreated, IDs: idsOf(res.Docs)})
	}
	return res, nil
}

func (r *Repository) insertMany(ctx context.Context, s schema.Schema, items []bson.M) (*Result, error) {
	res := newResult()
	for _, fields := range items {
		doc, err := r.insert(ctx, s, fields)
		if err != nil {
			if isContextErr(err) {
				return nil, err
			}
			res.addError(s.Collection, err.Error())
			continue
		}
		res.Docs = append(res.Docs, doc)
	}
	return res, nil
}

func (r *Repository) insert(ctx context.Context, s schema.Schema, fields bson.M) (schema.Document, error) {
	doc, err := r.registry.Decode(s, fields)
	if err != nil {
		return nil, err
	}
	if ts, ok := doc.(schema.Timestamped); ok {
		ts.Touch(r.now())
	}
	if err := r.registry.Validate(doc); err != nil {
		return nil, err
	}

	inserted, err := r.store.InsertOne(ctx, s.Collection, doc)
	if err != nil {
		return nil, err
	}
	if id, ok := inserted.InsertedID.(primitive.ObjectID); ok && doc.GetID().IsZero() {
		doc.SetID(id)
	}
	return doc, nil
}
