package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/grigta/webportal/pkg/database"
	"github.com/grigta/webportal/pkg/schema"
)

// Update merges each item's doc into the first document matching its condition,
// re-validates and saves it. With opts.Multi every item is a single $set applied
// to all matches instead, and the result carries counts rather than documents.
func (r *Repository) Update(ctx context.Context, collection string, items []UpdateItem, opts UpdateOptions) (res *Result, err error) {
	start := time.Now()
	s, err := r.registry.Lookup(collection)
	if err != nil {
		return nil, err
	}

	operation := "update"
	if opts.Multi {
		operation = "update_multi"
	}
	defer func() { r.metrics.observe(operation, s.Collection, start, statusOf(res, err)) }()

	if opts.Multi {
		return r.updateMulti(ctx, s, items, opts)
	}

	res = newResult()
	for _, item := range items {
		doc, err := r.updateOne(ctx, s, item)
		if err != nil {
			if isContextErr(err) {
				return nil, err
			}
			res.addError(describe(item.Condition), err.Error())
			continue
		}
		res.Docs = append(res.Docs, doc)
	}

	if len(res.Docs) > 0 {
		r.publish(ctx, ChangeEvent{Collection: s.Collection, Action: actionUpdated, IDs: idsOf(res.Docs)})
	}
	return res, nil
}

var errNotFound = errors.New("not found")

func (r *Repository) updateOne(ctx context.Context, s schema.Schema, item UpdateItem) (schema.Document, error) {
	raw, err := r.store.FindOne(ctx, s.Collection, filterOf(item.Condition))
	if errors.Is(err, database.ErrNotFound) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}

	doc, err := r.registry.Decode(s, raw)
	if err != nil {
		return nil, err
	}
	if err := schema.Merge(doc, withoutID(item.Doc)); err != nil {
		return nil, err
	}
	if ts, ok := doc.(schema.Timestamped); ok {
		ts.Touch(r.now())
	}
	if err := r.registry.Validate(doc); err != nil {
		return nil, err
	}

	if _, err := r.store.ReplaceOne(ctx, s.Collection, bson.M{"_id": doc.GetID()}, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *Repository) updateMulti(ctx context.Context, s schema.Schema, items []UpdateItem, opts UpdateOptions) (*Result, error) {
	res := newResult()
	for _, item := range items {
		condition := describe(item.Condition)
		payload := withoutID(item.Doc)

		if !opts.SkipValidation {
			if err := r.validateSet(s, payload); err != nil {
				res.addError(condition, err.Error())
				continue
			}
		}

		updated, err := r.store.UpdateMany(ctx, s.Collection, filterOf(item.Condition), bson.M{"$set": payload})
		if err != nil {
			if isContextErr(err) {
				return nil, err
			}
			res.addError(condition, err.Error())
			continue
		}

		res.Matched += updated.MatchedCount
		res.Modified += updated.ModifiedCount
		r.publish(ctx, ChangeEvent{Collection: s.Collection, Action: actionUpdated, Condition: condition})
	}
	return res, nil
}

func (r *Repository) validateSet(s schema.Schema, payload bson.M) error {
	doc := s.New()

	top := bson.M{}
	keys := make([]string, 0, len(payload))
	for k, v := range payload {
		keys = append(keys, k)
		if !strings.Contains(k, ".") {
			top[k] = v
		}
	}

	if err := schema.Merge(doc, top); err != nil {
		return err
	}
	return r.registry.ValidatePartial(doc, keys)
}

// UpdatePush appends to array fields of the first match. Any _id in toPush is dropped.
func (r *Repository) UpdatePush(ctx context.Context, collection string, condition, toPush bson.M) (*Result, error) {
	return r.rawUpdate(ctx, "update_push", collection, condition, bson.M{"$push": withoutID(toPush)}, false)
}

// UpdatePull removes matching elements from array fields of every match. _id is
// dropped from toPull unless keepID is set.
func (r *Repository) UpdatePull(ctx context.Context, collection string, condition, toPull bson.M, keepID bool) (*Result, error) {
	if !keepID {
		toPull = withoutID(toPull)
	}
	return r.rawUpdate(ctx, "update_pull", collection, condition, bson.M{"$pull": toPull}, true)
}

func (r *Repository) UpdateSet(ctx context.Context, collection string, condition, toSet bson.M) (*Result, error) {
	return r.rawUpdate(ctx, "update_set", collection, condition, bson.M{"$set": toSet}, false)
}

// UpdateUsingQueries sends queries as the update document unchanged, e.g.
// {"$set": {...}, "$inc": {...}}.
func (r *Repository) UpdateUsingQueries(ctx context.Context, collection string, condition, queries bson.M, multi bool) (*Result, error) {
	return r.rawUpdate(ctx, "update_using_queries", collection, condition, queries, multi)
}

func (r *Repository) rawUpdate(ctx context.Context, operation, collection string, condition, update bson.M, multi bool) (res *Result, err error) {
	start := time.Now()
	name := schema.Normalize(collection)
	defer func() { r.metrics.observe(operation, name, start, statusOf(res, err)) }()

	var updated *mongo.UpdateResult
	if multi {
		updated, err = r.store.UpdateMany(ctx, name, filterOf(condition), update)
	} else {
		updated, err = r.store.UpdateOne(ctx, name, filterOf(condition), update)
	}

	res = newResult()
	if err != nil {
		if isContextErr(err) {
			return nil, err
		}
		res.addError(describe(condition), err.Error())
		return res, nil
	}

	res.Matched = updated.MatchedCount
	res.Modified = updated.ModifiedCount
	if updated.ModifiedCount > 0 {
		r.publish(ctx, ChangeEvent{Collection: name, Action: actionUpdated, Condition: describe(condition)})
	}
	return res, nil
}
