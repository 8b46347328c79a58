package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Delete removes every document matching condition one by one. Docs are the
// documents actually removed.
func (r *Repository) Delete(ctx context.Context, collection string, condition bson.M) (res *Result, err error) {
	start := time.Now()
	s, err := r.registry.Lookup(collection)
	if err != nil {
		return nil, err
	}
	defer func() { r.metrics.observe("delete", s.Collection, start, statusOf(res, err)) }()

	raw, err := r.store.FindAll(ctx, s.Collection, filterOf(condition))
	if err != nil {
		return nil, err
	}
	docs, err := r.decodeAll(s, raw)
	if err != nil {
		return nil, err
	}

	res = newResult()
	for _, doc := range docs {
		deleted, err := r.store.DeleteOne(ctx, s.Collection, bson.M{"_id": doc.GetID()})
		if err != nil {
			if isContextErr(err) {
				return nil, err
			}
			res.addError(describe(condition), err.Error())
			continue
		}
		if deleted.DeletedCount == 0 {
			res.addError(describe(condition), "already deleted")
			continue
		}
		res.Docs = append(res.Docs, doc)
	}

	if len(res.Docs) > 0 {
		r.publish(ctx, ChangeEvent{Collection: s.Collection, Action: actionDeleted, IDs: idsOf(res.Docs)})
	}
	return res, nil
}
