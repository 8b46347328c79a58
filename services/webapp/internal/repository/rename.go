package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/grigta/webportal/pkg/logger"
)

type renameAborted struct {
	errs []OpError
}

func (e *renameAborted) Error() string {
	return fmt.Sprintf("rename aborted: %d document(s) failed", len(e.errs))
}

// Rename replaces the contents of newName with the documents of oldName and
// empties oldName. Document ids are preserved. Nothing is written when oldName
// is empty. The copy runs inside a store transaction when transactions are
// enabled; on a standalone server a failed rename can be re-run since the target
// is cleared first.
func (r *Repository) Rename(ctx context.Context, oldName, newName string) (res RenameResult, err error) {
	start := time.Now()
	src, err := r.registry.Lookup(oldName)
	if err != nil {
		return RenameResult{OK: 0, ErrMsg: err.Error()}, err
	}
	dst, err := r.registry.Lookup(newName)
	if err != nil {
		return RenameResult{OK: 0, ErrMsg: err.Error()}, err
	}
	defer func() {
		status := statusOK
		if err != nil {
			status = statusError
		} else if res.OK != 1 {
			status = statusPartial
		}
		r.metrics.observe("rename", src.Collection, start, status)
	}()

	docs, err := r.store.FindAll(ctx, src.Collection, bson.M{})
	if err != nil {
		return RenameResult{OK: 0, ErrMsg: err.Error()}, nil
	}
	if len(docs) == 0 {
		return RenameResult{OK: 0, ErrMsg: fmt.Sprintf("collection %s not found", src.Collection)}, nil
	}

	err = r.store.WithTransaction(ctx, func(tx context.Context) error {
		if _, err := r.store.DeleteMany(tx, dst.Collection, bson.M{}); err != nil {
			return fmt.Errorf("failed to clear %s: %w", dst.Collection, err)
		}

		copied, err := r.insertMany(tx, dst, docs)
		if err != nil {
			return err
		}
		if !copied.OK() {
			return &renameAborted{errs: copied.Errors}
		}

		if _, err := r.store.DeleteMany(tx, src.Collection, bson.M{}); err != nil {
			return fmt.Errorf("failed to clear %s: %w", src.Collection, err)
		}
		return nil
	})
	if err != nil {
		r.log.WithContext(ctx).Error("Rename failed", logFields(src.Collection, dst.Collection, err)...)

		var aborted *renameAborted
		if errors.As(err, &aborted) {
			return RenameResult{OK: 0, ErrMsg: aborted.errs}, nil
		}
		return RenameResult{OK: 0, ErrMsg: err.Error()}, nil
	}

	r.log.WithContext(ctx).Info("Collection renamed", logFields(src.Collection, dst.Collection, nil)...)
	return RenameResult{OK: 1}, nil
}

func logFields(from, to string, err error) []logger.Field {
	fields := []logger.Field{
		{Key: "from", Value: from},
		{Key: "to", Value: to},
	}
	if err != nil {
		fields = append(fields, logger.Err(err))
	}
	return fields
}
