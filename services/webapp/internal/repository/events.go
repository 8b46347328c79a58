package repository

import (
	"context"
	"fmt"

	"github.com/grigta/webportal/pkg/logger"
	"github.com/grigta/webportal/pkg/schema"
)

const (
	actionCreated = "created"
	actionUpdated = "updated"
	actionDeleted = "deleted"
)

type ChangeEvent struct {
	Collection string   `json:"collection"`
	Action     string   `json:"action"`
	IDs        []string `json:"ids,omitempty"`
	Condition  string   `json:"condition,omitempty"`
}

func EventType(collection, action string) string {
	return fmt.Sprintf("document.%s.%s", collection, action)
}

func (r *Repository) publish(ctx context.Context, event ChangeEvent) {
	if r.publisher == nil {
		return
	}

	eventType := EventType(event.Collection, event.Action)
	if err := r.publisher.PublishEvent(eventType, event); err != nil {
		r.log.WithContext(ctx).Warn("Failed to publish change event",
			logger.Field{Key: "event", Value: eventType},
			logger.Err(err),
		)
	}
}

func idsOf(docs []interface{}) []string {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		if doc, ok := d.(schema.Document); ok {
			ids = append(ids, doc.GetID().Hex())
		}
	}
	return ids
}
