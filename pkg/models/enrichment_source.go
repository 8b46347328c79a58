package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	EnrichmentSourceCollection         = "enrichmentsource"
	PreviousEnrichmentSourceCollection = "enrichmentsource_previous"
)

// EnrichmentSource describes an external feed used to enrich records. The
// previous generation is kept in its own collection so a rollout can be undone
// with a rename.
type EnrichmentSource struct {
	ID          primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	Name        string                 `bson:"name" json:"name" validate:"required,min=1,max=200"`
	Description string                 `bson:"description,omitempty" json:"description,omitempty"`
	Kind        SourceKind             `bson:"kind" json:"kind" validate:"required,oneof=api file feed"`
	URL         string                 `bson:"url,omitempty" json:"url,omitempty" validate:"omitempty,url"`
	Enabled     bool                   `bson:"enabled" json:"enabled"`
	Priority    int                    `bson:"priority" json:"priority" validate:"min=0"`
	Tags        []string               `bson:"tags,omitempty" json:"tags,omitempty"`
	Attributes  map[string]interface{} `bson:"attributes,omitempty" json:"attributes,omitempty"`
	CreatedAt   time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time              `bson:"updated_at" json:"updated_at"`
}

type SourceKind string

const (
	SourceKindAPI  SourceKind = "api"
	SourceKindFile SourceKind = "file"
	SourceKindFeed SourceKind = "feed"
)

func (s *EnrichmentSource) GetID() primitive.ObjectID {
	return s.ID
}

func (s *EnrichmentSource) SetID(id primitive.ObjectID) {
	s.ID = id
}

func (s *EnrichmentSource) Touch(now time.Time) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
}

// Validate requires a URL for every kind that is fetched remotely.
func (s *EnrichmentSource) Validate() error {
	if s.Kind != SourceKindFile && s.URL == "" {
		return fmt.Errorf("%w: url is required for %s sources", ErrMissingURL, s.Kind)
	}
	return nil
}
