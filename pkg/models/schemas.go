package models

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/grigta/webportal/pkg/schema"
)

// Schemas lists every collection the application stores typed documents in.
func Schemas() []schema.Schema {
	return []schema.Schema{
		{
			Collection: UserCollection,
			New:        func() schema.Document { return &User{} },
			Indexes: []mongo.IndexModel{
				{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
				{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
			},
		},
		enrichmentSourceSchema(EnrichmentSourceCollection),
		enrichmentSourceSchema(PreviousEnrichmentSourceCollection),
	}
}

func NewRegistry() (*schema.Registry, error) {
	return schema.NewRegistry(Schemas()...)
}

func enrichmentSourceSchema(collection string) schema.Schema {
	return schema.Schema{
		Collection: collection,
		New:        func() schema.Document { return &EnrichmentSource{} },
		Indexes: []mongo.IndexModel{
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "priority", Value: -1}}},
		},
	}
}
