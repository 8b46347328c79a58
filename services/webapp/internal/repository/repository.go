package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/grigta/webportal/pkg/database"
	"github.com/grigta/webportal/pkg/logger"
	"github.com/grigta/webportal/pkg/messaging"
	"github.com/grigta/webportal/pkg/schema"
)

// ErrDuplicateKey is returned by Create when the document collides with a unique index.
var ErrDuplicateKey = fmt.Errorf("duplicate key: %w", database.ErrDuplicate)

var ErrUnresolvableRef = errors.New("reference has no id")

// OpError describes one document the operation could not handle.
type OpError struct {
	Condition string `json:"condition" bson:"condition"`
	Msg       string `json:"msg" bson:"msg"`
}

// Result is returned by every operation that touches more than one document.
// Errors never abort the batch; Docs holds what succeeded.
type Result struct {
	Docs     []interface{} `json:"docs"`
	Errors   []OpError     `json:"errors"`
	Matched  int64         `json:"matched,omitempty"`
	Modified int64         `json:"modified,omitempty"`
}

func newResult() *Result {
	return &Result{
		Docs:   make([]interface{}, 0),
		Errors: make([]OpError, 0),
	}
}

func (r *Result) OK() bool {
	return len(r.Errors) == 0
}

func (r *Result) addError(condition, msg string) {
	r.Errors = append(r.Errors, OpError{Condition: condition, Msg: msg})
}

type UpdateItem struct {
	Condition bson.M `json:"condition"`
	Doc       bson.M `json:"doc"`
}

type UpdateOptions struct {
	// Multi applies each item to every match with a single $set.
	Multi bool
	// SkipValidation sends a multi $set without checking it against the schema.
	SkipValidation bool
}

type SortField struct {
	Field     string
	Direction int
}

type DBRef struct {
	Collection string             `bson:"$ref" json:"$ref"`
	ID         primitive.ObjectID `bson:"$id" json:"$id"`
	Database   string             `bson:"$db,omitempty" json:"$db,omitempty"`
}

func (r DBRef) Resolvable() bool {
	return !r.ID.IsZero()
}

type RenameResult struct {
	OK     int         `json:"ok"`
	ErrMsg interface{} `json:"errmsg,omitempty"`
}

type Repository struct {
	store     database.Store
	registry  *schema.Registry
	publisher messaging.EventPublisher
	metrics   *Metrics
	log       logger.Logger
	now       func() time.Time
}

type Option func(*Repository)

func WithPublisher(p messaging.EventPublisher) Option {
	return func(r *Repository) {
		r.publisher = p
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Repository) {
		r.metrics = m
	}
}

func WithLogger(l logger.Logger) Option {
	return func(r *Repository) {
		r.log = l
	}
}

func New(store database.Store, registry *schema.Registry, opts ...Option) *Repository {
	r := &Repository{
		store:    store,
		registry: registry,
		log:      logger.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(nil)
	}
	return r
}

func filterOf(condition bson.M) bson.M {
	if condition == nil {
		return bson.M{}
	}
	return condition
}

// describe renders a condition the way it is reported in OpError.
func describe(condition bson.M) string {
	data, err := bson.MarshalExtJSON(filterOf(condition), false, false)
	if err != nil {
		return fmt.Sprint(condition)
	}
	return string(data)
}

func withoutID(fields bson.M) bson.M {
	out := make(bson.M, len(fields))
	for k, v := range fields {
		if k == "_id" {
			continue
		}
		out[k] = v
	}
	return out
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
