package schema

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Document is a typed record stored in a registered collection.
type Document interface {
	GetID() primitive.ObjectID
	SetID(id primitive.ObjectID)
}

// Validator is implemented by documents with rules the struct tags cannot express.
type Validator interface {
	Validate() error
}

// Timestamped documents get their created/updated stamps refreshed on every save.
type Timestamped interface {
	Touch(now time.Time)
}

type Schema struct {
	Collection string
	New        func() Document
	Indexes    []mongo.IndexModel
}

type IndexCreator interface {
	CreateIndexes(ctx context.Context, collection string, indexes []mongo.IndexModel) error
}

type Registry struct {
	mu       sync.RWMutex
	schemas  map[string]Schema
	validate *validator.Validate
}

func NewRegistry(schemas ...Schema) (*Registry, error) {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := bsonName(fld)
		if name == "-" {
			return ""
		}
		return name
	})

	r := &Registry{
		schemas:  make(map[string]Schema),
		validate: v,
	}
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(s Schema) error {
	name := Normalize(s.Collection)
	if name == "" || s.New == nil {
		return fmt.Errorf("%w: %q", ErrInvalidSchema, s.Collection)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	s.Collection = name
	r.schemas[name] = s
	return nil
}

func (r *Registry) Lookup(name string) (Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[Normalize(name)]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return s, nil
}

func (r *Registry) Collections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decode builds a fresh document of the schema's type and merges fields into it.
func (r *Registry) Decode(s Schema, fields bson.M) (Document, error) {
	doc := s.New()
	if err := Merge(doc, fields); err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *Registry) Validate(doc Document) error {
	if err := r.validate.Struct(doc); err != nil {
		return validationError(err)
	}
	if v, ok := doc.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	return nil
}

// ValidatePartial checks only the fields named by bsonKeys. Dotted keys are
// checked against their top-level field. Keys the document does not declare
// are rejected.
func (r *Registry) ValidatePartial(doc Document, bsonKeys []string) error {
	names := fieldNames(reflect.TypeOf(doc))

	var goNames []string
	var unknown []string
	for _, key := range bsonKeys {
		top := strings.SplitN(key, ".", 2)[0]
		if top == "_id" {
			continue
		}
		goName, ok := names[top]
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		if top == key {
			goNames = append(goNames, goName)
		}
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: unknown field(s) %s", ErrValidation, strings.Join(unknown, ", "))
	}
	if len(goNames) == 0 {
		return nil
	}

	if err := r.validate.StructPartial(doc, goNames...); err != nil {
		return validationError(err)
	}
	return nil
}

func (r *Registry) EnsureIndexes(ctx context.Context, creator IndexCreator) error {
	r.mu.RLock()
	schemas := make([]Schema, 0, len(r.schemas))
	for _, s := range r.schemas {
		schemas = append(schemas, s)
	}
	r.mu.RUnlock()

	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Collection < schemas[j].Collection })

	for _, s := range schemas {
		if err := creator.CreateIndexes(ctx, s.Collection, s.Indexes); err != nil {
			return err
		}
	}
	return nil
}

// Normalize lower-cases and trims a collection name.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Merge copies fields onto doc. Each top-level field named in fields is
// replaced as a whole, so a map or slice never keeps its old entries. Fields not
// present keep their current value.
func Merge(doc Document, fields bson.M) error {
	if len(fields) == 0 {
		return nil
	}

	data, err := bson.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	resetFields(doc, fields)
	if err := bson.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

func resetFields(doc Document, fields bson.M) {
	v := reflect.ValueOf(doc)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return
	}

	names := fieldNames(v.Type())
	for key := range fields {
		goName, ok := names[key]
		if !ok {
			continue
		}
		if f := v.FieldByName(goName); f.CanSet() {
			f.Set(reflect.Zero(f.Type()))
		}
	}
}

// ToMap renders a document the way it is stored.
func ToMap(doc Document) (bson.M, error) {
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := bson.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed on %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed on %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

func fieldNames(t reflect.Type) map[string]string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	names := make(map[string]string)
	if t.Kind() != reflect.Struct {
		return names
	}
	for i := 0; i < t.NumField(); i++ {
		fld := t.Field(i)
		if !fld.IsExported() {
			continue
		}
		name := bsonName(fld)
		if name == "-" {
			continue
		}
		names[name] = fld.Name
	}
	return names
}

func bsonName(fld reflect.StructField) string {
	tag := fld.Tag.Get("bson")
	name := strings.SplitN(tag, ",", 2)[0]
	if name == "" {
		return strings.ToLower(fld.Name)
	}
	return name
}
