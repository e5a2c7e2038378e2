package db

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// MemoryStore is an in-process Store. Documents are kept BSON-encoded so decoding follows the same
// struct tags as the MongoDB store. It is used by tests and by local runs without a database.
type MemoryStore struct {
	mu    sync.RWMutex
	now   Clock
	docs  map[string]map[string]bson.Raw
	order map[string][]string // insertion order per collection
}

// NewMemoryStore creates an empty MemoryStore. A nil clock means UTCNow.
func NewMemoryStore(now Clock) *MemoryStore {
	if now == nil {
		now = UTCNow
	}
	return &MemoryStore{
		now:   now,
		docs:  make(map[string]map[string]bson.Raw),
		order: make(map[string][]string),
	}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, collection, id string, out interface{}) error {
	s.mu.RLock()
	raw, ok := s.docs[collection][id]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if err := bson.Unmarshal(raw, out); err != nil {
		return remoteErr("get", collection, err)
	}
	return nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, collection, id string, fields interface{}, merge bool) error {
	doc, err := toDoc(fields)
	if err != nil {
		return remoteErr("set", collection, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(collection, id, doc, merge)
}

// Add implements Store.
func (s *MemoryStore) Add(ctx context.Context, collection string, doc interface{}) (string, error) {
	m, err := toDoc(doc)
	if err != nil {
		return "", remoteErr("add", collection, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, generated := ensureID(m)
	for generated && s.existsLocked(collection, id) {
		delete(m, "_id")
		id, generated = ensureID(m)
	}
	if s.existsLocked(collection, id) {
		return "", remoteErr("add", collection, fmt.Errorf("%w: %q", ErrDuplicateID, id))
	}
	if err := s.writeLocked(collection, id, m, false); err != nil {
		return "", err
	}
	return id, nil
}

// UpdateWhere implements Store.
func (s *MemoryStore) UpdateWhere(ctx context.Context, collection, id string, conditions []Filter, fields Fields) (bool, error) {
	doc, err := toDoc(fields)
	if err != nil {
		return false, remoteErr("update", collection, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.docs[collection][id]
	if !ok {
		return false, nil
	}
	matched, err := matchAll(raw, conditions)
	if err != nil {
		return false, remoteErr("update", collection, err)
	}
	if !matched {
		return false, nil
	}
	return true, s.writeLocked(collection, id, doc, true)
}

// Query implements Store.
func (s *MemoryStore) Query(ctx context.Context, collection string, q Query, out interface{}) error {
	sliceVal := reflect.ValueOf(out)
	if sliceVal.Kind() != reflect.Ptr || sliceVal.Elem().Kind() != reflect.Slice {
		return remoteErr("query", collection, fmt.Errorf("out must be a pointer to a slice, got %T", out))
	}

	s.mu.RLock()
	var matched []bson.Raw
	for _, id := range s.order[collection] {
		raw := s.docs[collection][id]
		ok, err := matchAll(raw, q.Filters)
		if err == nil && ok {
			ok, err = afterCursor(raw, q)
		}
		if err != nil {
			s.mu.RUnlock()
			return remoteErr("query", collection, err)
		}
		if ok {
			matched = append(matched, raw)
		}
	}
	s.mu.RUnlock()

	if q.OrderBy != "" {
		path := fieldPath(q.OrderBy)
		sort.SliceStable(matched, func(i, j int) bool {
			c := compareForSort(matched[i].Lookup(path...), matched[j].Lookup(path...))
			if c == 0 {
				c = strings.Compare(docID(matched[i]), docID(matched[j]))
			}
			if q.Descending {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	elemType := sliceVal.Elem().Type().Elem()
	result := reflect.MakeSlice(sliceVal.Elem().Type(), 0, len(matched))
	for _, raw := range matched {
		elem := reflect.New(elemType)
		if err := bson.Unmarshal(raw, elem.Interface()); err != nil {
			return remoteErr("query", collection, err)
		}
		result = reflect.Append(result, elem.Elem())
	}
	sliceVal.Elem().Set(result)
	return nil
}

func (s *MemoryStore) existsLocked(collection, id string) bool {
	_, ok := s.docs[collection][id]
	return ok
}

func (s *MemoryStore) writeLocked(collection, id string, doc bson.M, merge bool) error {
	now := s.now()
	for _, field := range splitTimestamps(doc) {
		doc[field] = now
	}

	target := doc
	if existing, ok := s.docs[collection][id]; ok && merge {
		var current bson.M
		if err := bson.Unmarshal(existing, &current); err != nil {
			return remoteErr("set", collection, err)
		}
		for k, v := range doc {
			current[k] = v
		}
		target = current
	}
	target["_id"] = id

	raw, err := bson.Marshal(target)
	if err != nil {
		return remoteErr("set", collection, err)
	}
	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]bson.Raw)
	}
	if _, ok := s.docs[collection][id]; !ok {
		s.order[collection] = append(s.order[collection], id)
	}
	s.docs[collection][id] = raw
	return nil
}

func docID(raw bson.Raw) string {
	id, _ := raw.Lookup("_id").StringValueOK()
	return id
}

// afterCursor reports whether raw comes strictly after the query's (StartAfter, StartAfterID) position.
func afterCursor(raw bson.Raw, q Query) (bool, error) {
	if q.StartAfter == nil || q.OrderBy == "" {
		return true, nil
	}
	want, err := rawValueOf(q.StartAfter)
	if err != nil {
		return false, err
	}
	c, comparable := compareValues(raw.Lookup(fieldPath(q.OrderBy)...), want)
	if !comparable {
		return false, nil
	}
	if c == 0 && q.StartAfterID != "" {
		c = strings.Compare(docID(raw), q.StartAfterID)
	}
	if q.Descending {
		c = -c
	}
	return c > 0, nil
}

func fieldPath(field string) []string {
	return strings.Split(field, ".")
}

func matchAll(raw bson.Raw, filters []Filter) (bool, error) {
	for _, f := range filters {
		ok, err := matchFilter(raw.Lookup(fieldPath(f.Field)...), f)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchFilter(actual bson.RawValue, f Filter) (bool, error) {
	switch f.Op {
	case OpIn:
		values := reflect.ValueOf(f.Value)
		if values.Kind() != reflect.Slice && values.Kind() != reflect.Array {
			return false, fmt.Errorf("filter %s in: value must be a slice", f.Field)
		}
		for i := 0; i < values.Len(); i++ {
			want, err := rawValueOf(values.Index(i).Interface())
			if err != nil {
				return false, err
			}
			if valuesEqual(actual, want) {
				return true, nil
			}
		}
		return false, nil
	case OpContains:
		if actual.Type != bsontype.Array {
			return false, nil
		}
		want, err := rawValueOf(f.Value)
		if err != nil {
			return false, err
		}
		elems, err := actual.Array().Values()
		if err != nil {
			return false, err
		}
		for _, e := range elems {
			if valuesEqual(e, want) {
				return true, nil
			}
		}
		return false, nil
	}

	want, err := rawValueOf(f.Value)
	if err != nil {
		return false, err
	}
	switch f.Op {
	case OpEq:
		return valuesEqual(actual, want), nil
	case OpNe:
		return !valuesEqual(actual, want), nil
	}

	c, comparable := compareValues(actual, want)
	if !comparable {
		return false, nil
	}
	switch f.Op {
	case OpLt:
		return c < 0, nil
	case OpLte:
		return c <= 0, nil
	case OpGt:
		return c > 0, nil
	case OpGte:
		return c >= 0, nil
	}
	return false, fmt.Errorf("unsupported filter operator %q", f.Op)
}

func rawValueOf(v interface{}) (bson.RawValue, error) {
	if v == nil {
		return bson.RawValue{Type: bsontype.Null}, nil
	}
	t, data, err := bson.MarshalValue(v)
	if err != nil {
		return bson.RawValue{}, fmt.Errorf("failed to encode filter value %v: %w", v, err)
	}
	return bson.RawValue{Type: t, Value: data}, nil
}

func isMissing(v bson.RawValue) bool {
	return v.Type == 0 || v.Type == bsontype.Null || v.Type == bsontype.Undefined
}

func valuesEqual(a, b bson.RawValue) bool {
	if isMissing(a) || isMissing(b) {
		return isMissing(a) && isMissing(b)
	}
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return a.Type == b.Type && bytes.Equal(a.Value, b.Value)
}

func numeric(v bson.RawValue) (float64, bool) {
	switch v.Type {
	case bsontype.Double:
		return v.Double(), true
	case bsontype.Int32:
		return float64(v.Int32()), true
	case bsontype.Int64:
		return float64(v.Int64()), true
	}
	return 0, false
}

// compareValues orders two scalar values of compatible types.
func compareValues(a, b bson.RawValue) (int, bool) {
	if af, ok := numeric(a); ok {
		bf, ok := numeric(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	if a.Type != b.Type {
		return 0, false
	}
	switch a.Type {
	case bsontype.String:
		return strings.Compare(a.StringValue(), b.StringValue()), true
	case bsontype.DateTime:
		ad, bd := a.DateTime(), b.DateTime()
		switch {
		case ad < bd:
			return -1, true
		case ad > bd:
			return 1, true
		}
		return 0, true
	case bsontype.Boolean:
		ab, bb := a.Boolean(), b.Boolean()
		switch {
		case ab == bb:
			return 0, true
		case !ab:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// compareForSort is compareValues with missing values first and incomparable values treated as equal.
func compareForSort(a, b bson.RawValue) int {
	switch {
	case isMissing(a) && isMissing(b):
		return 0
	case isMissing(a):
		return -1
	case isMissing(b):
		return 1
	}
	c, _ := compareValues(a, b)
	return c
}
