package db

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore is the production Store backed by a MongoDB database.
type MongoStore struct {
	db  *mongo.Database
	now Clock
}

// NewMongoStore wraps database in a Store.
func NewMongoStore(database *mongo.Database) *MongoStore {
	return &MongoStore{db: database, now: UTCNow}
}

// Database exposes the underlying database for index management and tests.
func (s *MongoStore) Database() *mongo.Database {
	return s.db
}

func (s *MongoStore) Get(ctx context.Context, collection, id string, out interface{}) error {
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return remoteErr("get", collection, err)
}

func (s *MongoStore) Set(ctx context.Context, collection, id string, fields interface{}, merge bool) error {
	doc, err := toDoc(fields)
	if err != nil {
		return remoteErr("set", collection, err)
	}
	delete(doc, "_id")
	coll := s.db.Collection(collection)

	if !merge {
		now := s.now()
		for _, field := range splitTimestamps(doc) {
			doc[field] = now
		}
		_, err = coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
		return remoteErr("set", collection, err)
	}

	_, err = coll.UpdateOne(ctx, bson.M{"_id": id}, mergeUpdate(doc), options.Update().SetUpsert(true))
	return remoteErr("set", collection, err)
}

func (s *MongoStore) Add(ctx context.Context, collection string, doc interface{}) (string, error) {
	m, err := toDoc(doc)
	if err != nil {
		return "", remoteErr("add", collection, err)
	}
	now := s.now()
	for _, field := range splitTimestamps(m) {
		m[field] = now
	}

	var id string
	err = Try(ctx, func() error {
		var generated bool
		id, generated = ensureID(m)
		_, insertErr := s.db.Collection(collection).InsertOne(ctx, m)
		if insertErr != nil && generated {
			delete(m, "_id")
		}
		if !generated && IsMongoDuplicateKeyError(insertErr) {
			return fmt.Errorf("%w: %q: %v", ErrDuplicateID, id, insertErr)
		}
		return insertErr
	})
	if err != nil {
		return "", remoteErr("add", collection, err)
	}
	return id, nil
}

func (s *MongoStore) Query(ctx context.Context, collection string, q Query, out interface{}) error {
	filter, err := buildMongoFilter(q.Filters)
	if err != nil {
		return remoteErr("query", collection, err)
	}

	opts := options.Find()
	if q.OrderBy != "" {
		dir, op := 1, "$gt"
		if q.Descending {
			dir, op = -1, "$lt"
		}
		order := bson.D{{Key: q.OrderBy, Value: dir}}
		if q.OrderBy != "_id" {
			order = append(order, bson.E{Key: "_id", Value: dir})
		}
		opts.SetSort(order)

		if q.StartAfter != nil {
			after := bson.A{bson.M{q.OrderBy: bson.M{op: q.StartAfter}}}
			if q.StartAfterID != "" {
				after = append(after, bson.M{q.OrderBy: q.StartAfter, "_id": bson.M{op: q.StartAfterID}})
			}
			filter["$or"] = after
		}
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return remoteErr("query", collection, err)
	}
	defer cursor.Close(ctx)
	return remoteErr("query", collection, cursor.All(ctx, out))
}

func (s *MongoStore) UpdateWhere(ctx context.Context, collection, id string, conditions []Filter, fields Fields) (bool, error) {
	filter, err := buildMongoFilter(conditions)
	if err != nil {
		return false, remoteErr("update", collection, err)
	}
	filter["_id"] = id

	doc, err := toDoc(fields)
	if err != nil {
		return false, remoteErr("update", collection, err)
	}
	delete(doc, "_id")

	res, err := s.db.Collection(collection).UpdateOne(ctx, filter, mergeUpdate(doc))
	if err != nil {
		return false, remoteErr("update", collection, err)
	}
	return res.MatchedCount > 0, nil
}

// mergeUpdate builds a $set update, mapping ServerTimestamp fields to $currentDate.
func mergeUpdate(doc bson.M) bson.M {
	update := bson.M{}
	if stamped := splitTimestamps(doc); len(stamped) > 0 {
		current := bson.M{}
		for _, field := range stamped {
			current[field] = true
		}
		update["$currentDate"] = current
	}
	if len(doc) > 0 {
		update["$set"] = doc
	}
	return update
}

var mongoOps = map[Op]string{
	OpEq:       "$eq",
	OpNe:       "$ne",
	OpLt:       "$lt",
	OpLte:      "$lte",
	OpGt:       "$gt",
	OpGte:      "$gte",
	OpIn:       "$in",
	OpContains: "$eq", // equality against an array field matches any element
}

func buildMongoFilter(filters []Filter) (bson.M, error) {
	filter := bson.M{}
	for _, f := range filters {
		op, ok := mongoOps[f.Op]
		if !ok {
			return nil, fmt.Errorf("unsupported filter operator %q", f.Op)
		}
		ops, _ := filter[f.Field].(bson.M)
		if ops == nil {
			ops = bson.M{}
			filter[f.Field] = ops
		}
		ops[op] = f.Value
	}
	return filter, nil
}
