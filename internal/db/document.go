package db

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"homeward/marketplace/internal/utils"
)

// toDoc turns a struct, Fields or map into a bson.M so both stores can treat writes uniformly.
func toDoc(v interface{}) (bson.M, error) {
	switch m := v.(type) {
	case nil:
		return nil, fmt.Errorf("document cannot be nil")
	case Fields:
		return copyFields(m), nil
	case bson.M:
		return copyFields(m), nil
	case map[string]interface{}:
		return copyFields(m), nil
	}

	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to normalise document: %w", err)
	}
	return doc, nil
}

func copyFields(m map[string]interface{}) bson.M {
	out := make(bson.M, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// splitTimestamps removes ServerTimestamp sentinels from doc and returns their field names.
func splitTimestamps(doc bson.M) []string {
	var stamped []string
	for k, v := range doc {
		if _, ok := v.(serverTimestamp); ok {
			stamped = append(stamped, k)
			delete(doc, k)
		}
	}
	return stamped
}

// ensureID returns the document's `_id`, assigning a generated one when it is missing or empty.
// The boolean reports whether the ID was generated.
func ensureID(doc bson.M) (string, bool) {
	if id, ok := doc["_id"].(string); ok && id != "" {
		return id, false
	}
	id := utils.NewID()
	doc["_id"] = id
	return id, true
}
