package db

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Collection names shared by the services.
const (
	UsersCollection               = "users"
	BuyerListingsCollection       = "buyerListings"
	SellerListingsCollection      = "sellerListings"
	ProposalsCollection           = "proposals"
	TransactionsCollection        = "transactions"
	TransactionServicesCollection = "transactionServices"
	MessageChannelsCollection     = "messageChannels"
	MessagesCollection            = "messages"
	NotificationsCollection       = "notifications"
	AgentVerificationsCollection  = "agentVerifications"
	BuyerVerificationsCollection  = "buyerVerifications"
	SellerVerificationsCollection = "sellerVerifications"
	EmailTemplatesCollection      = "emailTemplates"
)

// ErrNotFound is returned by Get when no document has the requested ID.
var ErrNotFound = errors.New("document not found")

// ErrDuplicateID is returned by Add when a document with the given `_id` already exists.
var ErrDuplicateID = errors.New("document id already exists")

// RemoteCallError wraps any failure of the underlying store other than a missing document.
type RemoteCallError struct {
	Op         string
	Collection string
	Err        error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *RemoteCallError) Unwrap() error {
	return e.Err
}

func remoteErr(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	return &RemoteCallError{Op: op, Collection: collection, Err: err}
}

// Fields is a partial document used for merge writes. Keys are top-level BSON field names.
type Fields map[string]interface{}

type serverTimestamp struct{}

// ServerTimestamp may be used as a value in Fields; the store replaces it with its own current time.
var ServerTimestamp = serverTimestamp{}

// Op is a query comparison operator.
type Op string

const (
	OpEq       Op = "=="
	OpNe       Op = "!="
	OpLt       Op = "<"
	OpLte      Op = "<="
	OpGt       Op = ">"
	OpGte      Op = ">="
	OpIn       Op = "in"
	OpContains Op = "array-contains"
)

// Filter is a single (field, op, value) condition.
type Filter struct {
	Field string
	Op    Op
	Value interface{}
}

// Where builds a Filter.
func Where(field string, op Op, value interface{}) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Query describes a filtered, ordered, paginated read.
// Results are ordered by OrderBy and then by `_id` in the same direction.
// StartAfter is a value of the OrderBy field; only documents strictly after it (in the query's
// direction) are returned. With StartAfterID set, documents whose OrderBy value equals StartAfter
// are compared by `_id` instead of being skipped.
type Query struct {
	Filters      []Filter
	OrderBy      string
	Descending   bool
	Limit        int
	StartAfter   interface{}
	StartAfterID string
}

// Store is the document persistence contract the marketplace relies on.
type Store interface {
	// Get decodes the document with the given ID into out. Returns ErrNotFound if absent.
	Get(ctx context.Context, collection, id string, out interface{}) error
	// Set writes fields to the document with the given ID, creating it if needed.
	// With merge the given fields are set and the rest of the document is kept,
	// otherwise the document is replaced.
	Set(ctx context.Context, collection, id string, fields interface{}, merge bool) error
	// Add inserts doc and returns its ID. An empty `_id` gets a generated one.
	// An explicit `_id` that is already taken fails with ErrDuplicateID.
	Add(ctx context.Context, collection string, doc interface{}) (string, error)
	// Query decodes all matching documents into out, which must be a pointer to a slice.
	Query(ctx context.Context, collection string, q Query, out interface{}) error
	// UpdateWhere atomically merges fields into the document with the given ID if, and only if,
	// it currently satisfies every condition. It reports whether the document matched.
	UpdateWhere(ctx context.Context, collection, id string, conditions []Filter, fields Fields) (bool, error)
}

// Clock is the time source used by stores and services.
type Clock func() time.Time

// UTCNow is the default Clock.
func UTCNow() time.Time {
	return time.Now().UTC()
}
