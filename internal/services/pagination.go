package services

import (
	"fmt"
	"strings"
	"time"

	"homeward/marketplace/internal/db"
)

// PageCursor is the position of the last item of a page ordered by created_at. ID separates items created
// in the same millisecond. It travels as "<RFC 3339 created_at>_<id>"; a bare timestamp is accepted too.
type PageCursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorAfter returns the cursor that continues a listing after the item (createdAt, id).
func CursorAfter(createdAt time.Time, id string) *PageCursor {
	return &PageCursor{CreatedAt: createdAt, ID: id}
}

// ParsePageCursor decodes a cursor produced by PageCursor.String.
func ParsePageCursor(raw string) (*PageCursor, error) {
	ts, id, _ := strings.Cut(raw, "_")
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor %q: %w", raw, err)
	}
	return &PageCursor{CreatedAt: t, ID: id}, nil
}

func (c PageCursor) String() string {
	s := c.CreatedAt.UTC().Format(time.RFC3339Nano)
	if c.ID != "" {
		s += "_" + c.ID
	}
	return s
}

func (c PageCursor) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *PageCursor) UnmarshalText(text []byte) error {
	parsed, err := ParsePageCursor(string(text))
	if err != nil {
		return err
	}
	*c = *parsed
	return nil
}

// apply positions q after the cursor. A nil cursor leaves q untouched.
func (c *PageCursor) apply(q *db.Query) {
	if c == nil {
		return
	}
	q.StartAfter = c.CreatedAt
	q.StartAfterID = c.ID
}
