// Package pagination implements the cursor scheme shared by every list
// endpoint: an opaque cursor naming the last-seen row, descending id
// order, and a limit+1 fetch to detect the next page.
package pagination

import (
	"fmt"

	"github.com/evalforge/evalforge/api/internal/pkg/globalid"
)

// DefaultLimit is applied when a list request omits the limit.
const DefaultLimit = 50

// MaxLimit caps the page size of any list endpoint.
const MaxLimit = 1000

// Args holds the decoded pagination arguments of one list request.
type Args struct {
	// AfterID is the storage key of the last-seen row; rows with
	// id <= AfterID form the requested page. Zero means first page.
	AfterID int64
	// Limit is the page size, always in [1, MaxLimit].
	Limit int
}

// FetchLimit is the number of rows to request from storage: one more
// than the page size, so the presence of a next page is known without
// a second query.
func (a Args) FetchLimit() int {
	return a.Limit + 1
}

// ParseArgs validates a raw cursor/limit pair. The cursor, when set,
// must be a global id carrying the expected entity tag.
func ParseArgs(cursor *string, limit *int, tag globalid.Tag) (Args, error) {
	args := Args{Limit: DefaultLimit}

	if limit != nil {
		if *limit <= 0 {
			return Args{}, fmt.Errorf("limit must be positive, got %d", *limit)
		}
		args.Limit = *limit
		if args.Limit > MaxLimit {
			args.Limit = MaxLimit
		}
	}

	if cursor != nil && *cursor != "" {
		key, err := globalid.KeyFor(*cursor, tag)
		if err != nil {
			return Args{}, fmt.Errorf("malformed cursor: %w", err)
		}
		args.AfterID = key
	}

	return args, nil
}

// Page is one page of results plus the cursor of the next page, if any.
type Page[T any] struct {
	Items      []T     `json:"items"`
	NextCursor *string `json:"nextCursor,omitempty"`
}

// NewPage trims a limit+1 row fetch down to the page size. When the
// extra row is present it is dropped and its id becomes the next
// cursor; otherwise there is no next page.
func NewPage[T any](rows []T, limit int, cursorOf func(T) string) Page[T] {
	if len(rows) <= limit {
		return Page[T]{Items: rows}
	}

	next := cursorOf(rows[limit])
	return Page[T]{
		Items:      rows[:limit],
		NextCursor: &next,
	}
}
