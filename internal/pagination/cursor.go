// Package pagination provides cursor-based pagination over newest-first
// listings such as job history and the review queue.
package pagination

import (
	"encoding/base64"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the position of the last item on a page.
type Cursor struct {
	At time.Time
	ID string
}

// Encode returns an opaque cursor string from a timestamp and ID.
func Encode(at time.Time, id string) string {
	raw := strconv.FormatInt(at.UnixNano(), 10) + "|" + id
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor string. Returns nil for empty input.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return nil, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{At: time.Unix(0, nanos).UTC(), ID: parts[1]}, nil
}

// before reports whether (at, id) sorts after the cursor in newest-first
// order.
func (c *Cursor) before(at time.Time, id string) bool {
	if !at.Equal(c.At) {
		return at.Before(c.At)
	}
	return id < c.ID
}

// Page sorts items newest first (ties broken by descending id), drops
// everything up to and including the cursor, and returns at most limit
// items. The returned cursor is empty when there is nothing more.
func Page[T any](items []T, limit int, cursor *Cursor, key func(T) (time.Time, string)) ([]T, string) {
	sorted := make([]T, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		ai, ii := key(sorted[i])
		aj, ij := key(sorted[j])
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return ii > ij
	})

	start := 0
	if cursor != nil {
		start = len(sorted)
		for i, item := range sorted {
			if cursor.before(key(item)) {
				start = i
				break
			}
		}
	}
	sorted = sorted[start:]

	if limit <= 0 || len(sorted) <= limit {
		return sorted, ""
	}
	page := sorted[:limit]
	at, id := key(page[len(page)-1])
	return page, Encode(at, id)
}

// Limit parses a limit query value, falling back to def and capping at max.
func Limit(raw string, def, max int) int {
	limit := def
	if raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}
