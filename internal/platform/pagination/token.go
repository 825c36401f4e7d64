package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Cursor is the last order of a page. Listings run newest first with the order ID breaking ties, so
// the next page starts at the first order strictly older than the cursor.
type Cursor struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
}

func (c Cursor) IsZero() bool {
	return c.ID == "" && c.CreatedAt.IsZero()
}

// After reports whether the order (createdAt, id) belongs on a page following c.
func (c Cursor) After(createdAt time.Time, id string) bool {
	switch {
	case c.IsZero():
		return true
	case createdAt.Equal(c.CreatedAt):
		return id < c.ID
	default:
		return createdAt.Before(c.CreatedAt)
	}
}

// EncodeToken returns an opaque page token, or "" for the zero cursor.
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.IsZero() {
		return "", nil
	}
	raw, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: marshal cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeToken is the inverse of EncodeToken. Blank input yields the zero cursor. Anything that was
// not produced by EncodeToken wraps ErrInvalidPageToken.
func DecodeToken(token string) (Cursor, error) {
	var cursor Cursor
	token = strings.TrimSpace(token)
	if token == "" {
		return cursor, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err == nil {
		err = json.Unmarshal(raw, &cursor)
	}
	if err == nil && cursor.ID == "" {
		err = errors.New("cursor has no order id")
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}
