package pagination

import (
	"errors"
	"net/url"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, params.PageSize)
	}
	if !params.Cursor.IsZero() {
		t.Fatalf("expected zero cursor, got %#v", params.Cursor)
	}
}

func TestParsePageSize(t *testing.T) {
	params, err := Parse(url.Values{"page_size": {"400"}})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultMaxPageSize {
		t.Fatalf("expected page size clamped to %d got %d", DefaultMaxPageSize, params.PageSize)
	}

	for _, raw := range []string{"abc", "0", "-3"} {
		if _, err := Parse(url.Values{"page_size": {raw}}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("expected ErrInvalidPageSize for %q, got %v", raw, err)
		}
	}
}

func TestTokenRoundTrip(t *testing.T) {
	cursor := Cursor{CreatedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), ID: "ord_01"}
	token, err := EncodeToken(cursor)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	params, err := Parse(url.Values{"page_token": {token}})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if !params.Cursor.CreatedAt.Equal(cursor.CreatedAt) || params.Cursor.ID != cursor.ID {
		t.Fatalf("unexpected cursor %#v", params.Cursor)
	}

	if _, err := Parse(url.Values{"page_token": {"%%%"}}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestCursorAfter(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	cursor := Cursor{CreatedAt: at, ID: "ord_05"}

	if !cursor.After(at.Add(-time.Minute), "ord_99") {
		t.Fatal("older entries sort after the cursor")
	}
	if cursor.After(at.Add(time.Minute), "ord_01") {
		t.Fatal("newer entries sort before the cursor")
	}
	if !cursor.After(at, "ord_04") || cursor.After(at, "ord_05") {
		t.Fatal("ties break on descending id")
	}
}
