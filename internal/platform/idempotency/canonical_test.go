package idempotency

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestCanonicalize_SortsKeysAtEveryDepth(t *testing.T) {
	a := map[string]any{
		"b": 1,
		"a": map[string]any{"z": true, "y": []any{"x", 2}},
	}
	b := map[string]any{
		"a": map[string]any{"y": []any{"x", 2}, "z": true},
		"b": 1,
	}

	left, err := Canonicalize(a)
	if err != nil {
		t.Fatalf("canonicalize a: %v", err)
	}
	right, err := Canonicalize(b)
	if err != nil {
		t.Fatalf("canonicalize b: %v", err)
	}
	if string(left) != string(right) {
		t.Fatalf("expected identical serialisation, got %s vs %s", left, right)
	}
	if want := `{"a":{"y":["x",2],"z":true},"b":1}`; string(left) != want {
		t.Fatalf("unexpected canonical form: %s", left)
	}
}

func TestCanonicalize_StructsUseJSONNames(t *testing.T) {
	type item struct {
		Quantity int    `json:"quantity"`
		Name     string `json:"name"`
		Note     string `json:"note,omitempty"`
		Secret   string `json:"-"`
	}
	got, err := Canonicalize(item{Quantity: 2, Name: "mug", Secret: "x"})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if want := `{"name":"mug","quantity":2}`; string(got) != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCanonicalize_DecodedAndTypedPayloadsMatch(t *testing.T) {
	type line struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
	}
	typed, err := Canonicalize(map[string]any{"items": []line{{ProductID: "p1", Quantity: 3}}})
	if err != nil {
		t.Fatalf("canonicalize typed: %v", err)
	}

	decoder := json.NewDecoder(strings.NewReader(`{"items":[{"quantity":3,"productId":"p1"}]}`))
	decoder.UseNumber()
	var decoded any
	if err := decoder.Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	fromJSON, err := Canonicalize(decoded)
	if err != nil {
		t.Fatalf("canonicalize decoded: %v", err)
	}
	if string(typed) != string(fromJSON) {
		t.Fatalf("expected %s, got %s", typed, fromJSON)
	}
}

func TestCanonicalize_HandlesCycles(t *testing.T) {
	type node struct {
		Name string `json:"name"`
		Next *node  `json:"next"`
	}
	n := &node{Name: "a"}
	n.Next = n

	got, err := Canonicalize(n)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if want := `{"name":"a","next":"[Circular]"}`; string(got) != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	m := map[string]any{"k": 1}
	m["self"] = m
	got, err = Canonicalize(m)
	if err != nil {
		t.Fatalf("canonicalize map: %v", err)
	}
	if want := `{"k":1,"self":"[Circular]"}`; string(got) != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCanonicalize_SharedReferenceIsNotCycle(t *testing.T) {
	shared := map[string]any{"v": 1}
	got, err := Canonicalize(map[string]any{"a": shared, "b": shared})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if want := `{"a":{"v":1},"b":{"v":1}}`; string(got) != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCanonicalize_ExpandsMarshalers(t *testing.T) {
	ts := time.Date(2024, time.March, 3, 10, 0, 0, 0, time.UTC)
	got, err := Canonicalize(map[string]any{"at": ts})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if want := `{"at":"2024-03-03T10:00:00Z"}`; string(got) != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestHash_DiffersForDifferentPayloads(t *testing.T) {
	h1, err := Hash(map[string]any{"quantity": 1})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := Hash(map[string]any{"quantity": 2})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 == h2 {
		t.Fatal("expected different hashes")
	}
	if len(h1) != 64 {
		t.Fatalf("expected hex sha-256, got %q", h1)
	}
}
