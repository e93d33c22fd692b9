package model

import "testing"

func TestCanonicalizeSortsKeysAtEveryDepth(t *testing.T) {
	a := map[string]interface{}{
		"b": 2,
		"a": 1,
		"c": map[string]interface{}{"z": 1, "y": 2},
	}
	b := map[string]interface{}{
		"a": 1,
		"c": map[string]interface{}{"y": 2, "z": 1},
		"b": 2,
	}

	ca, err := Canonicalize(a)
	if err != nil {
		t.Fatalf("canonicalize a: %v", err)
	}
	cb, err := Canonicalize(b)
	if err != nil {
		t.Fatalf("canonicalize b: %v", err)
	}
	if ca != cb {
		t.Fatalf("expected byte-identical canonicalization, got %q vs %q", ca, cb)
	}
	const want = `{"a":1,"b":2,"c":{"y":2,"z":1}}`
	if ca != want {
		t.Fatalf("got %q, want %q", ca, want)
	}
}

func TestCanonicalizePreservesArrayOrder(t *testing.T) {
	got, err := Canonicalize(map[string]interface{}{"list": []interface{}{3, 1, 2}})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	const want = `{"list":[3,1,2]}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
