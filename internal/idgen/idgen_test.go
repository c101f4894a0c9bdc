package idgen

import (
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDv7(t *testing.T) {
	// WHAT: The default generator yields parseable, time-ordered v7 UUIDs.
	// WHY: Event IDs double as keyset-pagination tie-breakers, so later
	// IDs must sort after earlier ones.
	gen := UUIDv7()

	ids := make([]string, 100)
	seen := make(map[string]bool, len(ids))
	for i := range ids {
		ids[i] = gen()
		if seen[ids[i]] {
			t.Fatalf("duplicate ID %q", ids[i])
		}
		seen[ids[i]] = true

		u, err := uuid.Parse(ids[i])
		if err != nil {
			t.Fatalf("unparseable UUID %q: %v", ids[i], err)
		}
		if u.Version() != 7 {
			t.Fatalf("got version %d, want 7", u.Version())
		}
	}

	if !sort.StringsAreSorted(ids) {
		t.Error("v7 UUIDs generated in sequence must sort in generation order")
	}
}

func TestNanoID(t *testing.T) {
	// WHAT: Slug IDs honor the requested length and alphabet.
	gen := NanoID(8)
	for range 50 {
		id := gen()
		if len(id) != 8 {
			t.Fatalf("length: got %d, want 8 (%q)", len(id), id)
		}
		for _, r := range id {
			if !strings.ContainsRune("0123456789abcdefghijklmnopqrstuvwxyz", r) {
				t.Fatalf("character %q outside alphabet in %q", r, id)
			}
		}
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("tgt_", NanoID(6))
	id := gen()
	if !strings.HasPrefix(id, "tgt_") {
		t.Errorf("got %q, want tgt_ prefix", id)
	}
	if len(id) != len("tgt_")+6 {
		t.Errorf("length: got %d, want %d", len(id), len("tgt_")+6)
	}
}
