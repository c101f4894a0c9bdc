package feed

import "testing"

func TestCacheVersionLifecycle(t *testing.T) {
	// WHAT: Versions start at zero, move forward on Bump, and reset after
	// Forget.
	c := NewCache(8)
	defer c.Close()

	if v := c.Version("tgt_a"); v != 0 {
		t.Errorf("fresh version: got %d, want 0", v)
	}
	c.Bump("tgt_a")
	c.Bump("tgt_a")
	if v := c.Version("tgt_a"); v != 2 {
		t.Errorf("bumped version: got %d, want 2", v)
	}
	if v := c.Version("tgt_b"); v != 0 {
		t.Errorf("other target bumped too: got %d", v)
	}

	c.Forget("tgt_a")
	if v := c.Version("tgt_a"); v != 0 {
		t.Errorf("version after forget: got %d, want 0", v)
	}
}

func TestCacheKeyTracksVersion(t *testing.T) {
	// WHAT: A put lands under the current version; a bump makes it
	// invisible without touching the stored entry.
	c := NewCache(8)
	defer c.Close()

	c.put("tgt_a", "<rss v0/>")
	if doc, ok := c.get("tgt_a"); !ok || doc != "<rss v0/>" {
		t.Fatalf("get before bump: got %q, %v", doc, ok)
	}

	c.Bump("tgt_a")
	if _, ok := c.get("tgt_a"); ok {
		t.Error("stale rendering served after bump")
	}

	c.put("tgt_a", "<rss v1/>")
	if doc, _ := c.get("tgt_a"); doc != "<rss v1/>" {
		t.Errorf("get after re-render: got %q", doc)
	}
}
