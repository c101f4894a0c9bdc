package feed

import (
	"strconv"

	"github.com/maypok86/otter"
	"github.com/puzpuzpuz/xsync/v4"
)

// Cache keeps rendered feed XML keyed by "<targetID>#<version>". Versions
// move forward on every accepted event insert and on target mutation, so a
// bump makes every reader re-render without any explicit invalidation; stale
// versions age out of the bounded cache by LRU.
type Cache struct {
	rendered otter.Cache[string, string]
	versions *xsync.Map[string, uint64]
}

// NewCache builds a cache bounded to capacity rendered documents.
func NewCache(capacity int) *Cache {
	rendered, err := otter.MustBuilder[string, string](capacity).
		Cost(func(_ string, _ string) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("feed: cache build: " + err.Error())
	}
	return &Cache{
		rendered: rendered,
		versions: xsync.NewMap[string, uint64](),
	}
}

// Bump advances the target's feed version, retiring any cached rendering.
func (c *Cache) Bump(targetID string) {
	c.versions.Compute(targetID, func(old uint64, _ bool) (uint64, xsync.ComputeOp) {
		return old + 1, xsync.UpdateOp
	})
}

// Forget drops the version counter after a target is deleted. Its cached
// documents are left to LRU.
func (c *Cache) Forget(targetID string) {
	c.versions.Delete(targetID)
}

// Version reports the target's current feed version. Unknown targets are
// version zero.
func (c *Cache) Version(targetID string) uint64 {
	v, _ := c.versions.Load(targetID)
	return v
}

func (c *Cache) key(targetID string) string {
	return targetID + "#" + strconv.FormatUint(c.Version(targetID), 10)
}

func (c *Cache) get(targetID string) (string, bool) {
	return c.rendered.Get(c.key(targetID))
}

func (c *Cache) put(targetID, xml string) {
	c.rendered.Set(c.key(targetID), xml)
}

// Close releases the underlying cache.
func (c *Cache) Close() {
	c.rendered.Close()
}
