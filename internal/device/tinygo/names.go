package tinygo

import (
	"github.com/cornelk/hashmap"
)

// nameCache remembers names looked up for peripherals that advertised
// without one. Each address is looked up at most once per cache, misses
// included.
type nameCache struct {
	lookup func(addr string) (string, error)
	names  *hashmap.Map[string, string]
}

func newNameCache(lookup func(addr string) (string, error)) *nameCache {
	return &nameCache{lookup: lookup, names: hashmap.New[string, string]()}
}

// resolve returns advertised when set, otherwise the cached or looked-up name.
func (c *nameCache) resolve(addr, advertised string) string {
	if c == nil {
		return advertised
	}
	if advertised != "" {
		c.names.Set(addr, advertised)
		return advertised
	}
	if c.lookup == nil {
		return ""
	}
	if name, ok := c.names.Get(addr); ok {
		return name
	}
	name, err := c.lookup(addr)
	if err != nil {
		name = ""
	}
	c.names.Set(addr, name)
	return name
}
