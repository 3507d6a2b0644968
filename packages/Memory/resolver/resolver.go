// Package resolver turns version-specific pointer chains into live
// addresses. Chains break all the time (loading screens, area transitions,
// main menu), so "did not resolve" is an expected state and never an error.
package resolver

import (
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/memory"
)

// Plausible user-mode pointer range on x64 Windows. Anything nonzero
// outside of it is garbage, not a structure that is still loading.
const (
	minPlausible = uintptr(0x10000)
	maxPlausible = uintptr(1) << 47
)

func plausible(addr uintptr) bool {
	return addr >= minPlausible && addr < maxPlausible
}

// Chain describes base-relative hops to a game structure: start at
// moduleBase+Base, then for every offset dereference and add. Span is the
// byte size of the target structure; the resolved region keeps that span
// registered so field reads on the handle pass the accessor's validation.
type Chain struct {
	Name    string
	Base    int64
	Offsets []int64
	Span    uintptr
}

func addOffset(addr uintptr, off int64) uintptr {
	return uintptr(int64(addr) + off)
}

// Resolve walks the chain through m. The second return is false when the
// chain is currently unavailable (null or unreadable hop). A hop that
// yields a nonzero value outside any plausible range returns a MemoryFault:
// that chain is wrong for this binary, not merely not loaded yet.
func (c Chain) Resolve(m memory.Accessor, moduleBase uintptr) (uintptr, bool, error) {
	cur := addOffset(moduleBase, c.Base)
	scratch := "chain#" + c.Name
	defer m.DropRegion(scratch)

	for _, off := range c.Offsets {
		m.RegisterRegion(memory.Region{Name: scratch, Base: cur, Size: memory.PointerSize})
		ptr, err := memory.ReadPointer(m, cur)
		if err != nil {
			return 0, false, nil
		}
		if ptr == 0 {
			return 0, false, nil
		}
		if !plausible(ptr) {
			return 0, false, &memory.MemoryFault{Addr: cur, Size: memory.PointerSize,
				Reason: "chain " + c.Name + " dereferenced an implausible pointer"}
		}
		cur = addOffset(ptr, off)
	}
	if !plausible(cur) {
		return 0, false, &memory.MemoryFault{Addr: cur, Reason: "chain " + c.Name + " resolved out of range"}
	}
	return cur, true, nil
}

// Cache holds the resolved handle per chain. Handles are refreshed every
// tick and never trusted across ticks; the game tears structures down and
// rebuilds them between frames.
type Cache struct {
	mem        memory.Accessor
	moduleBase uintptr
	chains     []Chain
	handles    map[string]uintptr
	faulted    map[string]bool
}

// NewCache with an empty chain set is the fail-closed configuration for an
// unrecognized game version: every Get stays unavailable forever.
func NewCache(m memory.Accessor, moduleBase uintptr, chains []Chain) *Cache {
	return &Cache{
		mem:        m,
		moduleBase: moduleBase,
		chains:     chains,
		handles:    map[string]uintptr{},
		faulted:    map[string]bool{},
	}
}

// Refresh re-resolves every chain. Chains that fault are disabled for the
// rest of the session; the returned errors are for logging once.
func (c *Cache) Refresh() []error {
	var errs []error
	for _, ch := range c.chains {
		if c.faulted[ch.Name] {
			continue
		}
		addr, ok, err := ch.Resolve(c.mem, c.moduleBase)
		if err != nil {
			c.faulted[ch.Name] = true
			delete(c.handles, ch.Name)
			c.mem.DropRegion("handle#" + ch.Name)
			errs = append(errs, err)
			continue
		}
		if !ok {
			delete(c.handles, ch.Name)
			c.mem.DropRegion("handle#" + ch.Name)
			continue
		}
		c.handles[ch.Name] = addr
		c.mem.RegisterRegion(memory.Region{Name: "handle#" + ch.Name, Base: addr, Size: ch.Span})
	}
	return errs
}

// Get returns the handle resolved by the last Refresh. ok is false while
// the structure is unavailable.
func (c *Cache) Get(name string) (uintptr, bool) {
	addr, ok := c.handles[name]
	return addr, ok
}

// Faulted reports whether the chain was disabled by a MemoryFault.
func (c *Cache) Faulted(name string) bool {
	return c.faulted[name]
}

// Drop forgets every handle, used at detach.
func (c *Cache) Drop() {
	for name := range c.handles {
		c.mem.DropRegion("handle#" + name)
	}
	c.handles = map[string]uintptr{}
}
