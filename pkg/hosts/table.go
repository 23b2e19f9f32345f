// Package hosts holds the static name to IPv4 override table consulted before
// any network resolution.
package hosts

import (
	"net"
	"sort"
	"sync/atomic"
)

// Entry is a single override as loaded from configuration
type Entry struct {
	Enabled bool
	Name    string
	Address net.IP
}

// Table maps normalized host names to IPv4 addresses.
//
// Reload builds a fresh map and publishes it with a pointer swap; the
// published map is never written again. Lookups therefore need no lock and
// may observe either the previous or the new table while a reload races them.
type Table struct {
	entries atomic.Pointer[map[string]net.IP]
}

// NewTable creates an empty override table
func NewTable() *Table {
	t := &Table{}
	empty := make(map[string]net.IP)
	t.entries.Store(&empty)
	return t
}

// Reload replaces the whole table with the enabled IPv4 entries.
// Later duplicates win. It returns the number of names in the new table.
func (t *Table) Reload(entries []Entry) int {
	next := make(map[string]net.IP, len(entries))

	for _, e := range entries {
		if !e.Enabled {
			continue
		}
		v4 := e.Address.To4()
		if v4 == nil {
			continue
		}
		addr := make(net.IP, net.IPv4len)
		copy(addr, v4)
		next[normalizeDomain(e.Name)] = addr
	}

	t.entries.Store(&next)
	return len(next)
}

// Lookup returns the override for name, compared case-insensitively
func (t *Table) Lookup(name string) (net.IP, bool) {
	m := *t.entries.Load()

	addr, ok := m[normalizeDomain(name)]
	if !ok {
		return nil, false
	}

	out := make(net.IP, len(addr))
	copy(out, addr)
	return out, true
}

// Len returns the number of names in the table
func (t *Table) Len() int {
	return len(*t.entries.Load())
}

// Names returns the normalized names in the table, sorted
func (t *Table) Names() []string {
	m := *t.entries.Load()

	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
