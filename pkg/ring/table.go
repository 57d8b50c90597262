package ring

import (
	"fmt"
	"slices"
	"sort"
)

// Identity names one node: the role it plays and its externally assigned id.
// Ids are unique across the ring.
type Identity struct {
	Role string `json:"role"`
	ID   int    `json:"id"`
}

func (i Identity) String() string { return fmt.Sprintf("%s(%d)", i.Role, i.ID) }

// Table maps a role name to the ids registered under it, in merge order.
type Table map[string][]int

func NewTable(self Identity) Table {
	return Table{self.Role: {self.ID}}
}

// Merge adds id under its role if absent and reports whether t changed.
func (t Table) Merge(id Identity) bool {
	if slices.Contains(t[id.Role], id.ID) {
		return false
	}
	t[id.Role] = append(t[id.Role], id.ID)
	return true
}

func (t Table) Has(id Identity) bool {
	return slices.Contains(t[id.Role], id.ID)
}

// Size counts (role, id) pairs.
func (t Table) Size() int {
	n := 0
	for _, ids := range t {
		n += len(ids)
	}
	return n
}

// IDs returns a copy of the ids under role.
func (t Table) IDs(role string) []int {
	return slices.Clone(t[role])
}

func (t Table) Clone() Table {
	out := make(Table, len(t))
	for role, ids := range t {
		out[role] = slices.Clone(ids)
	}
	return out
}

// Members lists every identity sorted by id.
func (t Table) Members() []Identity {
	out := make([]Identity, 0, t.Size())
	for role, ids := range t {
		for _, id := range ids {
			out = append(out, Identity{Role: role, ID: id})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Equal compares as sets; merge order does not matter.
func (t Table) Equal(o Table) bool {
	if t.Size() != o.Size() {
		return false
	}
	for _, m := range t.Members() {
		if !o.Has(m) {
			return false
		}
	}
	return true
}
