package engine

import (
	"sort"

	"github.com/roach88/shopsync/internal/ir"
)

// Snapshot is an immutable view of the authoritative store. Readers
// obtain one with Engine.Snapshot and may hold it as long as they like;
// the Run loop never mutates a published snapshot.
type Snapshot struct {
	seq    int64
	tables map[ir.EntityType]map[string]ir.Entity
}

func emptySnapshot() *Snapshot {
	return &Snapshot{tables: map[ir.EntityType]map[string]ir.Entity{}}
}

// Seq returns the logical time of the last event included in the snapshot.
func (s *Snapshot) Seq() int64 {
	return s.seq
}

// Get returns the entity with the given type and id.
func (s *Snapshot) Get(t ir.EntityType, id string) (ir.Entity, bool) {
	e, ok := s.tables[t][ir.NormalizeKey(id)]
	return e, ok
}

// List returns every entity of a type ordered by id (binary collation).
func (s *Snapshot) List(t ir.EntityType) []ir.Entity {
	table := s.tables[t]
	out := make([]ir.Entity, 0, len(table))
	for _, e := range table {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of entities of a type.
func (s *Snapshot) Len(t ir.EntityType) int {
	return len(s.tables[t])
}

// clone copies the table index and the tables named in touched. Untouched
// tables are shared with the receiver.
func (s *Snapshot) clone(seq int64, touched ...ir.EntityType) *Snapshot {
	next := &Snapshot{seq: seq, tables: make(map[ir.EntityType]map[string]ir.Entity, len(s.tables)+len(touched))}
	for t, table := range s.tables {
		next.tables[t] = table
	}
	for _, t := range touched {
		old := s.tables[t]
		table := make(map[string]ir.Entity, len(old)+1)
		for id, e := range old {
			table[id] = e
		}
		next.tables[t] = table
	}
	return next
}
