package migrate

import (
	"fmt"
	"sort"
)

// Registry holds the ordered, versioned migration list per logical table
type Registry struct {
	byTable map[string][]Migration
	tables  []string
}

// NewRegistry builds a registry from the given migrations. Versions per
// table must form a contiguous run starting at 1.
func NewRegistry(migrations ...Migration) (*Registry, error) {
	byTable := make(map[string][]Migration)
	var tables []string

	for _, m := range migrations {
		if m.Table == "" {
			return nil, fmt.Errorf("migration v%d has no table name", m.Version)
		}
		if m.Version <= 0 {
			return nil, fmt.Errorf("migration for table %s has non-positive version %d", m.Table, m.Version)
		}
		if m.Up == nil {
			return nil, fmt.Errorf("migration %s v%d has no Up function", m.Table, m.Version)
		}
		if _, seen := byTable[m.Table]; !seen {
			tables = append(tables, m.Table)
		}
		byTable[m.Table] = append(byTable[m.Table], m)
	}

	for table, migs := range byTable {
		sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })
		for i, m := range migs {
			if m.Version != i+1 {
				return nil, fmt.Errorf("table %s migrations are not contiguous: expected v%d, got v%d", table, i+1, m.Version)
			}
		}
		byTable[table] = migs
	}

	return &Registry{byTable: byTable, tables: tables}, nil
}

// LatestVersion returns the highest registered version for table, 0 if unknown
func (r *Registry) LatestVersion(table string) int {
	migs := r.byTable[table]
	if len(migs) == 0 {
		return 0
	}
	return migs[len(migs)-1].Version
}

// Pending returns migrations with version > after, ascending
func (r *Registry) Pending(table string, after int) []Migration {
	var pending []Migration
	for _, m := range r.byTable[table] {
		if m.Version > after {
			pending = append(pending, m)
		}
	}
	return pending
}

// Tables returns table names in registration order
func (r *Registry) Tables() []string {
	out := make([]string, len(r.tables))
	copy(out, r.tables)
	return out
}
