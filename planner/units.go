package planner

import (
	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/catalog"
)

// unit is the atomic allocation unit: a single row, or every row sharing a grouping key
type unit struct {
	key     string
	class   int
	grouped bool
	ids     []cassdl.RowID
}

// buildUnits produces allocation units in order of first appearance. In a grouped catalog,
// rows without a grouping key form units of their own.
func buildUnits(cat *catalog.Catalog) []*unit {
	rows := cat.Rows()
	if !cat.Grouped() {
		units := make([]*unit, len(rows))
		for i, row := range rows {
			units[i] = &unit{key: row.ID, class: row.Label, ids: []cassdl.RowID{row.ID}}
		}
		return units
	}
	var units []*unit
	byGroup := make(map[string]*unit)
	for _, row := range rows {
		if !row.HasGroup {
			units = append(units, &unit{key: row.ID, class: row.Label, ids: []cassdl.RowID{row.ID}})
			continue
		}
		u, ok := byGroup[row.Group]
		if !ok {
			u = &unit{key: row.Group, grouped: true}
			byGroup[row.Group] = u
			units = append(units, u)
		}
		u.ids = append(u.ids, row.ID)
	}
	counts := make([]int, cat.NumClasses())
	for _, u := range units {
		if u.grouped {
			u.class = keyClass(cat, u.ids, counts)
		}
	}
	return units
}

// keyClass is the majority label of a group's rows; ties go to the smallest label
func keyClass(cat *catalog.Catalog, ids []cassdl.RowID, counts []int) int {
	for i := range counts {
		counts[i] = 0
	}
	for _, id := range ids {
		row, _ := cat.Row(id)
		counts[row.Label]++
	}
	best := 0
	for c := 1; c < len(counts); c++ {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}
