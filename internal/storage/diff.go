package storage

import (
	"cmp"
	"slices"

	"gravityyaml/internal/model"
)

// TableChanges counts the writes applied to one table.
type TableChanges struct {
	Table    string
	Inserted int
	Updated  int
	Deleted  int
}

// ReconcileReport summarizes a reconciliation, table by table.
type ReconcileReport struct {
	DryRun bool
	Tables []TableChanges
}

// Table returns the counts for the named table.
func (r *ReconcileReport) Table(name string) TableChanges {
	for _, t := range r.Tables {
		if t.Table == name {
			return t
		}
	}
	return TableChanges{Table: name}
}

// Changed reports whether any write was made.
func (r *ReconcileReport) Changed() bool {
	for _, t := range r.Tables {
		if t.Inserted+t.Updated+t.Deleted > 0 {
			return true
		}
	}
	return false
}

func (r *ReconcileReport) add(c TableChanges) {
	r.Tables = append(r.Tables, c)
}

// entityPlan holds the writes needed to turn one table's current rows into the desired ones.
type entityPlan[T comparable] struct {
	Insert []T
	Update []T
	Delete []int64
}

// diffEntities matches rows by ID: desired-only rows are inserted, rows that
// differ in any attribute are updated and current-only rows are deleted.
// Output follows ID order.
func diffEntities[T comparable](current, desired []T, id func(T) int64) entityPlan[T] {
	byID := make(map[int64]T, len(current))
	for _, c := range current {
		byID[id(c)] = c
	}

	var plan entityPlan[T]
	wanted := make(map[int64]bool, len(desired))
	for _, d := range desired {
		wanted[id(d)] = true
		c, ok := byID[id(d)]
		switch {
		case !ok:
			plan.Insert = append(plan.Insert, d)
		case c != d:
			plan.Update = append(plan.Update, d)
		}
	}
	for _, c := range current {
		if !wanted[id(c)] {
			plan.Delete = append(plan.Delete, id(c))
		}
	}

	byOrder := func(a, b T) int { return cmp.Compare(id(a), id(b)) }
	slices.SortFunc(plan.Insert, byOrder)
	slices.SortFunc(plan.Update, byOrder)
	slices.Sort(plan.Delete)
	return plan
}

// diffGroups is diffEntities that never deletes the default group.
func diffGroups(current, desired []model.Group) entityPlan[model.Group] {
	plan := diffEntities(current, desired, func(g model.Group) int64 { return g.ID })
	plan.Delete = slices.DeleteFunc(plan.Delete, func(id int64) bool { return id == model.DefaultGroupID })
	return plan
}

// movedKeys returns the IDs of updated rows whose unique key changes.
func movedKeys[T any](current, updates []T, id func(T) int64, key func(T) string) []int64 {
	old := make(map[int64]string, len(current))
	for _, c := range current {
		old[id(c)] = key(c)
	}
	var ids []int64
	for _, u := range updates {
		if k, ok := old[id(u)]; ok && k != key(u) {
			ids = append(ids, id(u))
		}
	}
	return ids
}

type linkKey struct {
	group  int64
	member int64
}

// linkPlan holds the join rows to add and remove.
type linkPlan struct {
	Insert []model.Membership
	Delete []model.Membership
}

// diffMemberships compares the stored join rows with the desired enabled
// memberships. With keepDefault set, rows of the default group are never
// removed: a document that omits the default group leaves it untouched.
func diffMemberships(current, desired []model.Membership, keepDefault bool) linkPlan {
	have := make(map[linkKey]bool, len(current))
	for _, c := range current {
		have[linkKey{c.GroupID, c.MemberID}] = true
	}
	want := make(map[linkKey]bool, len(desired))
	var plan linkPlan
	for _, d := range desired {
		if !d.Enabled {
			continue
		}
		k := linkKey{d.GroupID, d.MemberID}
		if want[k] {
			continue
		}
		want[k] = true
		if !have[k] {
			plan.Insert = append(plan.Insert, model.Membership{GroupID: d.GroupID, MemberID: d.MemberID, Enabled: true})
		}
	}
	for _, c := range current {
		k := linkKey{c.GroupID, c.MemberID}
		if want[k] || (keepDefault && c.GroupID == model.DefaultGroupID) {
			continue
		}
		plan.Delete = append(plan.Delete, c)
	}
	model.SortMemberships(plan.Insert)
	model.SortMemberships(plan.Delete)
	return plan
}
