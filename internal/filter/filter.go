// Package filter selects the working subset of a snapshot.
package filter

import (
	"sort"

	"maenroll/internal/core"
)

// Apply returns the rows of snap that satisfy spec, in ascending period
// order. An empty result is valid and not an error. The snapshot is never
// modified.
func Apply(snap *core.Snapshot, spec core.FilterSpec) []core.Row {
	var out []core.Row
	for _, p := range snap.Timeline() {
		if !spec.InRange(p) {
			continue
		}
		for _, r := range snap.Rows(p) {
			if spec.Match(r) {
				out = append(out, r)
			}
		}
	}
	return out
}

// Rows applies spec to an already materialized row slice.
func Rows(rows []core.Row, spec core.FilterSpec) []core.Row {
	var out []core.Row
	for _, r := range rows {
		if spec.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// Options lists the values a picker can offer for each filterable
// dimension, drawn from the whole snapshot.
type Options struct {
	States        []string         `json:"states"`
	PlanTypes     []string         `json:"plan_types"`
	ParentOrgs    []string         `json:"parent_orgs"`
	Organizations []string         `json:"organizations"`
	Counties      []string         `json:"counties"`
	Periods       []core.PeriodKey `json:"periods"`
}

// OptionsFor collects distinct sorted values per dimension. When states is
// non-empty the county list is limited to counties within those states.
func OptionsFor(snap *core.Snapshot, states ...string) Options {
	var (
		st   = map[string]struct{}{}
		pt   = map[string]struct{}{}
		po   = map[string]struct{}{}
		org  = map[string]struct{}{}
		cty  = map[string]struct{}{}
		only = map[string]struct{}{}
	)
	for _, s := range states {
		only[s] = struct{}{}
	}
	snap.Each(func(r core.Row) bool {
		st[r.State] = struct{}{}
		pt[r.PlanType] = struct{}{}
		po[r.Value(core.DimParentOrg)] = struct{}{}
		org[r.OrganizationName] = struct{}{}
		if _, ok := only[r.State]; len(only) == 0 || ok {
			cty[r.County] = struct{}{}
		}
		return true
	})
	return Options{
		States:        sortedKeys(st),
		PlanTypes:     sortedKeys(pt),
		ParentOrgs:    sortedKeys(po),
		Organizations: sortedKeys(org),
		Counties:      sortedKeys(cty),
		Periods:       snap.Timeline(),
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
