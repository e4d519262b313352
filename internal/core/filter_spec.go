package core

import (
	"sort"
	"strings"
)

// FilterSpec restricts a dataset by categorical membership and an inclusive
// period range. The zero value matches everything. Specs are immutable once
// built; use the With* options to derive new ones.
type FilterSpec struct {
	states        valueSet
	planTypes     valueSet
	parentOrgs    valueSet
	organizations valueSet
	counties      valueSet
	start         PeriodKey
	end           PeriodKey
}

// FilterOption configures a FilterSpec under construction.
type FilterOption func(*FilterSpec)

// NewFilterSpec builds a spec from options.
func NewFilterSpec(opts ...FilterOption) FilterSpec {
	var f FilterSpec
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// With returns a copy of f with further options applied.
func (f FilterSpec) With(opts ...FilterOption) FilterSpec {
	out := f
	for _, opt := range opts {
		opt(&out)
	}
	return out
}

func WithStates(values ...string) FilterOption {
	return func(f *FilterSpec) { f.states = newValueSet(values) }
}

func WithPlanTypes(values ...string) FilterOption {
	return func(f *FilterSpec) { f.planTypes = newValueSet(values) }
}

func WithParentOrgs(values ...string) FilterOption {
	return func(f *FilterSpec) { f.parentOrgs = newValueSet(values) }
}

func WithOrganizations(values ...string) FilterOption {
	return func(f *FilterSpec) { f.organizations = newValueSet(values) }
}

func WithCounties(values ...string) FilterOption {
	return func(f *FilterSpec) { f.counties = newValueSet(values) }
}

// WithPeriodRange bounds the spec to [start, end]. An empty bound is open.
func WithPeriodRange(start, end PeriodKey) FilterOption {
	return func(f *FilterSpec) {
		f.start = start
		f.end = end
	}
}

func (f FilterSpec) States() []string        { return f.states.sorted() }
func (f FilterSpec) PlanTypes() []string     { return f.planTypes.sorted() }
func (f FilterSpec) ParentOrgs() []string    { return f.parentOrgs.sorted() }
func (f FilterSpec) Organizations() []string { return f.organizations.sorted() }
func (f FilterSpec) Counties() []string      { return f.counties.sorted() }
func (f FilterSpec) PeriodStart() PeriodKey  { return f.start }
func (f FilterSpec) PeriodEnd() PeriodKey    { return f.end }

// InRange reports whether p lies within the inclusive period bounds.
func (f FilterSpec) InRange(p PeriodKey) bool {
	if f.start != "" && p < f.start {
		return false
	}
	if f.end != "" && p > f.end {
		return false
	}
	return true
}

// Match reports whether r satisfies every non-empty restriction.
func (f FilterSpec) Match(r Row) bool {
	return f.InRange(r.Period) &&
		f.states.allows(r.State) &&
		f.planTypes.allows(r.PlanType) &&
		f.parentOrgs.allows(r.Value(DimParentOrg)) &&
		f.organizations.allows(r.OrganizationName) &&
		f.counties.allows(r.County)
}

// Key is a canonical string with value-equality semantics: two specs that
// select the same rows from any dataset have the same key.
func (f FilterSpec) Key() string {
	var b strings.Builder
	write := func(name string, s valueSet) {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strings.Join(s.sorted(), "\x1f"))
		b.WriteByte(';')
	}
	write("st", f.states)
	write("pt", f.planTypes)
	write("po", f.parentOrgs)
	write("org", f.organizations)
	write("cty", f.counties)
	b.WriteString("from=" + string(f.start) + ";to=" + string(f.end))
	return b.String()
}

type valueSet map[string]struct{}

func newValueSet(values []string) valueSet {
	s := make(valueSet, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		s[v] = struct{}{}
	}
	if len(s) == 0 {
		return nil
	}
	return s
}

// allows treats an empty set as "no restriction".
func (s valueSet) allows(v string) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[v]
	return ok
}

func (s valueSet) sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
