package enrich

import (
	"strings"

	"maenroll/internal/normalize"
)

// ColumnResolver picks the contract identifier and parent organization
// columns from a directory file's header. ok is false when either column
// cannot be found.
type ColumnResolver interface {
	Resolve(columns []string) (contractCol, parentCol int, ok bool)
}

// HeuristicResolver picks the first column whose name contains "contract"
// together with "id" or "number", and the first column whose name contains
// "parent".
type HeuristicResolver struct{}

func (HeuristicResolver) Resolve(columns []string) (int, int, bool) {
	contract, parent := -1, -1
	for i, c := range columns {
		name := strings.ToLower(normalize.Clean(c))
		if contract < 0 && strings.Contains(name, "contract") &&
			(strings.Contains(name, "id") || strings.Contains(name, "number")) {
			contract = i
		}
		if parent < 0 && strings.Contains(name, "parent") {
			parent = i
		}
	}
	return contract, parent, contract >= 0 && parent >= 0
}

// ExplicitResolver matches configured column names, case-insensitively.
type ExplicitResolver struct {
	Contract string
	Parent   string
}

func (r ExplicitResolver) Resolve(columns []string) (int, int, bool) {
	contract, parent := -1, -1
	for i, c := range columns {
		name := normalize.Clean(c)
		if contract < 0 && strings.EqualFold(name, r.Contract) {
			contract = i
		}
		if parent < 0 && strings.EqualFold(name, r.Parent) {
			parent = i
		}
	}
	return contract, parent, contract >= 0 && parent >= 0
}

// ResolverFor returns an ExplicitResolver when both names are set and the
// heuristic otherwise.
func ResolverFor(contractCol, parentCol string) ColumnResolver {
	if contractCol != "" && parentCol != "" {
		return ExplicitResolver{Contract: contractCol, Parent: parentCol}
	}
	return HeuristicResolver{}
}
