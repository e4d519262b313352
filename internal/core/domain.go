package core

import (
	"fmt"
	"strings"
)

const (
	// Unknown replaces blank categorical values.
	Unknown = "Unknown"

	// UnknownParentOrg is reported for contracts missing from a loaded directory.
	UnknownParentOrg = "Unknown / Other"

	// NoMappingLoaded is reported when no directory was loaded at all, so
	// callers can tell "no data" apart from "contract not found".
	NoMappingLoaded = "— no mapping loaded —"

	// DefaultRetentionWindow is the number of most recent periods kept.
	DefaultRetentionWindow = 24

	// YoYDistance is how many timeline positions "latest" and its
	// year-ago comparison span, counting latest itself.
	YoYDistance = 13
)

// Row is one (period, geography, contract) enrollment observation.
type Row struct {
	Period           PeriodKey
	State            string
	County           string
	ContractID       string
	OrganizationName string
	OrganizationType string
	PlanType         string
	// ParentOrg is set by enrichment on the read path and never persisted.
	ParentOrg string
	Enrolled  int64
}

// Dimension names a categorical column rows can be grouped or filtered by.
type Dimension string

const (
	DimPeriod           Dimension = "period"
	DimState            Dimension = "state"
	DimCounty           Dimension = "county"
	DimContract         Dimension = "contract_id"
	DimOrganization     Dimension = "organization_name"
	DimOrganizationType Dimension = "organization_type"
	DimPlanType         Dimension = "plan_type"
	DimParentOrg        Dimension = "parent_org"
)

var dimensions = []Dimension{
	DimPeriod, DimState, DimCounty, DimContract,
	DimOrganization, DimOrganizationType, DimPlanType, DimParentOrg,
}

// Dimensions lists every dimension in a stable order.
func Dimensions() []Dimension {
	return append([]Dimension(nil), dimensions...)
}

// ParseDimension accepts a dimension name, case-insensitively.
func ParseDimension(s string) (Dimension, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "contract", "contract id":
		return DimContract, nil
	case "organization", "organization name":
		return DimOrganization, nil
	case "plan type":
		return DimPlanType, nil
	case "parent", "parent organization":
		return DimParentOrg, nil
	}
	for _, d := range dimensions {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDimension, s)
}

// ParseDimensions parses a comma separated list such as "state,county".
func ParseDimensions(s string) ([]Dimension, error) {
	var out []Dimension
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		d, err := ParseDimension(part)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Value returns the row's value for d.
func (r Row) Value(d Dimension) string {
	switch d {
	case DimPeriod:
		return string(r.Period)
	case DimState:
		return r.State
	case DimCounty:
		return r.County
	case DimContract:
		return r.ContractID
	case DimOrganization:
		return r.OrganizationName
	case DimOrganizationType:
		return r.OrganizationType
	case DimPlanType:
		return r.PlanType
	case DimParentOrg:
		if r.ParentOrg == "" {
			return NoMappingLoaded
		}
		return r.ParentOrg
	}
	return ""
}

// DistinctPeriods returns the ascending timeline of the periods in rows.
func DistinctPeriods(rows []Row) []PeriodKey {
	seen := make(map[PeriodKey]struct{})
	var out []PeriodKey
	for _, r := range rows {
		if _, ok := seen[r.Period]; ok {
			continue
		}
		seen[r.Period] = struct{}{}
		out = append(out, r.Period)
	}
	return SortPeriods(out)
}
