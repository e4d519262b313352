// Package normalize turns raw CMS monthly extracts into canonical rows.
//
// Redacted small-count cells (CMS prints a lone ".") and any other enrolled
// value that does not parse become 0. Aggregate totals therefore undercount
// low-volume cells by construction; this is a known bias of the published
// data, not a defect to correct here.
package normalize

import (
	"math"
	"strconv"
	"strings"

	"maenroll/internal/core"
)

// Canonical source column names.
const (
	ColState            = "State"
	ColCounty           = "County"
	ColContractID       = "Contract ID"
	ColOrganizationName = "Organization Name"
	ColOrganizationType = "Organization Type"
	ColPlanType         = "Plan Type"
	ColEnrolled         = "Enrolled"
)

// RequiredColumns must all be present in an extract's header.
var RequiredColumns = []string{
	ColState, ColCounty, ColContractID, ColOrganizationName,
	ColOrganizationType, ColPlanType, ColEnrolled,
}

// Clean trims surrounding whitespace and quote characters, repeatedly, so
// that Clean(Clean(s)) == Clean(s).
func Clean(s string) string {
	for {
		t := strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"'`))
		if t == s {
			return t
		}
		s = t
	}
}

// Category cleans a categorical value and maps blanks to core.Unknown.
func Category(s string) string {
	s = Clean(s)
	if s == "" {
		return core.Unknown
	}
	return s
}

// ParseEnrolled parses an enrolled count. Redaction markers, blanks,
// negative numbers and anything unparseable yield 0.
func ParseEnrolled(s string) int64 {
	s = strings.ReplaceAll(Clean(s), ",", "")
	if s == "" || s == "." || s == "*" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0
		}
		return n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f < 0 || f > math.MaxInt64/2 {
		return 0
	}
	return int64(f)
}

// Header maps canonical column names to record positions.
type Header struct {
	index map[string]int
}

// NewHeader resolves the required columns of a header record. Column names
// are compared after cleaning and case folding. A missing mandatory column
// is a *core.MalformedRowError; an empty value later on is tolerated.
func NewHeader(columns []string, period core.PeriodKey, source string) (*Header, error) {
	h := &Header{index: make(map[string]int, len(columns))}
	for i, c := range columns {
		name := strings.ToLower(Clean(strings.TrimPrefix(c, "\ufeff")))
		if _, dup := h.index[name]; !dup {
			h.index[name] = i
		}
	}
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := h.index[strings.ToLower(col)]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &core.MalformedRowError{Period: period, Source: source, Missing: missing}
	}
	return h, nil
}

// Has reports whether the header carries the named column.
func (h *Header) Has(name string) bool {
	_, ok := h.index[strings.ToLower(name)]
	return ok
}

// Get returns the named field of record, or "" when the record is short.
func (h *Header) Get(record []string, name string) string {
	i, ok := h.index[strings.ToLower(name)]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}

// Row builds the canonical row for record, stamped with period.
func (h *Header) Row(record []string, period core.PeriodKey) core.Row {
	return core.Row{
		Period:           period,
		State:            Category(h.Get(record, ColState)),
		County:           Category(h.Get(record, ColCounty)),
		ContractID:       Category(h.Get(record, ColContractID)),
		OrganizationName: Category(h.Get(record, ColOrganizationName)),
		OrganizationType: Category(h.Get(record, ColOrganizationType)),
		PlanType:         Category(h.Get(record, ColPlanType)),
		Enrolled:         ParseEnrolled(h.Get(record, ColEnrolled)),
	}
}

// Normalize cleans one raw row given as column name to value. The period
// comes from the caller (the extract's batch), never from row content.
func Normalize(raw map[string]string, period core.PeriodKey) (core.Row, error) {
	columns := make([]string, 0, len(raw))
	record := make([]string, 0, len(raw))
	for k, v := range raw {
		columns = append(columns, k)
		record = append(record, v)
	}
	h, err := NewHeader(columns, period, "")
	if err != nil {
		return core.Row{}, err
	}
	return h.Row(record, period), nil
}
