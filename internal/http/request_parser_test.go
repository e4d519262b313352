package http

import (
	"errors"
	"net/url"
	"reflect"
	"testing"

	"maenroll/internal/core"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name       string
		query      url.Values
		wantStates []string
		wantOrgs   []string
		wantStart  core.PeriodKey
		wantEnd    core.PeriodKey
	}{
		{
			name:       "empty query",
			query:      url.Values{},
			wantStates: []string{},
			wantOrgs:   []string{},
		},
		{
			name:       "comma separated and repeated states",
			query:      url.Values{"states": {"CA,TX", " NY "}},
			wantStates: []string{"CA", "NY", "TX"},
			wantOrgs:   []string{},
		},
		{
			name:       "organization names keep their commas",
			query:      url.Values{"organizations": {"Acme, Inc.", "Beta LLC"}},
			wantStates: []string{},
			wantOrgs:   []string{"Acme, Inc.", "Beta LLC"},
		},
		{
			name:       "period range",
			query:      url.Values{"start": {"2024-01"}, "end": {"2024-06"}},
			wantStates: []string{},
			wantOrgs:   []string{},
			wantStart:  "2024-01",
			wantEnd:    "2024-06",
		},
		{
			name:       "open ended range",
			query:      url.Values{"start": {"2023-11"}},
			wantStates: []string{},
			wantOrgs:   []string{},
			wantStart:  "2023-11",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseFilter(tt.query)
			if err != nil {
				t.Fatalf("ParseFilter() error = %v", err)
			}
			if got := spec.States(); !reflect.DeepEqual(got, tt.wantStates) {
				t.Errorf("States() = %v, want %v", got, tt.wantStates)
			}
			if got := spec.Organizations(); !reflect.DeepEqual(got, tt.wantOrgs) {
				t.Errorf("Organizations() = %v, want %v", got, tt.wantOrgs)
			}
			if spec.PeriodStart() != tt.wantStart {
				t.Errorf("PeriodStart() = %q, want %q", spec.PeriodStart(), tt.wantStart)
			}
			if spec.PeriodEnd() != tt.wantEnd {
				t.Errorf("PeriodEnd() = %q, want %q", spec.PeriodEnd(), tt.wantEnd)
			}
		})
	}
}

func TestParseFilterErrors(t *testing.T) {
	tests := []struct {
		name  string
		query url.Values
	}{
		{"bad start", url.Values{"start": {"2024-13"}}},
		{"bad end", url.Values{"end": {"24-01"}}},
		{"start after end", url.Values{"start": {"2024-05"}, "end": {"2024-01"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilter(tt.query)
			if !errors.Is(err, core.ErrInvalidPeriod) {
				t.Errorf("ParseFilter() error = %v, want ErrInvalidPeriod", err)
			}
		})
	}
}

func TestParseGroupBy(t *testing.T) {
	dims, err := ParseGroupBy(url.Values{}, core.DimState)
	if err != nil || !reflect.DeepEqual(dims, []core.Dimension{core.DimState}) {
		t.Errorf("ParseGroupBy() default = %v, %v", dims, err)
	}

	dims, err = ParseGroupBy(url.Values{"group_by": {"state,plan_type"}}, core.DimState)
	if err != nil {
		t.Fatalf("ParseGroupBy() error = %v", err)
	}
	want := []core.Dimension{core.DimState, core.DimPlanType}
	if !reflect.DeepEqual(dims, want) {
		t.Errorf("ParseGroupBy() = %v, want %v", dims, want)
	}

	dims, err = ParseGroupBy(url.Values{"group_by": {" , "}}, core.DimCounty)
	if err != nil || !reflect.DeepEqual(dims, []core.Dimension{core.DimCounty}) {
		t.Errorf("ParseGroupBy() blank = %v, %v", dims, err)
	}

	_, err = ParseGroupBy(url.Values{"group_by": {"state,planet"}})
	if !errors.Is(err, core.ErrUnknownDimension) {
		t.Errorf("ParseGroupBy() error = %v, want ErrUnknownDimension", err)
	}
}

func TestParseTop(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		def     int
		want    int
		wantErr bool
	}{
		{"absent uses default", "", 10, 10, false},
		{"explicit", "5", 10, 5, false},
		{"zero means all", "0", 10, 0, false},
		{"clamped", "100000", 0, maxTop, false},
		{"negative", "-1", 0, 0, true},
		{"not a number", "ten", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := url.Values{}
			if tt.raw != "" {
				q.Set("top", tt.raw)
			}
			got, err := ParseTop(q, tt.def)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTop() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseTop() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  CA  ", "CA"},
		{"Los\x00 Angeles", "Los Angeles"},
		{"a\tb", "a\tb"},
		{"line\nbreak", "linebreak"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := sanitizeInput(tt.input); got != tt.want {
			t.Errorf("sanitizeInput(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
