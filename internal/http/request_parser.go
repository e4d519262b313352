// Package http serves the enrollment dashboard API.
//
// This file turns query strings into filter specs, group-by dimensions and
// limits. Every list parameter may be repeated; states, plan types and
// counties also accept comma separated values. Organization names can
// contain commas, so parent_orgs and organizations are only ever repeated.
package http

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"maenroll/internal/core"
)

// Query parameter names.
const (
	ParamStates        = "states"
	ParamPlanTypes     = "plan_types"
	ParamParentOrgs    = "parent_orgs"
	ParamOrganizations = "organizations"
	ParamCounties      = "counties"
	ParamStart         = "start"
	ParamEnd           = "end"
	ParamGroupBy       = "group_by"
	ParamCompare       = "compare"
	ParamTop           = "top"
)

const maxTop = 500

// ParseFilter builds a FilterSpec from query parameters. start and end must
// be YYYY-MM when present and start may not follow end.
func ParseFilter(q url.Values) (core.FilterSpec, error) {
	var start, end core.PeriodKey
	if v := sanitizeInput(q.Get(ParamStart)); v != "" {
		p, err := core.ParsePeriodKey(v)
		if err != nil {
			return core.FilterSpec{}, fmt.Errorf("start: %w", err)
		}
		start = p
	}
	if v := sanitizeInput(q.Get(ParamEnd)); v != "" {
		p, err := core.ParsePeriodKey(v)
		if err != nil {
			return core.FilterSpec{}, fmt.Errorf("end: %w", err)
		}
		end = p
	}
	if start != "" && end != "" && start > end {
		return core.FilterSpec{}, fmt.Errorf("%w: start %s is after end %s", core.ErrInvalidPeriod, start, end)
	}

	return core.NewFilterSpec(
		core.WithStates(parseList(q, ParamStates, true)...),
		core.WithPlanTypes(parseList(q, ParamPlanTypes, true)...),
		core.WithCounties(parseList(q, ParamCounties, true)...),
		core.WithParentOrgs(parseList(q, ParamParentOrgs, false)...),
		core.WithOrganizations(parseList(q, ParamOrganizations, false)...),
		core.WithPeriodRange(start, end),
	), nil
}

// parseList collects the values of key, optionally splitting on commas.
func parseList(q url.Values, key string, splitCommas bool) []string {
	var out []string
	for _, raw := range q[key] {
		parts := []string{raw}
		if splitCommas {
			parts = strings.Split(raw, ",")
		}
		for _, p := range parts {
			if p = sanitizeInput(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// ParseGroupBy reads group_by, falling back to def when absent.
func ParseGroupBy(q url.Values, def ...core.Dimension) ([]core.Dimension, error) {
	raw := sanitizeInput(q.Get(ParamGroupBy))
	if raw == "" {
		return def, nil
	}
	dims, err := core.ParseDimensions(raw)
	if err != nil {
		return nil, err
	}
	if len(dims) == 0 {
		return def, nil
	}
	return dims, nil
}

// ParseTop reads a positive limit no larger than maxTop. Zero means no limit
// and is returned when the parameter is absent and def is zero.
func ParseTop(q url.Values, def int) (int, error) {
	raw := sanitizeInput(q.Get(ParamTop))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid top %q: must be a non-negative number", raw)
	}
	if n > maxTop {
		n = maxTop
	}
	return n, nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 {
			return -1
		}
		return r
	}, s)
}
