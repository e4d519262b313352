// Package enrich attaches parent organizations to rows from an optional
// contract directory file.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"maenroll/internal/core"
	"maenroll/internal/normalize"
)

// ParentOrgMap maps contract identifiers to parent organizations. The zero
// value is an empty map: nothing loaded.
type ParentOrgMap struct {
	m map[string]string
}

// NewParentOrgMap copies entries into a map, skipping blank keys.
func NewParentOrgMap(entries map[string]string) ParentOrgMap {
	m := make(map[string]string, len(entries))
	for k, v := range entries {
		k = normalize.Clean(k)
		if k == "" {
			continue
		}
		m[k] = normalize.Category(v)
	}
	return ParentOrgMap{m: m}
}

// Loaded reports whether any mapping is present.
func (p ParentOrgMap) Loaded() bool { return len(p.m) > 0 }

// Len returns the number of contracts mapped.
func (p ParentOrgMap) Len() int { return len(p.m) }

// ResolveParentOrg returns the mapped parent, core.UnknownParentOrg for a
// contract missing from a loaded map, or core.NoMappingLoaded when the map
// is empty.
func (p ParentOrgMap) ResolveParentOrg(contractID string) string {
	if !p.Loaded() {
		return core.NoMappingLoaded
	}
	if v, ok := p.m[normalize.Clean(contractID)]; ok {
		return v
	}
	return core.UnknownParentOrg
}

// Enrich sets ParentOrg on every row of every period, returning a new
// dataset. The input is left untouched.
func (p ParentOrgMap) Enrich(dataset map[core.PeriodKey][]core.Row) map[core.PeriodKey][]core.Row {
	out := make(map[core.PeriodKey][]core.Row, len(dataset))
	for period, rows := range dataset {
		cp := make([]core.Row, len(rows))
		for i, r := range rows {
			r.ParentOrg = p.ResolveParentOrg(r.ContractID)
			cp[i] = r
		}
		out[period] = cp
	}
	return out
}

// Load builds a map from a directory CSV. When resolver finds no usable
// columns it returns core.ErrEnrichmentUnavailable.
func Load(r io.Reader, resolver ColumnResolver) (ParentOrgMap, error) {
	text, err := normalize.ReadText(r)
	if err != nil {
		return ParentOrgMap{}, fmt.Errorf("read directory: %w", err)
	}
	cr := normalize.NewCSVReader(text)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return ParentOrgMap{}, core.ErrEnrichmentUnavailable
	}
	if err != nil {
		return ParentOrgMap{}, fmt.Errorf("read directory header: %w", err)
	}
	header = append([]string(nil), header...)
	contractCol, parentCol, ok := resolver.Resolve(header)
	if !ok {
		return ParentOrgMap{}, core.ErrEnrichmentUnavailable
	}

	entries := make(map[string]string)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ParentOrgMap{}, fmt.Errorf("read directory: %w", err)
		}
		if contractCol >= len(rec) || parentCol >= len(rec) {
			continue
		}
		if _, seen := entries[normalize.Clean(rec[contractCol])]; seen {
			continue
		}
		entries[normalize.Clean(rec[contractCol])] = rec[parentCol]
	}
	m := NewParentOrgMap(entries)
	if !m.Loaded() {
		return m, core.ErrEnrichmentUnavailable
	}
	return m, nil
}

// Status describes the outcome of LoadNewest.
type Status struct {
	Path      string `json:"path,omitempty"`
	Contracts int    `json:"contracts"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// LoadNewest loads the most recently modified file in dir matching glob.
// A missing directory, no matching file or unusable columns are reported
// through Status with an empty map; only read failures are errors.
func LoadNewest(ctx context.Context, dir, glob string, resolver ColumnResolver) (ParentOrgMap, Status, error) {
	if dir == "" {
		return ParentOrgMap{}, Status{Reason: "no directory configured"}, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, glob))
	if err != nil {
		return ParentOrgMap{}, Status{}, fmt.Errorf("glob directory files: %w", err)
	}

	var newest string
	var newestMod int64
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil || fi.IsDir() {
			continue
		}
		if mod := fi.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest, newestMod = m, mod
		}
	}
	if newest == "" {
		slog.InfoContext(ctx, "No contract directory found, parent organizations unavailable", "dir", dir, "glob", glob)
		return ParentOrgMap{}, Status{Reason: "no directory file found"}, nil
	}

	f, err := os.Open(newest)
	if err != nil {
		return ParentOrgMap{}, Status{Path: newest}, fmt.Errorf("open directory file: %w", err)
	}
	defer f.Close()

	m, err := Load(f, resolver)
	if errors.Is(err, core.ErrEnrichmentUnavailable) {
		slog.WarnContext(ctx, "Contract directory has no usable columns", "path", newest)
		return ParentOrgMap{}, Status{Path: newest, Reason: "contract or parent column not found"}, nil
	}
	if err != nil {
		return ParentOrgMap{}, Status{Path: newest}, err
	}
	slog.InfoContext(ctx, "Loaded contract directory", "path", newest, "contracts", m.Len())
	return m, Status{Path: newest, Contracts: m.Len(), Available: true}, nil
}
