package enrich

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maenroll/internal/core"
)

const directoryCSV = `Contract Number,Contract Name,Parent Organization
H0001,Alpha Health,Alpha Holdings
H0002,Beta Care,
H0001,Alpha Duplicate,Other Parent
`

func TestHeuristicResolver(t *testing.T) {
	tests := []struct {
		name     string
		columns  []string
		contract int
		parent   int
		ok       bool
	}{
		{"number", []string{"Contract Number", "Parent Organization"}, 0, 1, true},
		{"id", []string{"x", " contract_id ", "Parent Org Name"}, 1, 2, true},
		{"first wins", []string{"Contract ID", "Contract Number", "Parent A", "Parent B"}, 0, 2, true},
		{"no parent", []string{"Contract ID", "Org"}, 0, -1, false},
		{"contract without id", []string{"Contract Name", "Parent"}, -1, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, p, ok := HeuristicResolver{}.Resolve(tt.columns)
			assert.Equal(t, tt.contract, c)
			assert.Equal(t, tt.parent, p)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestExplicitResolver(t *testing.T) {
	r := ResolverFor("CNTRCT", "Owner")
	c, p, ok := r.Resolve([]string{"owner", "cntrct"})
	assert.True(t, ok)
	assert.Equal(t, 1, c)
	assert.Equal(t, 0, p)

	_, ok = ResolverFor("", "Owner").(HeuristicResolver)
	assert.True(t, ok)
}

func TestResolveParentOrg(t *testing.T) {
	var empty ParentOrgMap
	assert.Equal(t, core.NoMappingLoaded, empty.ResolveParentOrg("H0001"))

	m := NewParentOrgMap(map[string]string{"H0001": "Alpha Holdings", " ": "skip"})
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, "Alpha Holdings", m.ResolveParentOrg(" H0001 "))
	assert.Equal(t, core.UnknownParentOrg, m.ResolveParentOrg("H9999"))
}

func TestLoad(t *testing.T) {
	m, err := Load(strings.NewReader(directoryCSV), HeuristicResolver{})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, "Alpha Holdings", m.ResolveParentOrg("H0001"))
	assert.Equal(t, core.Unknown, m.ResolveParentOrg("H0002"))
}

func TestLoadWithoutUsableColumns(t *testing.T) {
	_, err := Load(strings.NewReader("a,b\n1,2\n"), HeuristicResolver{})
	assert.ErrorIs(t, err, core.ErrEnrichmentUnavailable)

	_, err = Load(strings.NewReader(""), HeuristicResolver{})
	assert.ErrorIs(t, err, core.ErrEnrichmentUnavailable)
}

func TestEnrichDoesNotTouchInput(t *testing.T) {
	in := map[core.PeriodKey][]core.Row{"2024-01": {{ContractID: "H0001"}, {ContractID: "H7"}}}
	m := NewParentOrgMap(map[string]string{"H0001": "Alpha"})

	out := m.Enrich(in)
	assert.Equal(t, "Alpha", out["2024-01"][0].ParentOrg)
	assert.Equal(t, core.UnknownParentOrg, out["2024-01"][1].ParentOrg)
	assert.Empty(t, in["2024-01"][0].ParentOrg)

	out = ParentOrgMap{}.Enrich(in)
	assert.Equal(t, core.NoMappingLoaded, out["2024-01"][0].ParentOrg)
}

func TestLoadNewest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, st, err := LoadNewest(ctx, dir, "*.csv", HeuristicResolver{})
	require.NoError(t, err)
	assert.False(t, st.Available)

	older := filepath.Join(dir, "old.csv")
	newer := filepath.Join(dir, "new.csv")
	require.NoError(t, os.WriteFile(older, []byte("Contract ID,Parent\nH1,Old\n"), 0o644))
	require.NoError(t, os.WriteFile(newer, []byte(directoryCSV), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	m, st, err := LoadNewest(ctx, dir, "*.csv", HeuristicResolver{})
	require.NoError(t, err)
	assert.True(t, st.Available)
	assert.Equal(t, newer, st.Path)
	assert.Equal(t, 2, st.Contracts)
	assert.Equal(t, "Alpha Holdings", m.ResolveParentOrg("H0001"))
}

func TestLoadNewestUnusableFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "d.csv"), []byte("a,b\n"), 0o644))

	m, st, err := LoadNewest(context.Background(), dir, "*.csv", HeuristicResolver{})
	require.NoError(t, err)
	assert.False(t, m.Loaded())
	assert.False(t, st.Available)
	assert.NotEmpty(t, st.Reason)
}
