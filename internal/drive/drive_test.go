package drive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFiles struct {
	failUpdate map[string]bool
	byName     string
	uploaded   map[string]string
	created    []string
}

func (f *fakeFiles) Update(_ context.Context, id string, r io.Reader) error {
	if f.failUpdate[id] {
		return errors.New("404 not found")
	}
	b, _ := io.ReadAll(r)
	f.uploaded[id] = string(b)
	return nil
}

func (f *fakeFiles) FindByName(context.Context, string) (string, error) { return f.byName, nil }

func (f *fakeFiles) Create(_ context.Context, name string, r io.Reader) (string, error) {
	b, _ := io.ReadAll(r)
	f.created = append(f.created, name)
	f.uploaded["new-id"] = string(b)
	return "new-id", nil
}

func tempCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "combined_enrollment.csv")
	require.NoError(t, os.WriteFile(path, []byte("report_period\n2024-01\n"), 0o644))
	return path
}

func TestUploadUpdatesConfiguredFile(t *testing.T) {
	f := &fakeFiles{uploaded: map[string]string{}}
	res, err := NewUploader(f, "abc").Upload(context.Background(), tempCSV(t))
	require.NoError(t, err)
	assert.Equal(t, Result{FileID: "abc", Action: ActionUpdated}, res)
	assert.Equal(t, "report_period\n2024-01\n", f.uploaded["abc"])
}

func TestUploadFallsBackToName(t *testing.T) {
	f := &fakeFiles{uploaded: map[string]string{}, failUpdate: map[string]bool{"abc": true}, byName: "found"}
	res, err := NewUploader(f, "abc").Upload(context.Background(), tempCSV(t))
	require.NoError(t, err)
	assert.Equal(t, ActionUpdatedByName, res.Action)
	assert.Equal(t, "report_period\n2024-01\n", f.uploaded["found"], "file reopened for second attempt")
}

func TestUploadCreatesWhenNothingFound(t *testing.T) {
	f := &fakeFiles{uploaded: map[string]string{}}
	res, err := NewUploader(f, "").Upload(context.Background(), tempCSV(t))
	require.NoError(t, err)
	assert.Equal(t, Result{FileID: "new-id", Action: ActionCreated}, res)
	assert.Equal(t, []string{"combined_enrollment.csv"}, f.created)
}

func TestUploadMissingFile(t *testing.T) {
	f := &fakeFiles{uploaded: map[string]string{}}
	_, err := NewUploader(f, "abc").Upload(context.Background(), filepath.Join(t.TempDir(), "none.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Empty(t, f.created)
}

func TestNewServiceRequiresCredentials(t *testing.T) {
	_, err := NewService(context.Background(), "", "")
	assert.ErrorContains(t, err, "missing service account credentials")
}
