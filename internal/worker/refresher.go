package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"maenroll/internal/amqp"
	"maenroll/internal/dataset"
	"maenroll/internal/enrich"
	"maenroll/internal/store"
)

// RefresherConfig locates the persisted dataset and the optional contract
// directory used for parent organization enrichment.
type RefresherConfig struct {
	DatasetPath string

	DirectoryDir            string
	DirectoryGlob           string
	DirectoryContractColumn string
	DirectoryParentColumn   string
}

// Refresher keeps an in-memory store in step with the persisted dataset.
// It reloads on DatasetUpdated notifications and, as a fallback, when the
// dataset file changes on disk.
type Refresher struct {
	store  *store.Store
	config RefresherConfig

	mu      sync.Mutex
	modTime time.Time
	size    int64
	status  enrich.Status
}

func NewRefresher(st *store.Store, config RefresherConfig) *Refresher {
	if config.DirectoryGlob == "" {
		config.DirectoryGlob = "*.csv"
	}
	return &Refresher{store: st, config: config}
}

// Reload reads the persisted dataset, enriches it with parent organizations
// and replaces the store content. A dataset that does not exist yet leaves
// the store untouched.
func (r *Refresher) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reload(ctx)
}

func (r *Refresher) reload(ctx context.Context) error {
	fi, err := os.Stat(r.config.DatasetPath)
	if errors.Is(err, fs.ErrNotExist) {
		slog.WarnContext(ctx, "Persisted dataset not found, serving empty store",
			"dataset", r.config.DatasetPath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat dataset: %w", err)
	}

	data, err := dataset.Read(r.config.DatasetPath)
	if err != nil {
		return fmt.Errorf("read dataset: %w", err)
	}

	resolver := enrich.ResolverFor(r.config.DirectoryContractColumn, r.config.DirectoryParentColumn)
	parents, status, err := enrich.LoadNewest(ctx, r.config.DirectoryDir, r.config.DirectoryGlob, resolver)
	if err != nil {
		// Enrichment is optional; keep serving without it.
		slog.WarnContext(ctx, "Contract directory load failed", "error", err)
		status = enrich.Status{Path: status.Path, Reason: err.Error()}
	}

	if err := r.store.Replace(ctx, parents.Enrich(data)); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	r.modTime = fi.ModTime()
	r.size = fi.Size()
	r.status = status

	slog.InfoContext(ctx, "Dataset reloaded",
		"dataset", r.config.DatasetPath,
		"periods", len(data),
		"rows", r.store.Snapshot().Len(),
		"version", r.store.Version(),
		"parent_orgs", status.Available)
	return nil
}

// ReloadIfChanged reloads when the dataset file's size or modification time
// differs from the last load.
func (r *Refresher) ReloadIfChanged(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fi, err := os.Stat(r.config.DatasetPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat dataset: %w", err)
	}
	if fi.ModTime().Equal(r.modTime) && fi.Size() == r.size {
		return false, nil
	}
	if err := r.reload(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// HandleDatasetUpdated reloads on a notification from a combine run.
func (r *Refresher) HandleDatasetUpdated(ctx context.Context, msg *amqp.DatasetUpdatedMessage) error {
	slog.InfoContext(ctx, "Processing dataset update",
		"run_id", msg.RunID,
		"latest_period", msg.LatestPeriod,
		"rows", msg.Rows)

	if err := r.Reload(ctx); err != nil {
		return fmt.Errorf("reload dataset for run %s: %w", msg.RunID, err)
	}

	if latest, ok := r.store.Snapshot().Latest(); ok && msg.LatestPeriod != "" && latest != msg.LatestPeriod {
		slog.WarnContext(ctx, "Reloaded dataset does not match notification",
			"expected_latest", msg.LatestPeriod,
			"latest", latest)
	}
	return nil
}

// Watch polls the dataset file every interval until ctx is done.
func (r *Refresher) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := r.ReloadIfChanged(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "Dataset refresh failed", "error", err)
				continue
			}
			if changed {
				slog.DebugContext(ctx, "Dataset change detected on disk")
			}
		}
	}
}

// EnrichmentStatus reports the outcome of the last directory load.
func (r *Refresher) EnrichmentStatus() enrich.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}
