// Package drive uploads the combined dataset to Google Drive.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
)

const csvMime = "text/csv"

// Upload outcomes.
const (
	ActionUpdated       = "updated"
	ActionUpdatedByName = "updated_by_name"
	ActionCreated       = "created"
)

// Files is the subset of the Drive API the uploader needs.
type Files interface {
	Update(ctx context.Context, fileID string, media io.Reader) error
	FindByName(ctx context.Context, name string) (string, error)
	Create(ctx context.Context, name string, media io.Reader) (string, error)
}

// Result reports which file received the upload and how.
type Result struct {
	FileID string
	Action string
}

// Uploader pushes a local file to Drive: it updates the configured file
// ID, falls back to the first untrashed file with the same name, and
// creates a new file as a last resort.
type Uploader struct {
	files  Files
	fileID string
}

func NewUploader(files Files, fileID string) *Uploader {
	return &Uploader{files: files, fileID: strings.TrimSpace(fileID)}
}

func (u *Uploader) Upload(ctx context.Context, path string) (Result, error) {
	name := filepath.Base(path)

	if u.fileID != "" {
		err := withFile(path, func(r io.Reader) error { return u.files.Update(ctx, u.fileID, r) })
		if err == nil {
			slog.InfoContext(ctx, "Updated Google Drive file", "file_id", u.fileID)
			return Result{FileID: u.fileID, Action: ActionUpdated}, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, err
		}
		slog.WarnContext(ctx, "Could not update configured file, searching by name", "file_id", u.fileID, "error", err)
	}

	id, err := u.files.FindByName(ctx, name)
	if err != nil {
		return Result{}, fmt.Errorf("search drive for %s: %w", name, err)
	}
	if id != "" {
		if err := withFile(path, func(r io.Reader) error { return u.files.Update(ctx, id, r) }); err != nil {
			return Result{}, fmt.Errorf("update drive file %s: %w", id, err)
		}
		slog.InfoContext(ctx, "Updated Google Drive file found by name", "file_id", id)
		return Result{FileID: id, Action: ActionUpdatedByName}, nil
	}

	err = withFile(path, func(r io.Reader) error {
		var cerr error
		id, cerr = u.files.Create(ctx, name, r)
		return cerr
	})
	if err != nil {
		return Result{}, fmt.Errorf("create drive file: %w", err)
	}
	slog.WarnContext(ctx, "Created a new Google Drive file; update GDRIVE_FILE_ID and share it for the dashboard",
		"file_id", id, "action_required", true)
	return Result{FileID: id, Action: ActionCreated}, nil
}

func withFile(path string, fn func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	return fn(f)
}

// Service adapts *drive.Service to Files.
type Service struct {
	svc *gdrive.Service
}

// NewService authenticates with service account JSON, read inline or from
// credentialsFile.
func NewService(ctx context.Context, credentialsJSON, credentialsFile string) (*Service, error) {
	creds := []byte(strings.TrimSpace(credentialsJSON))
	if len(creds) == 0 && credentialsFile != "" {
		data, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		creds = data
	}
	if len(creds) == 0 {
		return nil, errors.New("missing service account credentials (set GDRIVE_CREDENTIALS or GDRIVE_CREDENTIALS_FILE)")
	}
	svc, err := gdrive.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gdrive.DriveFileScope))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Service{svc: svc}, nil
}

func (s *Service) Update(ctx context.Context, fileID string, media io.Reader) error {
	_, err := s.svc.Files.Update(fileID, &gdrive.File{}).
		Media(media, googleapi.ContentType(csvMime)).
		Context(ctx).Do()
	return err
}

func (s *Service) FindByName(ctx context.Context, name string) (string, error) {
	q := fmt.Sprintf("name = '%s' and trashed = false", strings.ReplaceAll(name, "'", `\'`))
	list, err := s.svc.Files.List().Q(q).Fields("files(id, name)").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

func (s *Service) Create(ctx context.Context, name string, media io.Reader) (string, error) {
	f, err := s.svc.Files.Create(&gdrive.File{Name: name, MimeType: csvMime}).
		Media(media, googleapi.ContentType(csvMime)).
		Fields("id").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return f.Id, nil
}
