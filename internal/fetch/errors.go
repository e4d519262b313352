package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoDownloadLink is returned when a sub-page links to no extract, which
// usually means CMS has not published the period yet.
var ErrNoDownloadLink = errors.New("no .zip or .csv link on page")

// StatusError is a non-200 HTTP response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// NotFound reports whether the page or file does not exist (yet).
func (e *StatusError) NotFound() bool { return e.Code == http.StatusNotFound }
