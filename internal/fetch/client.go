// Package fetch downloads monthly MA enrollment extracts from CMS.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"maenroll/internal/core"
)

const (
	DefaultBaseURL   = "https://www.cms.gov"
	DefaultUserAgent = "Mozilla/5.0 (compatible; CMS-AutoUpdater/1.0)"

	subpagePattern = "/data-research/statistics-trends-and-reports/" +
		"medicare-advantagepart-d-contract-and-enrollment-data/" +
		"monthly-ma-enrollment-state/county/contract/" +
		"ma-enrollment-scc-%s"

	// maxDownload bounds a single extract archive.
	maxDownload = 512 << 20
)

// Client talks to the CMS web site.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

// NewClient builds a client. Empty baseURL or userAgent use the defaults; a
// zero timeout means 120s per request.
func NewClient(baseURL, userAgent string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		http:      newHTTPClient(timeout),
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// PageURL returns the CMS sub-page that links to period's extract.
func (c *Client) PageURL(period core.PeriodKey) string {
	return c.baseURL + fmt.Sprintf(subpagePattern, period)
}

// DownloadURL finds the first .zip or .csv link on period's sub-page.
// Relative links are resolved against the base URL.
func (c *Client) DownloadURL(ctx context.Context, period core.PeriodKey) (string, error) {
	page := c.PageURL(period)
	slog.InfoContext(ctx, "Checking CMS sub-page", "period", period, "url", page)

	body, err := c.get(ctx, page, 4<<20)
	if err != nil {
		return "", &core.FetchError{Period: period, URL: page, Err: err}
	}
	href, ok := findExtractLink(strings.NewReader(string(body)))
	if !ok {
		return "", &core.FetchError{Period: period, URL: page, Err: ErrNoDownloadLink}
	}
	return c.resolve(href), nil
}

// Download returns the body at rawURL.
func (c *Client) Download(ctx context.Context, period core.PeriodKey, rawURL string) ([]byte, error) {
	body, err := c.get(ctx, rawURL, maxDownload)
	if err != nil {
		return nil, &core.FetchError{Period: period, URL: rawURL, Err: err}
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("response exceeds %d bytes", limit)
	}
	return body, nil
}

func (c *Client) resolve(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return c.baseURL + href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return c.baseURL + href
	}
	return base.ResolveReference(ref).String()
}

// findExtractLink scans HTML for the first anchor whose href ends in .zip
// or .csv, ignoring case and any query string.
func findExtractLink(r io.Reader) (string, bool) {
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", false
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" || !hasAttr {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "href" && isExtractLink(string(val)) {
					return strings.TrimSpace(string(val)), true
				}
				if !more {
					break
				}
			}
		}
	}
}

func isExtractLink(href string) bool {
	path := strings.ToLower(strings.TrimSpace(href))
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return strings.HasSuffix(path, ".zip") || strings.HasSuffix(path, ".csv")
}
