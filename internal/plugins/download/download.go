// Package download implements the "download(url, [dpi])" filter: it
// resolves a domain-prefixed URL against the configured domain table,
// fetches the body over HTTP, checks the sniffed format against the
// configured format allow-list, and hands back the raw bytes as a Result
// that decodes lazily. Grounded on the original implementation's
// plugins/base/src/download.rs.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"imaginator/internal/config"
	"imaginator/internal/engine"
	"imaginator/internal/ierr"
	"imaginator/internal/imagebackend"
	"imaginator/internal/pipeline"
	"imaginator/internal/registry"
	"imaginator/internal/results"
)

// Fetcher retrieves the body at url, returning its bytes and HTTP status
// code. A non-nil error means the request never produced a response at
// all (DNS failure, connection refused, timed-out) — a non-200 response
// is not an error, it's a status to report back through the pipeline.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, int, error)
}

// httpFetcher is the production Fetcher, a plain net/http client with a
// bounded timeout — there's no asynchronous runtime to hand the fetch
// off to here, unlike the original's hyper/futures client.
type httpFetcher struct {
	client *http.Client
}

// NewHTTPFetcher returns a Fetcher backed by net/http with the given
// per-request timeout.
func NewHTTPFetcher(timeout time.Duration) Fetcher {
	return &httpFetcher{client: &http.Client{Timeout: timeout}}
}

func (f *httpFetcher) Fetch(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// Handlers returns the "download" filter bound to cfg's domain table and
// format allow-list, fetching through fetcher.
func Handlers(cfg *config.Config, fetcher Fetcher) map[string]registry.Handler {
	return map[string]registry.Handler{"download": downloadHandler(cfg, fetcher)}
}

func downloadHandler(cfg *config.Config, fetcher Fetcher) registry.Handler {
	return func(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
		rawURL, err := engine.BindString("download", args, 0)
		if err != nil {
			return nil, err
		}
		ctx.AnnotateLastFilter(domainPrefix(rawURL))

		url := decodeURL(cfg.Domains, rawURL)
		var dpiOverride *float64
		if v, ok, err := engine.OptInt("download", args, 1); err != nil {
			return nil, err
		} else if ok {
			d := float64(v)
			dpiOverride = &d
		}

		body, status, err := fetcher.Fetch(context.Background(), url)
		if err != nil {
			return nil, ierr.Wrap(ierr.KindIO, err, "download: fetch %q", url)
		}
		if status != http.StatusOK {
			return &results.ErrorResult{
				Status:  status,
				Message: fmt.Sprintf("url %s returned %d", url, status),
			}, nil
		}

		if formats := cfg.Image.SupportedFormats; len(formats) > 0 {
			if format, ok := imagebackend.Ping(body); ok && !formatAllowed(format, formats) {
				return nil, ierr.New(ierr.KindUnsupportedFormat, "download: unsupported image format %q", format).WithStatus(415)
			}
		}

		return &results.DownloadResult{Bytes: body, DPIOverride: dpiOverride}, nil
	}
}

// domainPrefix returns the portion of rawURL before its first ':' — the
// same prefix decodeURL looks up in the domain table, used purely to
// annotate the trace header with which domain alias (if any) was used.
func domainPrefix(rawURL string) string {
	if i := strings.IndexByte(rawURL, ':'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// decodeURL expands a "domain:path" reference against the configured
// domain table, falling through to rawURL unchanged when the prefix
// isn't a known domain alias (including plain http(s):// URLs, whose
// prefix is "http"/"https" and never matches a configured domain).
func decodeURL(domains map[string]string, rawURL string) string {
	i := strings.IndexByte(rawURL, ':')
	if i < 0 {
		return rawURL
	}
	prefix, rest := rawURL[:i], rawURL[i+1:]
	base, ok := domains[prefix]
	if !ok {
		return rawURL
	}
	return base + rest
}

func formatAllowed(format imagebackend.Format, allowed []string) bool {
	for _, a := range allowed {
		if parsed, ok := imagebackend.ParseFormat(a); ok && parsed == format {
			return true
		}
	}
	return false
}
