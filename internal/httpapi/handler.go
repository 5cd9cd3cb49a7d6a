// Package httpapi exposes the pipeline grammar over HTTP: one GET route
// takes the request path (plus query string) as a pipeline expression,
// executes it, and streams back whatever registry.Result comes out.
// Grounded on the original implementation's App::call (src/app.rs).
package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"

	"imaginator/internal/config"
	"imaginator/internal/engine"
	"imaginator/internal/ierr"
	"imaginator/internal/metrics"
	"imaginator/internal/pipeline"
	"imaginator/internal/registry"
	"imaginator/internal/version"
)

// Handler serves the pipeline grammar at the server's root path.
type Handler struct {
	cfg     *config.Config
	reg     *registry.Registry
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewHandler constructs the HTTP handler. m may be nil.
func NewHandler(cfg *config.Config, reg *registry.Registry, m *metrics.Metrics, logger *slog.Logger) *Handler {
	return &Handler{cfg: cfg, reg: reg, metrics: m, logger: logger.With("component", "handler")}
}

// Register attaches the pipeline route to gin engine.
func (h *Handler) Register(r *gin.Engine) {
	r.HandleMethodNotAllowed = true
	r.GET("/*path", h.handlePipeline)
	r.NoMethod(func(c *gin.Context) { c.Status(http.StatusMethodNotAllowed) })
}

func (h *Handler) handlePipeline(c *gin.Context) {
	start := time.Now()
	raw := strings.TrimPrefix(c.Param("path"), "/")
	if q := c.Request.URL.RawQuery; q != "" {
		raw += "?" + q
	}
	raw = h.cfg.ApplyRewrites(raw)

	f, _, err := pipeline.ParseURL([]byte(h.cfg.Secret), raw)
	if err != nil {
		h.respondError(c, err, start)
		return
	}
	expanded, err := pipeline.ExpandAliases(pipeline.AliasConfig{
		Templates:           h.cfg.Aliases,
		AllowBuiltinFilters: h.cfg.AllowBuiltinFilters,
	}, f)
	if err != nil {
		h.respondError(c, err, start)
		return
	}

	ctx := registry.NewContext(h.reg, h.cfg.LogFiltersHeader)
	res, err := engine.Exec(ctx, expanded)
	if err != nil {
		h.respondError(c, err, start)
		return
	}
	content, err := res.Content()
	if err != nil {
		h.respondError(c, err, start)
		return
	}

	for k, v := range ctx.ResponseHeaders() {
		c.Header(k, v)
	}
	c.Data(res.StatusCode(), res.ContentType(), content)
	h.logAccess(c, res.StatusCode(), len(content), time.Since(start))
	if h.metrics != nil {
		h.metrics.ObserveRequest(res.StatusCode(), time.Since(start))
	}
}

func (h *Handler) respondError(c *gin.Context, err error, start time.Time) {
	status := http.StatusInternalServerError
	if ie, ok := ierr.As(err); ok {
		status = statusForKind(ie.Kind)
		if ie.Status != 0 {
			status = ie.Status
		}
	}
	title := fmt.Sprintf("%d %s", status, http.StatusText(status))
	body := fmt.Sprintf("<html><head><title>%s</title></head>\n<body>\n<center><h1>%s</h1></center>\n<hr><center>%s</center>\n</body></html> ", title, title, version.Identifier())

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.String(status, body)
	c.Abort()

	h.logger.Error("request failed", "error", err, "status", status, "path", c.Request.URL.Path)
	h.logAccess(c, status, len(body), time.Since(start))
	if h.metrics != nil {
		h.metrics.ObserveRequest(status, time.Since(start))
	}
}

func (h *Handler) logAccess(c *gin.Context, status, bytes int, dur time.Duration) {
	h.logger.Info("served request",
		"remote_ip", c.ClientIP(),
		"path", c.Request.URL.Path,
		"status", status,
		"bytes", bytes,
		"duration_ms", dur.Milliseconds())
}

// statusForKind maps an ierr.Kind to its default HTTP status when the
// error wasn't constructed with an explicit WithStatus override.
func statusForKind(k ierr.Kind) int {
	switch k {
	case ierr.KindIncompleteURL, ierr.KindParseError, ierr.KindRemainingData,
		ierr.KindBadArgument, ierr.KindUnknownEnumValue, ierr.KindUnsupportedFormat,
		ierr.KindDataTooBig:
		return http.StatusBadRequest
	case ierr.KindInvalidSignature:
		return http.StatusForbidden
	case ierr.KindUnknownFilter:
		return http.StatusNotFound
	case ierr.KindNotInCache, ierr.KindCannotLogFilter, ierr.KindBackend:
		return http.StatusInternalServerError
	case ierr.KindIO:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
