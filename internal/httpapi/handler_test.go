package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"log/slog"

	"github.com/gin-gonic/gin"

	"imaginator/internal/config"
	"imaginator/internal/imagebackend"
	"imaginator/internal/pipeline"
	"imaginator/internal/registry"
	"imaginator/internal/version"
)

func newTestHandler(cfg *config.Config, reg *registry.Registry) *Handler {
	return NewHandler(cfg, reg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandlePipelineServesImage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	echo := func(ctx *registry.Context, args []pipeline.FilterArg) (registry.Result, error) {
		return &stubResult{status: 200, contentType: "image/png", body: []byte("payload")}, nil
	}
	reg := registry.New()
	if err := reg.Merge(map[string]registry.Handler{"echo": echo}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	handler := newTestHandler(&config.Config{AllowBuiltinFilters: true}, reg)

	router := gin.New()
	handler.Register(router)

	req := httptest.NewRequest(http.MethodGet, "/echo()", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", recorder.Code, recorder.Body.String())
	}
	if recorder.Body.String() != "payload" {
		t.Fatalf("unexpected body: %q", recorder.Body.String())
	}
	if got := recorder.Header().Get("Content-Type"); got != "image/png" {
		t.Fatalf("unexpected content type: %q", got)
	}
}

func TestHandlePipelineUnknownFilterRejected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newTestHandler(&config.Config{AllowBuiltinFilters: false}, registry.New())
	router := gin.New()
	handler.Register(router)

	version.Override("test-version")
	req := httptest.NewRequest(http.MethodGet, "/nosuchfilter()", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	expectedBody := fmt.Sprintf("<html><head><title>400 Bad Request</title></head>\n<body>\n<center><h1>400 Bad Request</h1></center>\n<hr><center>%s</center>\n</body></html> ", version.Identifier())
	if recorder.Body.String() != expectedBody {
		t.Fatalf("unexpected body: %q", recorder.Body.String())
	}
}

func TestHandlePipelineRejectsNonGetMethod(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newTestHandler(&config.Config{AllowBuiltinFilters: true}, registry.New())
	router := gin.New()
	handler.Register(router)

	req := httptest.NewRequest(http.MethodPost, "/echo()", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

type stubResult struct {
	status      int
	contentType string
	body        []byte
}

func (r *stubResult) ContentType() string      { return r.contentType }
func (r *stubResult) StatusCode() int          { return r.status }
func (r *stubResult) Content() ([]byte, error) { return r.body, nil }
func (r *stubResult) Image() (*imagebackend.Image, error) {
	return nil, fmt.Errorf("stubResult carries no image")
}
func (r *stubResult) DPI() (float64, float64, bool) { return 0, 0, false }
