package integrations

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const httpTimeout = 10 * time.Second

var (
	// ErrNotFound is returned when a package or resource doesn't exist in the index.
	ErrNotFound = errors.New("resource not found")

	// ErrNetwork is returned for HTTP failures (timeouts, connection errors, 5xx responses).
	ErrNetwork = errors.New("network error")
)

// NewHTTPClient creates an HTTP client with a standard timeout for index requests.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}

var pkgNameSeparators = regexp.MustCompile(`[-_.]+`)

// NormalizePkgName converts a package name to its canonical form following
// PEP 503: lowercase, with runs of "-", "_", and "." collapsed into a single
// hyphen. Pillow-SIMD, pillow_simd, and pillow.simd all canonicalize to
// "pillow-simd" and aggregate as one package.
func NormalizePkgName(name string) string {
	return pkgNameSeparators.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}
