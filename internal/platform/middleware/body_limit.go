package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// BodyLimit caps the request body size. defaultLimit covers ordinary JSON
// requests; snapshotLimit covers writes under /api/sim/templates, where a
// single document carries a tenant's whole flattened dataset.
//
// Limits are size strings such as "1M" or "512K". Suffixes K, M, and G are
// recognized, with or without a trailing B; a bare number is bytes.
func BodyLimit(defaultLimit string, snapshotLimit string) echo.MiddlewareFunc {
	defaultBytes := parseLimit(defaultLimit)
	snapshotBytes := parseLimit(snapshotLimit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			limit := defaultBytes
			if req.Method == http.MethodPost && strings.HasPrefix(req.URL.Path, "/api/sim/templates") {
				limit = snapshotBytes
			}

			// A declared Content-Length over the limit is rejected without
			// reading anything. The capped reader still guards the actual
			// bytes, since Content-Length can be absent or wrong.
			if req.ContentLength > limit {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
					"error": fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", limit),
				})
			}
			req.Body = &cappedBody{inner: req.Body, remaining: limit}

			return next(c)
		}
	}
}

// cappedBody fails the read once more than remaining bytes have been
// consumed.
type cappedBody struct {
	inner     io.ReadCloser
	remaining int64
	exceeded  bool
}

func (b *cappedBody) Read(p []byte) (int, error) {
	if b.exceeded {
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}

	// Read one byte past the cap so an exactly-full body is distinguishable
	// from an oversized one.
	if max := b.remaining + 1; int64(len(p)) > max {
		p = p[:max]
	}
	n, err := b.inner.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		b.exceeded = true
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	return n, err
}

func (b *cappedBody) Close() error { return b.inner.Close() }

var sizeSuffixes = []struct {
	suffix     string
	multiplier int64
}{
	{"G", 1 << 30},
	{"M", 1 << 20},
	{"K", 1 << 10},
}

// parseLimit converts a size string to bytes. Anything unparseable falls
// back to 1 MB rather than failing startup.
func parseLimit(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	for _, sz := range sizeSuffixes {
		if strings.HasSuffix(s, sz.suffix) {
			multiplier = sz.multiplier
			s = strings.TrimSuffix(s, sz.suffix)
			break
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 1 << 20
	}
	return n * multiplier
}
