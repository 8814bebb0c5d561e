package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout puts a deadline on each request's context and answers 504
// when the handler outlives it. Paths matching a skipPrefix are exempt;
// snapshot capture and simulation launch replay whole datasets and get their
// own, longer budget.
func RequestTimeout(timeout time.Duration, skipPrefixes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			for _, p := range skipPrefixes {
				if strings.HasPrefix(path, p) {
					return next(c)
				}
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			result := make(chan error, 1)
			go func() { result <- next(c) }()

			select {
			case err := <-result:
				return err
			case <-ctx.Done():
				if ctx.Err() != context.DeadlineExceeded {
					// Client disconnects cancel the context too.
					return ctx.Err()
				}
				// A partial write already committed the response; nothing
				// more can be sent.
				if c.Response().Committed {
					return nil
				}
				return c.JSON(http.StatusGatewayTimeout, map[string]string{
					"error": "request processing exceeded the allowed time limit",
				})
			}
		}
	}
}
