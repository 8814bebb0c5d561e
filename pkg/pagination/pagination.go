// Package pagination reads limit/offset query parameters and wraps list
// responses in a stable envelope.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	// DefaultLimit applies when the client sends no limit.
	DefaultLimit = 20
	// MaxLimit caps the page size; snapshots and session lists can get large
	// and a runaway limit turns into a full-table read.
	MaxLimit = 100
)

// Params is one validated page window.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads limit and offset from the query string, clamping both to
// sane values. Malformed numbers fall back to defaults rather than erroring.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// HasNext reports whether a further page exists given the total row count.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// NextOffset is the offset of the following page.
func (p Params) NextOffset() int { return p.Offset + p.Limit }

// Response is the list envelope every paged endpoint returns.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

// NewResponse wraps one page of results with its paging metadata.
func NewResponse(data interface{}, total, limit, offset int) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
}
