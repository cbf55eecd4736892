package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Params is an offset window over a result set.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= and ?offset=. Unparseable or out-of-range values
// fall back to the defaults rather than failing the request.
func FromContext(c echo.Context) Params {
	return Params{
		Limit:  clamp(c.QueryParam("limit"), DefaultLimit, 1, MaxLimit),
		Offset: clamp(c.QueryParam("offset"), 0, 0, -1),
	}
}

func clamp(raw string, def, lo, hi int) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo {
		return def
	}
	if hi >= 0 && v > hi {
		return hi
	}
	return v
}

// Response is one page of T. Data is never null in JSON.
type Response[T any] struct {
	Data       []T  `json:"data"`
	Total      int  `json:"total"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
	NextOffset *int `json:"next_offset,omitempty"`
}

// NewResponse wraps a page already cut by the store; total counts all rows.
func NewResponse[T any](data []T, total, limit, offset int) *Response[T] {
	if data == nil {
		data = []T{}
	}
	r := &Response[T]{Data: data, Total: total, Limit: limit, Offset: offset}
	if p := (Params{Limit: limit, Offset: offset}); p.HasNext(total) {
		next := offset + limit
		r.HasMore = true
		r.NextOffset = &next
	}
	return r
}

// Page cuts an in-memory result set.
func Page[T any](items []T, p Params) *Response[T] {
	total := len(items)
	start := min(p.Offset, total)
	end := min(start+p.Limit, total)
	return NewResponse(items[start:end], total, p.Limit, p.Offset)
}

// HasNext reports whether rows remain after this window.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}
