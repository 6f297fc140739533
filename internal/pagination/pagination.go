// Package pagination reads page, limit and sort from a listing request and
// cuts the matching window out of a folder snapshot.
package pagination

import (
	"math"
	"net/url"
	"slices"
	"strconv"
)

// Params represents pagination parameters extracted from a request.
type Params struct {
	Page   int32  // 1-based
	Limit  int32  // items per page
	Offset int32  // derived from Page and Limit
	Sort   string // "newest" or "oldest"
}

const (
	// MaxLimit is the maximum number of items allowed per page
	MaxLimit int32 = 100
	// DefaultPage is the default page number when not specified
	DefaultPage int32 = 1
	// DefaultLimit is the default number of items per page when not specified
	DefaultLimit int32 = 50
	// DefaultSort is the store's order, newest first
	DefaultSort = "newest"
)

// calculateOffset computes in int64 and saturates at math.MaxInt32 so a huge
// page number cannot wrap negative.
func calculateOffset(page, limit int32) int32 {
	if page < 1 {
		page = 1
	}
	offset := (int64(page) - 1) * int64(limit)
	if offset > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(offset)
}

func isValidSort(sort string) bool {
	switch sort {
	case "newest", "oldest":
		return true
	default:
		return false
	}
}

// PaginationOption is a function type for configuring pagination parameters.
type PaginationOption func(*Params)

// WithDefaultLimit returns a PaginationOption that sets the default limit.
// The limit is only applied if it's greater than 0.
func WithDefaultLimit(limit int32) PaginationOption {
	return func(p *Params) {
		if limit > 0 {
			p.Limit = limit
		}
	}
}

// WithDefaultSort returns a PaginationOption that sets the default sort order.
// If the sort string is invalid, it returns a no-op option.
func WithDefaultSort(sort string) PaginationOption {
	if !isValidSort(sort) {
		return func(p *Params) {}
	}
	return func(p *Params) {
		p.Sort = sort
	}
}

// GetPaginationParams extracts pagination parameters from URL query values.
// Invalid values fall back to the defaults.
func GetPaginationParams(q url.Values, opts ...PaginationOption) *Params {
	params := &Params{
		Page:  DefaultPage,
		Limit: DefaultLimit,
		Sort:  DefaultSort,
	}

	for _, opt := range opts {
		opt(params)
	}

	if pageStr := q.Get("page"); pageStr != "" {
		if val, err := strconv.ParseInt(pageStr, 10, 32); err == nil && val > 0 {
			params.Page = int32(val)
		}
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		if val, err := strconv.ParseInt(limitStr, 10, 32); err == nil && val > 0 {
			params.Limit = int32(val)
		}
	}

	// enforce max limit
	if params.Limit > MaxLimit {
		params.Limit = MaxLimit
	}

	params.Offset = calculateOffset(params.Page, params.Limit)

	if sortStr := q.Get("sort"); sortStr != "" && isValidSort(sortStr) {
		params.Sort = sortStr
	}

	return params
}

// GetHasNext determines if there are more items available after the current page.
func GetHasNext(offset, limit, count int32) bool {
	return int64(offset)+int64(limit) < int64(count)
}

// Page is one window of a listing.
type Page[T any] struct {
	Items   []T   `json:"items"`
	Page    int32 `json:"page"`
	Limit   int32 `json:"limit"`
	Total   int32 `json:"total"`
	HasNext bool  `json:"hasNext"`
}

// Apply cuts the window described by p out of items, which arrive newest
// first. Sort "oldest" reverses them before slicing. items is not modified.
func Apply[T any](items []T, p *Params) Page[T] {
	ordered := items
	if p.Sort == "oldest" {
		ordered = slices.Clone(items)
		slices.Reverse(ordered)
	}
	total := int64(len(ordered))
	start := min(max(int64(p.Offset), 0), total)
	end := min(max(start+int64(p.Limit), start), total)

	window := make([]T, 0, end-start)
	window = append(window, ordered[start:end]...)
	return Page[T]{
		Items:   window,
		Page:    p.Page,
		Limit:   p.Limit,
		Total:   int32(min(total, math.MaxInt32)),
		HasNext: end < total,
	}
}
