package shared

import (
	"math"
	"net/http"
	"strconv"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Page is a 1-based page request translated into limit/offset.
type Page struct {
	Page   int
	Limit  int
	Offset int
}

// ParsePage reads ?page and ?limit, falling back to defaults for missing or
// malformed values and capping limit at maxLimit. Page is capped so the
// offset cannot overflow.
func ParsePage(r *http.Request, defaultLimit, maxLimit int) Page {
	page := 1
	limit := defaultLimit
	if raw := r.URL.Query().Get("page"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			page = v
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	if maxPage := math.MaxInt / limit; page > maxPage {
		page = maxPage
	}
	return Page{Page: page, Limit: limit, Offset: (page - 1) * limit}
}

func TotalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
