package common

import (
	"net/http"
	"strconv"
)

// maxPerPage caps list sizes so an admin script cannot drag a whole
// table through one response.
const maxPerPage = 200

// Pagination is the metadata block attached to every list response.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
}

// ParsePagination reads page and per_page from the query string,
// accepting limit as an alias for per_page. Out-of-range values fall
// back to the defaults.
func ParsePagination(r *http.Request, defaultPerPage int) (page, perPage int) {
	q := r.URL.Query()
	page = 1
	perPage = defaultPerPage
	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		page = p
	}
	raw := q.Get("per_page")
	if raw == "" {
		raw = q.Get("limit")
	}
	if l, err := strconv.Atoi(raw); err == nil && l > 0 {
		perPage = l
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return
}
