package handler

import (
	"net/http"
	"strconv"

	"github.com/jobflow/capture-server-go/internal/config"
)

type PaginationParams struct {
	Limit  int
	Offset int
}

// ParsePagination reads limit/offset from the query string. Out-of-range
// values are clamped, never rejected.
func ParsePagination(r *http.Request) PaginationParams {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	if limit <= 0 {
		limit = config.DefaultListLimit
	}
	if limit > config.MaxListLimit {
		limit = config.MaxListLimit
	}

	if offset < 0 {
		offset = 0
	}

	return PaginationParams{
		Limit:  limit,
		Offset: offset,
	}
}
