package handler

import (
	"net/http"
	"strconv"

	apperrors "github.com/reliefwallet/credential-engine/internal/errors"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Page is a limit/offset window over a newest-first listing.
type Page struct {
	Limit  int
	Offset int
}

// parsePage reads limit and offset. A missing or zero limit means the
// default and an oversized one is capped. Non-numeric values are rejected.
func parsePage(r *http.Request) (Page, error) {
	page := Page{Limit: DefaultPageSize}
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return page, apperrors.InvalidInput("limit", "must be a non-negative integer")
		}
		switch {
		case n == 0:
		case n > MaxPageSize:
			page.Limit = MaxPageSize
		default:
			page.Limit = n
		}
	}

	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return page, apperrors.InvalidInput("offset", "must be a non-negative integer")
		}
		page.Offset = n
	}

	return page, nil
}
