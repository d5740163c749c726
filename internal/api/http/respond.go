// Package httpapi exposes the admission workflow over REST. Handlers
// decode, delegate, and encode; policy lives in the services and tenant
// filtering in the store.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ppdb-id/ppdb-backend/internal/api/respond"
	"github.com/ppdb-id/ppdb-backend/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	respond.JSON(w, status, v)
}

type errorBody = respond.ErrorBody

func writeError(w http.ResponseWriter, err error) {
	respond.Error(w, err)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.BadRequest("invalid JSON body")
	}
	return nil
}

/* ------------------------------- pagination ------------------------------- */

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type pageMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
}

type pagedBody struct {
	Data any      `json:"data"`
	Meta pageMeta `json:"meta"`
}

func writePaged(w http.ResponseWriter, data any, page, pageSize int, total int64) {
	pages := (total + int64(pageSize) - 1) / int64(pageSize)
	writeJSON(w, http.StatusOK, pagedBody{
		Data: data,
		Meta: pageMeta{Page: page, PageSize: pageSize, Total: total, TotalPages: pages},
	})
}

// pagination reads page and page_size query parameters, clamping the size.
func pagination(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// parseID reads an optional numeric query parameter; empty means unset.
func parseID(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.BadRequest("invalid id")
	}
	return id, nil
}

func pathID(r *http.Request, param string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.BadRequest("invalid " + param)
	}
	return id, nil
}
