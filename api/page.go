package api

import (
	"encoding/json"
	"net/url"
	"strconv"

	apperrors "github.com/jrsteele09/go-backoffice-client/internal/errors"
	"github.com/tidwall/gjson"
)

// Row is one resource record. Rows are passed through as decoded JSON.
type Row map[string]any

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type Page struct {
	Rows       []Row      `json:"rows"`
	Pagination Pagination `json:"pagination"`
}

// ListParams are the paging and filter parameters of the list endpoints.
// Zero values take the endpoint's defaults.
type ListParams struct {
	Page       int
	Limit      int
	Search     string
	DepartCode string
	SortBy     string
	SortOrder  string
}

func (p ListParams) withDefaults(d ListParams) ListParams {
	if p.Page <= 0 {
		p.Page = d.Page
	}
	if p.Limit <= 0 {
		p.Limit = d.Limit
	}
	if p.SortBy == "" {
		p.SortBy = d.SortBy
	}
	if p.SortOrder == "" {
		p.SortOrder = d.SortOrder
	}
	return p
}

// catalogQuery is the query shared by the product and price lists.
func (p ListParams) catalogQuery() url.Values {
	return url.Values{
		"page":       {strconv.Itoa(p.Page)},
		"limit":      {strconv.Itoa(p.Limit)},
		"search":     {p.Search},
		"departCode": {p.DepartCode},
		"sortBy":     {p.SortBy},
		"sortOrder":  {p.SortOrder},
	}
}

// decodePage reads rows from result.recordset, falling back to data, and
// overlays the response pagination on defaults.
func decodePage(body []byte, defaults Pagination) (*Page, error) {
	rows, err := decodeRows(body, "result.recordset", "data")
	if err != nil {
		return nil, err
	}
	page := &Page{Rows: rows, Pagination: defaults}
	if p := gjson.GetBytes(body, "pagination"); p.IsObject() {
		overlayInt(p, "page", &page.Pagination.Page)
		overlayInt(p, "limit", &page.Pagination.Limit)
		overlayInt(p, "total", &page.Pagination.Total)
		overlayInt(p, "totalPages", &page.Pagination.TotalPages)
	}
	return page, nil
}

func overlayInt(obj gjson.Result, field string, dst *int) {
	if v := obj.Get(field); v.Exists() {
		*dst = int(v.Int())
	}
}

// decodeRows returns the first array found at paths. "@this" selects the
// whole body. No array at any path gives an empty result.
func decodeRows(body []byte, paths ...string) ([]Row, error) {
	if !gjson.ValidBytes(body) {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidResponseShape, "list response")
	}
	for _, path := range paths {
		res := gjson.GetBytes(body, path)
		if !res.IsArray() {
			continue
		}
		rows := []Row{}
		if err := json.Unmarshal([]byte(res.Raw), &rows); err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrInvalidResponseShape, "%s", path)
		}
		return rows, nil
	}
	return []Row{}, nil
}

func decodeRow(body []byte) (Row, error) {
	if len(body) == 0 {
		return Row{}, nil
	}
	row := Row{}
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidResponseShape, "decode: %v", err)
	}
	return row, nil
}
