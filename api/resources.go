package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/go-backoffice-client/dispatch"
	apperrors "github.com/jrsteele09/go-backoffice-client/internal/errors"
)

const (
	ProductsPath          = "/api/products"
	ProductListPath       = "/api/products/list"
	PriceListPath         = "/api/prices/list"
	PriceUpdatePath       = "/api/prices/update"
	PriceBatchUpdatePath  = "/api/prices/batch-update"
	CustomersPath         = "/api/customers"
	ReservationsPath      = "/api/reservations"
	ReservationListPath   = "/api/reservations/list"
	customerDateLayout    = "02/01/2006"
	defaultCatalogLimit   = 50
	defaultCustomerLimit  = 20
	defaultCatalogSortBy  = "ItemCode"
	defaultCatalogSortDir = "ASC"
)

var catalogDefaults = ListParams{
	Page:      1,
	Limit:     defaultCatalogLimit,
	SortBy:    defaultCatalogSortBy,
	SortOrder: defaultCatalogSortDir,
}

type Products struct {
	c *Client
}

func (p *Products) List(ctx context.Context, params ListParams) (*Page, error) {
	params = params.withDefaults(catalogDefaults)
	return p.c.list(ctx, ProductListPath, params.catalogQuery(), params)
}

// Get returns one product by item code.
func (p *Products) Get(ctx context.Context, itemCode string) (Row, error) {
	if strings.TrimSpace(itemCode) == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidRequest, "item code is required")
	}
	return p.c.getRow(ctx, ProductsPath+"/"+url.PathEscape(itemCode), nil)
}

type Prices struct {
	c *Client
}

func (p *Prices) List(ctx context.Context, params ListParams) (*Page, error) {
	params = params.withDefaults(catalogDefaults)
	return p.c.list(ctx, PriceListPath, params.catalogQuery(), params)
}

// Update submits a price change and returns the submitted fields overlaid
// with the server's reply.
func (p *Prices) Update(ctx context.Context, fields Row) (Row, error) {
	reply, err := p.c.sendRow(ctx, http.MethodPost, PriceUpdatePath, fields)
	if err != nil {
		return nil, err
	}
	merged := make(Row, len(fields)+len(reply))
	for k, v := range fields {
		merged[k] = v
	}
	for k, v := range reply {
		merged[k] = v
	}
	return merged, nil
}

func (p *Prices) BatchUpdate(ctx context.Context, prices []Row) (Row, error) {
	return p.c.sendRow(ctx, http.MethodPost, PriceBatchUpdatePath, map[string]any{"prices": prices})
}

type Customers struct {
	c *Client
}

func (cu *Customers) List(ctx context.Context, params ListParams) (*Page, error) {
	params = params.withDefaults(ListParams{Page: 1, Limit: defaultCustomerLimit})
	query := url.Values{
		"page":   {strconv.Itoa(params.Page)},
		"limit":  {strconv.Itoa(params.Limit)},
		"search": {params.Search},
	}
	return cu.c.list(ctx, CustomersPath, query, params)
}

// Details returns the customer's transactions between start and end. A zero
// time leaves that bound to the server.
func (cu *Customers) Details(ctx context.Context, code string, start, end time.Time) ([]Row, error) {
	if strings.TrimSpace(code) == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidRequest, "customer code is required")
	}
	query := url.Values{}
	if !start.IsZero() {
		query.Set("startDate", start.Format(customerDateLayout))
	}
	if !end.IsZero() {
		query.Set("endDate", end.Format(customerDateLayout))
	}
	resp, err := cu.c.Do(ctx, dispatch.Descriptor{
		Method: http.MethodGet,
		Path:   CustomersPath + "/" + url.PathEscape(code),
		Query:  query,
	})
	if err != nil {
		return nil, err
	}
	return decodeRows(resp.Body, "finalResult", "data")
}

// ReservationQuery selects reservations. ItemCode and SaleName are required.
type ReservationQuery struct {
	ItemCode string
	SaleName string
	NameFGS  string
	Code     string
}

func (q ReservationQuery) validate() error {
	if strings.TrimSpace(q.ItemCode) == "" || strings.TrimSpace(q.SaleName) == "" {
		return apperrors.Wrapf(apperrors.ErrInvalidRequest, "itemCode and saleName are required")
	}
	return nil
}

type Reservations struct {
	c *Client
}

func (r *Reservations) List(ctx context.Context, q ReservationQuery) ([]Row, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	query := url.Values{
		"itemCode": {q.ItemCode},
		"saleName": {q.SaleName},
	}
	if q.NameFGS != "" {
		query.Set("nameFGS", q.NameFGS)
	}
	if q.Code != "" {
		query.Set("code", q.Code)
	}
	resp, err := r.c.Do(ctx, dispatch.Descriptor{Method: http.MethodGet, Path: ReservationListPath, Query: query})
	if err != nil {
		return nil, err
	}
	return decodeRows(resp.Body, "@this", "data")
}

func (r *Reservations) Create(ctx context.Context, reservation Row) (Row, error) {
	return r.c.sendRow(ctx, http.MethodPost, ReservationsPath, reservation)
}

func (r *Reservations) Update(ctx context.Context, id string, fields Row) (Row, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidRequest, "reservation id is required")
	}
	return r.c.sendRow(ctx, http.MethodPut, ReservationsPath+"/"+url.PathEscape(id), fields)
}

func (r *Reservations) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return apperrors.Wrapf(apperrors.ErrInvalidRequest, "reservation id is required")
	}
	_, err := r.c.Do(ctx, dispatch.Descriptor{Method: http.MethodDelete, Path: ReservationsPath + "/" + url.PathEscape(id)})
	return err
}

func (c *Client) list(ctx context.Context, path string, query url.Values, params ListParams) (*Page, error) {
	resp, err := c.Do(ctx, dispatch.Descriptor{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return nil, err
	}
	return decodePage(resp.Body, Pagination{Page: params.Page, Limit: params.Limit, TotalPages: 1})
}
