package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/roach88/stockline/internal/errs"
	"github.com/roach88/stockline/internal/record"
	"github.com/roach88/stockline/internal/schema"
	"github.com/roach88/stockline/internal/syncer"
)

// Query parameters with a meaning of their own; every other parameter is an
// equality filter.
const (
	paramOrderBy = "order_by"
	paramDesc    = "desc"
	paramLimit   = "limit"
)

func listQuery(c echo.Context) (record.Query, error) {
	var q record.Query
	filters := map[string]any{}
	for key, values := range c.QueryParams() {
		switch key {
		case paramOrderBy, paramDesc:
		case paramLimit:
			n, err := strconv.Atoi(values[0])
			if err != nil || n < 0 {
				return q, echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
			}
			q.Limit = n
		default:
			filters[key] = values[0]
		}
	}
	if len(filters) > 0 {
		q.Where = record.Match(filters)
	}
	if col := c.QueryParam(paramOrderBy); col != "" {
		desc, _ := strconv.ParseBool(c.QueryParam(paramDesc))
		q.OrderBy = []record.Order{{Column: col, Desc: desc}}
	}
	return q, nil
}

func bindRow(c echo.Context) (record.Row, error) {
	var row record.Row
	if err := (&echo.DefaultBinder{}).BindBody(c, &row); err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "request body must be a non-empty JSON object")
	}
	return row, nil
}

func (s *Server) listRows(c echo.Context) error {
	q, err := listQuery(c)
	if err != nil {
		return err
	}
	rows, err := s.store.Select(c.Request().Context(), c.Param("table"), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rows)
}

func (s *Server) insertRow(c echo.Context) error {
	row, err := bindRow(c)
	if err != nil {
		return err
	}
	res, err := s.store.Insert(c.Request().Context(), c.Param("table"), row)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) getRow(c echo.Context) error {
	row, err := s.store.Get(c.Request().Context(), c.Param("table"), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, row)
}

func (s *Server) updateRow(c echo.Context) error {
	fields, err := bindRow(c)
	if err != nil {
		return err
	}
	table, id := c.Param("table"), c.Param("id")
	res, err := s.store.Update(c.Request().Context(), table, fields, record.Eq(schema.ColID, id))
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return errs.NotFound(table, id)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) deleteRow(c echo.Context) error {
	table, id := c.Param("table"), c.Param("id")
	res, err := s.store.Delete(c.Request().Context(), table, record.Eq(schema.ColID, id))
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return errs.NotFound(table, id)
	}
	return c.NoContent(http.StatusNoContent)
}

// TransactionRequest is the body of POST /api/transactions.
type TransactionRequest struct {
	Ops []record.Op `json:"ops"`
}

func (s *Server) transaction(c echo.Context) error {
	var req TransactionRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if len(req.Ops) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "ops must not be empty")
	}
	results, err := s.store.Transaction(c.Request().Context(), req.Ops)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"results": results})
}

// SyncRequest is the optional body of POST /api/sync. No tables means the
// default sync set.
type SyncRequest struct {
	Tables []string `json:"tables"`
}

// SyncResponse reports a sync cycle.
type SyncResponse struct {
	Results map[string]syncer.Result `json:"results"`
	Failed  []string                 `json:"failed"`
	LastRun *time.Time               `json:"last_run,omitempty"`
	Cycles  int                      `json:"cycles,omitempty"`
}

func (s *Server) syncNow(c echo.Context) error {
	if s.syncer == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "sync is not configured")
	}
	var req SyncRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return err
		}
	}
	for _, t := range req.Tables {
		if _, err := s.store.Schema().Table(t); err != nil {
			return err
		}
	}
	results := s.syncer.SyncAll(c.Request().Context(), req.Tables)
	return c.JSON(http.StatusOK, SyncResponse{Results: results, Failed: syncer.Failed(results)})
}

func (s *Server) syncResults(c echo.Context) error {
	if s.scheduler == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "scheduled sync is not running")
	}
	results := s.scheduler.LastResults()
	resp := SyncResponse{
		Results: results,
		Failed:  syncer.Failed(results),
		Cycles:  s.scheduler.Cycles(),
	}
	if last := s.scheduler.LastRun(); !last.IsZero() {
		resp.LastRun = &last
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) valuation(c echo.Context) error {
	v, err := s.inventory.Valuation(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}
