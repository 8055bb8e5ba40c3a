package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dyike/CortexQuant/internal/engine"
	"github.com/dyike/CortexQuant/models"
)

// envelope wraps backtest responses.
type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type errorBody struct {
	Detail     string `json:"detail"`
	StatusCode int    `json:"status_code"`
}

type backtestBody struct {
	Ticker           string   `json:"ticker" binding:"required"`
	StartYear        int      `json:"start_year"`
	StartDate        string   `json:"start_date"`
	EndDate          string   `json:"end_date"`
	InitialCapital   *float64 `json:"initial_capital"`
	PositionSize     *float64 `json:"position_size"`
	UnlimitedCapital bool     `json:"unlimited_capital"`
	SizingMode       string   `json:"sizing_mode"`
	Allocation       *float64 `json:"allocation"`
	Benchmark        string   `json:"benchmark"`
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    apiName,
		"version": apiVersion,
		"status":  "operational",
		"endpoints": gin.H{
			"health":   "/health",
			"forecast": "/api/forecast/{ticker}",
			"backtest": "/api/backtest/run",
			"runs":     "/api/runs",
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.currentEngine() == nil {
		s.fail(c, http.StatusServiceUnavailable, "Service unhealthy: engine not initialized")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handleForecast(c *gin.Context) {
	req := engine.ForecastRequest{Ticker: c.Param("ticker")}

	if raw := c.Query("start_date"); raw != "" {
		start, err := models.ParseDate(raw)
		if err != nil {
			s.fail(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
		req.StartDate = start
	}
	if raw := c.Query("forecast_days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(c, http.StatusUnprocessableEntity, fmt.Sprintf("invalid forecast_days %q", raw))
			return
		}
		req.ForecastDays = days
	}

	res, err := s.currentEngine().Forecast(c.Request.Context(), req)
	if err != nil {
		s.failErr(c, "Forecast failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleBacktestRun(c *gin.Context) {
	var body backtestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	req, err := s.backtestRequest(body)
	if err != nil {
		s.fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.runBacktest(c, req)
}

func (s *Server) handleBacktestTicker(c *gin.Context) {
	body := backtestBody{Ticker: c.Param("ticker")}

	raw := c.Query("start_year")
	if raw == "" {
		s.fail(c, http.StatusUnprocessableEntity, "start_year is required")
		return
	}
	year, err := strconv.Atoi(raw)
	if err != nil {
		s.fail(c, http.StatusUnprocessableEntity, fmt.Sprintf("invalid start_year %q", raw))
		return
	}
	body.StartYear = year

	for key, dst := range map[string]**float64{
		"initial_capital": &body.InitialCapital,
		"position_size":   &body.PositionSize,
		"allocation":      &body.Allocation,
	} {
		if v := c.Query(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				s.fail(c, http.StatusUnprocessableEntity, fmt.Sprintf("invalid %s %q", key, v))
				return
			}
			*dst = &f
		}
	}
	body.UnlimitedCapital, _ = strconv.ParseBool(c.DefaultQuery("unlimited_capital", "false"))
	body.SizingMode = c.Query("sizing_mode")
	body.Benchmark = c.Query("benchmark")

	req, err := s.backtestRequest(body)
	if err != nil {
		s.fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.runBacktest(c, req)
}

func (s *Server) runBacktest(c *gin.Context, req engine.BacktestRequest) {
	res, err := s.currentEngine().Backtest(c.Request.Context(), req)
	if err != nil {
		s.failErr(c, "Backtest failed", err)
		return
	}
	c.JSON(http.StatusOK, envelope{
		Status:  "success",
		Message: fmt.Sprintf("Backtest completed for %s", res.Ticker),
		Data:    res,
	})
}

func (s *Server) handleRunsList(c *gin.Context) {
	if s.store == nil {
		s.fail(c, http.StatusNotFound, "run history is disabled")
		return
	}
	cursor, _ := strconv.ParseInt(c.DefaultQuery("cursor", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	runs, err := s.store.ListRuns(c.Request.Context(), c.Query("ticker"), cursor, limit)
	if err != nil {
		s.failErr(c, "List runs failed", err)
		return
	}
	items := make([]gin.H, 0, len(runs))
	for _, r := range runs {
		items = append(items, gin.H{
			"row_id":        r.RowID,
			"run_id":        r.ID,
			"ticker":        r.Ticker,
			"mode":          r.Mode,
			"start_date":    r.StartDate,
			"end_date":      r.EndDate,
			"final_capital": r.FinalCapital,
			"total_return":  r.TotalReturn,
			"sharpe_ratio":  r.SharpeRatio,
			"max_drawdown":  r.MaxDrawdown,
			"num_trades":    r.NumTrades,
			"created_at":    r.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, envelope{Status: "success", Message: fmt.Sprintf("%d runs", len(items)), Data: items})
}

func (s *Server) handleRunGet(c *gin.Context) {
	if s.store == nil {
		s.fail(c, http.StatusNotFound, "run history is disabled")
		return
	}
	res, err := s.store.LoadResult(c.Request.Context(), c.Param("runID"))
	if err != nil {
		s.failErr(c, "Load run failed", err)
		return
	}
	if res == nil {
		s.fail(c, http.StatusNotFound, "run not found")
		return
	}
	c.JSON(http.StatusOK, envelope{Status: "success", Message: "run " + res.RunID, Data: res})
}

// backtestRequest fills unset fields from config. start_date wins over
// start_year.
func (s *Server) backtestRequest(body backtestBody) (engine.BacktestRequest, error) {
	req := engine.BacktestRequest{
		Ticker:    strings.TrimSpace(body.Ticker),
		Benchmark: body.Benchmark,
		Sizing:    engine.SizingFromConfig(s.cfg, body.UnlimitedCapital),
	}

	switch {
	case body.StartDate != "":
		start, err := models.ParseDate(body.StartDate)
		if err != nil {
			return req, err
		}
		req.StartDate = start
	case body.StartYear > 0:
		req.StartDate = engine.StartOfYear(body.StartYear)
	default:
		return req, fmt.Errorf("start_year or start_date is required")
	}
	if body.EndDate != "" {
		end, err := models.ParseDate(body.EndDate)
		if err != nil {
			return req, err
		}
		req.EndDate = end.Add(24*time.Hour - time.Nanosecond)
	}

	if body.SizingMode != "" && !body.UnlimitedCapital {
		req.Sizing.Mode = models.SizingMode(body.SizingMode)
	}
	if body.InitialCapital != nil {
		req.Sizing.InitialCapital = *body.InitialCapital
	}
	if body.PositionSize != nil {
		req.Sizing.PositionSize = *body.PositionSize
	}
	if body.Allocation != nil {
		req.Sizing.Allocation = *body.Allocation
	}
	return req, nil
}

func (s *Server) failErr(c *gin.Context, prefix string, err error) {
	status := http.StatusInternalServerError
	switch {
	case engine.IsBadRequest(err):
		status = http.StatusBadRequest
	case engine.IsNotFound(err):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", c.FullPath()).Error(prefix)
	}
	s.fail(c, status, fmt.Sprintf("%s: %v", prefix, err))
}

func (s *Server) fail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, errorBody{Detail: detail, StatusCode: status})
}
