// Package api exposes manual runs, run history, statistics and scheduler
// control over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"jobwatch/internal/model"
	"jobwatch/internal/scheduler"
	"jobwatch/internal/scraper"
	"jobwatch/internal/stats"
)

const (
	defaultWindow   = 24 * time.Hour
	defaultRunLimit = 20
)

// Runner executes pipeline runs on demand.
type Runner interface {
	Trigger(ctx context.Context, criteria []model.SearchCriteria, sources []model.Source) (model.RunStats, error)
	TriggerAsync(ctx context.Context, criteria []model.SearchCriteria, sources []model.Source) (string, error)
}

// StatsStore computes listing and notification statistics.
type StatsStore interface {
	Statistics(ctx context.Context, since time.Time) (model.Statistics, error)
}

// Store is the read side of storage used by the API.
type Store interface {
	StatsStore
	ListingStore
}

// SourceLister reports the enabled sources.
type SourceLister interface {
	Sources() []model.Source
}

// Handler serves the HTTP API.
type Handler struct {
	runner  Runner
	runs    stats.Recorder
	store   Store
	state   *scheduler.State
	sources SourceLister
	now     func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(runner Runner, runs stats.Recorder, store Store, state *scheduler.State, sources SourceLister) *Handler {
	return &Handler{
		runner:  runner,
		runs:    runs,
		store:   store,
		state:   state,
		sources: sources,
		now:     time.Now,
	}
}

// NewRouter builds the gin engine with recovery, request logging and every
// API route.
func NewRouter(h *Handler, log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(Logger(log))
	h.Register(r)
	return r
}

// Register mounts the API routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")
	v1.POST("/runs", h.CreateRun)
	v1.GET("/runs", h.ListRuns)
	v1.GET("/runs/:id", h.GetRun)
	v1.GET("/listings", h.ListListings)
	v1.POST("/listings/search", h.SearchListings)
	v1.GET("/listings/:source/:external_id", h.GetListing)
	v1.GET("/statistics", h.GetStatistics)
	v1.GET("/scheduler", h.GetScheduler)
	v1.POST("/scheduler/stop", h.StopScheduler)
	v1.POST("/scheduler/start", h.StartScheduler)
	v1.GET("/scrapers", h.ListScrapers)
}

// RunRequest is the body of POST /api/v1/runs. A nil Criteria runs every
// active profile; empty Sources means every enabled source.
type RunRequest struct {
	Criteria *model.SearchCriteria `json:"criteria"`
	Sources  []model.Source        `json:"sources"`
	Async    bool                  `json:"async"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) CreateRun(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, s := range req.Sources {
		if err := checkSource(s); err != nil || s == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown source " + strconv.Quote(string(s))})
			return
		}
	}
	var criteria []model.SearchCriteria
	if req.Criteria != nil {
		criteria = append(criteria, *req.Criteria)
	}

	if req.Async {
		// The run outlives the request.
		id, err := h.runner.TriggerAsync(context.WithoutCancel(c.Request.Context()), criteria, req.Sources)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Header("Location", "/api/v1/runs/"+id)
		c.JSON(http.StatusAccepted, gin.H{"id": id})
		return
	}

	run, err := h.runner.Trigger(c.Request.Context(), criteria, req.Sources)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.runs.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, stats.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) ListRuns(c *gin.Context) {
	limit := defaultRunLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := h.runs.Recent(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (h *Handler) GetStatistics(c *gin.Context) {
	window := defaultWindow
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a positive duration such as 24h"})
			return
		}
		window = d
	}
	st, err := h.store.Statistics(c.Request.Context(), h.now().UTC().Add(-window))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) GetScheduler(c *gin.Context) {
	c.JSON(http.StatusOK, h.state.Snapshot())
}

func (h *Handler) StopScheduler(c *gin.Context) {
	h.state.Stop()
	c.JSON(http.StatusOK, h.state.Snapshot())
}

func (h *Handler) StartScheduler(c *gin.Context) {
	h.state.Start()
	c.JSON(http.StatusOK, h.state.Snapshot())
}

type scraperInfo struct {
	Source  model.Source `json:"source"`
	Enabled bool         `json:"enabled"`
}

func (h *Handler) ListScrapers(c *gin.Context) {
	enabled := h.sources.Sources()
	out := make([]scraperInfo, 0, len(scraper.KnownSources()))
	for _, s := range scraper.KnownSources() {
		out = append(out, scraperInfo{Source: s, Enabled: slices.Contains(enabled, s)})
	}
	c.JSON(http.StatusOK, out)
}
