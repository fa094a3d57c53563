package etlapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/imperiopatitas/bsale_etl/appctx"
	"github.com/imperiopatitas/bsale_etl/config"
	"github.com/imperiopatitas/bsale_etl/workflow"
	"github.com/sirupsen/logrus"
)

const (
	serviceName       = "bsale-etl"
	dailyDocumentDays = 7
	defaultSampleSize = 10
)

// Syncer is the part of workflow.Service the HTTP surface drives.
type Syncer interface {
	Sync(ctx context.Context, entity workflow.Entity, since *time.Time) ([]workflow.Summary, error)
	SyncDocuments(ctx context.Context, since *time.Time) (workflow.Summary, error)
	CleanAndReload(ctx context.Context) ([]workflow.Summary, error)
	Sample(ctx context.Context, entity workflow.Entity, limit int) ([]json.RawMessage, error)
}

type Publisher interface {
	Publish(ctx context.Context, req config.SyncRequest) (string, error)
}

// HealthInfo is reported by the scheduler health endpoint.
type HealthInfo struct {
	Destination        string `json:"destination"`
	BsaleConfigured    bool   `json:"bsale_configured"`
	BigQueryConfigured bool   `json:"bigquery_configured"`
	AsyncConfigured    bool   `json:"async_configured"`
	SheetsConfigured   bool   `json:"sheets_configured"`
}

func HealthFromSettings(s *config.Settings) HealthInfo {
	return HealthInfo{
		Destination:        s.Destination,
		BsaleConfigured:    s.Bsale.Token != "",
		BigQueryConfigured: s.BigQuery.Project != "" && s.BigQuery.Dataset != "",
		AsyncConfigured:    s.PubSub.ProjectID != "" && s.PubSub.Topic != "",
		SheetsConfigured:   s.SheetsEnabled(),
	}
}

type Handler struct {
	syncer    Syncer
	publisher Publisher
	health    HealthInfo
	logger    logrus.FieldLogger
	now       func() time.Time
}

// NewHandler wires the trigger endpoints. publisher may be nil, in which
// case async triggers are refused.
func NewHandler(syncer Syncer, publisher Publisher, health HealthInfo, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = config.DiscardLogger()
	}
	return &Handler{
		syncer:    syncer,
		publisher: publisher,
		health:    health,
		logger:    logger.WithField("module", "etlapi"),
		now:       time.Now,
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.POST("/etl/sync/:entity", h.SyncHandler())
	r.POST("/etl/clean-and-reload", h.CleanAndReloadHandler())

	r.POST("/scheduler/etl/daily", h.DailyHandler())
	r.POST("/scheduler/etl/incremental", h.IncrementalHandler())
	r.GET("/scheduler/health", h.HealthHandler())
	r.POST("/scheduler/etl/test", h.TestHandler())

	r.POST("/pubsub/etl", h.PubSubPushHandler())
}

func (h *Handler) SyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Param("entity")
		entity, err := workflow.ParseEntity(raw)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"detail": fmt.Sprintf("entity %q not found", raw)})
			return
		}
		since, err := parseStartDate(c.Query("start_date"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}

		if strings.EqualFold(c.Query("async"), "true") {
			h.enqueue(c, config.SyncRequest{Entity: string(entity), Since: since})
			return
		}

		start := h.now()
		if _, err := h.syncer.Sync(c.Request.Context(), entity, since); err != nil {
			h.fail(c, fmt.Sprintf("sync of %q failed", entity), err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "sync completed",
			"entity":   entity,
			"duration": h.now().Sub(start).String(),
		})
	}
}

func (h *Handler) CleanAndReloadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Query("async"), "true") {
			h.enqueue(c, config.SyncRequest{Entity: string(workflow.EntityAll), CleanReload: true})
			return
		}
		start := h.now()
		h.logger.WithFields(appctx.Fields(c.Request.Context())).Warn("clean and reload requested")
		if _, err := h.syncer.CleanAndReload(c.Request.Context()); err != nil {
			h.fail(c, "clean and reload failed", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "clean and reload completed",
			"message":  "all tables were erased and reloaded from Bsale",
			"duration": h.now().Sub(start).String(),
		})
	}
}

// DailyHandler runs a full resync limited to the last week of documents.
func (h *Handler) DailyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ua := c.GetHeader("User-Agent"); !strings.Contains(ua, "Google-Cloud-Scheduler") {
			h.logger.WithField("userAgent", ua).Warn("daily ETL triggered outside Cloud Scheduler")
		}
		start := h.now()
		since := startOfDay(start.AddDate(0, 0, -dailyDocumentDays))
		if _, err := h.syncer.Sync(c.Request.Context(), workflow.EntityAll, &since); err != nil {
			h.fail(c, "daily ETL failed", err)
			return
		}
		end := h.now()
		c.JSON(http.StatusOK, gin.H{
			"status":           "success",
			"message":          "daily ETL completed",
			"start_time":       start.Format(time.RFC3339),
			"end_time":         end.Format(time.RFC3339),
			"duration_seconds": end.Sub(start).Seconds(),
			"start_date":       since.Format(time.DateOnly),
			"executed_by":      "cloud_scheduler",
		})
	}
}

// IncrementalHandler loads only the documents of the last N days.
func (h *Handler) IncrementalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		days := 1
		if v := c.Query("days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"detail": "days must be a positive integer"})
				return
			}
			days = n
		}
		start := h.now()
		since := startOfDay(start.AddDate(0, 0, -days))
		if _, err := h.syncer.SyncDocuments(c.Request.Context(), &since); err != nil {
			h.fail(c, "incremental ETL failed", err)
			return
		}
		end := h.now()
		c.JSON(http.StatusOK, gin.H{
			"status":           "success",
			"message":          fmt.Sprintf("incremental ETL completed (%d days)", days),
			"start_time":       start.Format(time.RFC3339),
			"end_time":         end.Format(time.RFC3339),
			"duration_seconds": end.Sub(start).Seconds(),
			"days_processed":   days,
			"start_date":       since.Format(time.DateOnly),
		})
	}
}

func (h *Handler) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": h.now().Format(time.RFC3339),
			"service":   serviceName,
			"config":    h.health,
		})
	}
}

// TestHandler fetches a small sample of one entity without writing.
func (h *Handler) TestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entity, err := workflow.ParseEntity(c.DefaultQuery("entity", string(workflow.EntityClients)))
		if err != nil || entity == workflow.EntityAll {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "entity must be clients, products or documents"})
			return
		}
		limit := defaultSampleSize
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}

		start := h.now()
		items, err := h.syncer.Sample(c.Request.Context(), entity, limit)
		if err != nil {
			h.fail(c, "sample fetch failed", err)
			return
		}
		var first json.RawMessage
		if len(items) > 0 {
			first = items[0]
		}
		c.JSON(http.StatusOK, gin.H{
			"status":           "success",
			"entity":           entity,
			"sample_count":     len(items),
			"first":            first,
			"duration_seconds": h.now().Sub(start).Seconds(),
			"timestamp":        start.Format(time.RFC3339),
		})
	}
}

func (h *Handler) enqueue(c *gin.Context, req config.SyncRequest) {
	if h.publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "async triggers are not configured"})
		return
	}
	req.RequestedAt = h.now().UTC()
	req.CorrelationId = appctx.CorrelationId(c.Request.Context())
	id, err := h.publisher.Publish(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "could not queue sync", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "entity": req.Entity, "message_id": id})
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, workflow.ErrSyncInProgress):
		status = http.StatusConflict
	case errors.Is(err, workflow.ErrUnknownEntity):
		status = http.StatusNotFound
	}
	config.LogError(h.logger.WithFields(appctx.Fields(c.Request.Context())), "etlapi", c.FullPath(), msg, c.Request.URL.RawQuery, err)
	c.JSON(status, gin.H{"detail": fmt.Sprintf("%s: %v", msg, err)})
}

func parseStartDate(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, v, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("start_date must be YYYY-MM-DD, got %q", v)
	}
	return &t, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
