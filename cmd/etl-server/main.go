package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/imperiopatitas/bsale_etl/appctx"
	"github.com/imperiopatitas/bsale_etl/bootstrap"
	"github.com/imperiopatitas/bsale_etl/config"
	"github.com/imperiopatitas/bsale_etl/etlapi"
	"github.com/sirupsen/logrus"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		logrus.WithField("field", "settings").Fatal(err)
	}
	logger := config.NewLogger(settings.LogLevel)
	if err := settings.Validate(); err != nil {
		logger.WithField("field", "settings").Fatal(err)
	}
	if settings.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	rt, err := bootstrap.Open(sigCtx, settings, logger, bootstrap.Options{Publisher: true})
	if err != nil {
		logger.WithField("field", "bootstrap").Fatal(err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.WithField("field", "shutdown").Error(err)
		}
	}()

	var publisher etlapi.Publisher
	if rt.Publisher != nil {
		publisher = rt.Publisher
	}
	handler := etlapi.NewHandler(rt.Service, publisher, etlapi.HealthFromSettings(settings), logger)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header("x-correlation-id", cid)
		c.Request = c.Request.WithContext(appctx.Set(c.Request.Context(), appctx.ContextKeyCorrelationId, cid))
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	if settings.IsProduction() {
		corsConfig.AllowOrigins = settings.CorsOrigins
		if len(corsConfig.AllowOrigins) == 0 {
			corsConfig.AllowOrigins = []string{}
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "x-correlation-id")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(requestLogger(logger))
	r.Use(gin.Recovery())

	handler.Register(r)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:              ":" + settings.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()
	logger.WithFields(logrus.Fields{
		"port":        settings.Port,
		"destination": rt.Destination.Name(),
		"async":       rt.Publisher != nil,
	}).Info("etl server listening")

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        time.Since(start).String(),
			"correlation_id": appctx.CorrelationId(c.Request.Context()),
		}).Info("request")
	}
}
