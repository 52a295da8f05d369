package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/kontrabaz/amobazon_backend/amosync"
	"bitbucket.org/kontrabaz/amobazon_backend/config"
	"bitbucket.org/kontrabaz/amobazon_backend/middlewares"
	"bitbucket.org/kontrabaz/amobazon_backend/models"
	"bitbucket.org/kontrabaz/amobazon_backend/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the platform considers the revision
	// healthy. Until DB/Redis are ready, app endpoints return 503.
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(requestLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/amo-bazon")

	// Amo webhooks arrive without an Origin header.
	api.POST("/amo-webhook", amosync.WebhookHandler())

	// Pub/Sub push endpoint for queued sync runs.
	api.POST("/pubsub/sync", amosync.PubSubPushHandler())

	// Tenant API for the iframe widget.
	tenant := api.Group("/", middlewares.OriginMiddleware())
	tenant.GET("/bazon-sale/:amo_id", amosync.GetSaleHandler())
	tenant.GET("/bazon-sale/:amo_id/detail", amosync.GetSaleDetailHandler())
	tenant.GET("/bazon-sales", amosync.ListSalesHandler())
	tenant.POST("/bazon-sales", amosync.ListSalesHandler())
	tenant.GET("/bazon-items/:amo_id", amosync.GetItemsHandler())
	tenant.POST("/bazon-sale/:amo_id/add-item", amosync.AddItemHandler())
	tenant.POST("/bazon-sale/:amo_id/delete-item", amosync.DeleteItemHandler())
	tenant.GET("/bazon-sale/:amo_id/orders", amosync.GetOrdersHandler())
	tenant.POST("/bazon-sale/:amo_id/move", amosync.MoveSaleHandler())
	tenant.POST("/bazon-sale/:amo_id/edit", amosync.EditSaleHandler())
	tenant.POST("/bazon-items/:amo_id/preview", amosync.PreviewItemsHandler())
	tenant.POST("/bazon-sale/:amo_id/add-pay", amosync.AddPayHandler())
	tenant.POST("/bazon-sale/:amo_id/pay-back", amosync.PayBackHandler())
	tenant.GET("/bazon-sale/:amo_id/get-pay-sources", amosync.GetPaySourcesHandler())
	tenant.GET("/bazon-sale/:amo_id/get-paid-sources", amosync.GetPaidSourcesHandler())
	tenant.GET("/bazon-sale/:amo_id/storages", amosync.GetStoragesHandler())
	tenant.GET("/bazon-sale/:amo_id/sources", amosync.GetSourcesHandler())
	tenant.GET("/bazon-sale/:amo_id/managers", amosync.GetManagersHandler())
	tenant.POST("/bazon-sale/create", amosync.CreateSaleHandler())
	tenant.GET("/bazon-sale/:amo_id/check", amosync.GetCheckHandler())
	tenant.POST("/bazon-sale/:amo_id/check/generate", amosync.GenerateCheckHandler())
	tenant.POST("/bazon-sale/:amo_id/check/refund", amosync.RefundCheckHandler())
	tenant.POST("/sync/trigger", amosync.TriggerSyncHandler())
	tenant.POST("/mappings/refresh", amosync.RefreshMappingsHandler())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	scheduler := startScheduler(sigCtx, logger)
	defer scheduler.Stop()

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}

// startScheduler registers the polling jobs. The sale-documents loop runs
// unconditionally; the contractors detail loop only when enabled.
func startScheduler(ctx context.Context, logger *logrus.Logger) *cron.Cron {
	interval := strings.TrimSpace(os.Getenv("POLL_INTERVAL"))
	if interval == "" {
		interval = "1m"
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every "+interval, func() {
		amosync.RunSaleDocumentsPolling(ctx)
	}); err != nil {
		logger.WithFields(logrus.Fields{"field": "scheduler"}).Error(err)
	}

	if strings.EqualFold(strings.TrimSpace(os.Getenv("ENABLE_CONTRACTORS_POLLING")), "true") {
		if _, err := scheduler.AddFunc("@every "+interval, func() {
			amosync.RunContractorsPolling(ctx)
		}); err != nil {
			logger.WithFields(logrus.Fields{"field": "scheduler"}).Error(err)
		}
	}

	scheduler.Start()
	return scheduler
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		logger.WithFields(logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        latency.String(),
			"correlation_id": cid,
		}).Info("request")
	}
}
