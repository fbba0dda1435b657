package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/storefront_backend/config"
	"bitbucket.org/mmdatafocus/storefront_backend/events"
	"bitbucket.org/mmdatafocus/storefront_backend/locking"
	"bitbucket.org/mmdatafocus/storefront_backend/models"
	"bitbucket.org/mmdatafocus/storefront_backend/utils"
	"bitbucket.org/mmdatafocus/storefront_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// application is the composition root's wiring: one lock registry, one
// session registry, one notifier per process, built once dependencies are
// ready and injected into every handler. The readiness gate returns 503
// until it exists.
type application struct {
	sessions *locking.SessionRegistry
	locks    *locking.Registry
	edits    *workflow.EditSessions
	drafts   *workflow.DraftLifecycle
	approval *workflow.ApprovalWorkflow
	notifier events.Notifier
	logger   *logrus.Logger
}

var app *application

func buildApplication(logger *logrus.Logger) *application {
	var notifier events.Notifier
	if rdb := config.GetRedisDB(); rdb != nil {
		redisNotifier := events.NewRedisNotifier(rdb, events.DefaultChannel, logger)
		redisNotifier.Start()
		notifier = redisNotifier
	} else {
		logger.Warn("redis not available; change notifications stay in-process")
		notifier = events.NewLocalNotifier()
	}

	// Purchase decisions invalidate the cached stats on every node.
	notifier.Subscribe(func(e events.Event) {
		if e.Kind() != events.KindPurchaseStatusChanged {
			return
		}
		if err := config.RemoveRedisKeysByPattern("stats:*"); err != nil {
			logger.Warnf("failed to invalidate stats cache: %v", err)
		}
	})

	store := workflow.NewGormStore()
	sessions := locking.NewSessionRegistry()
	locks := locking.NewRegistry(sessions, notifier, logger)
	drafts := workflow.NewDraftLifecycle(store, config.GetRedisLock(), logger)

	return &application{
		sessions: sessions,
		locks:    locks,
		edits:    workflow.NewEditSessions(sessions, locks, drafts, logger),
		drafts:   drafts,
		approval: workflow.NewApprovalWorkflow(store, notifier, logger),
		notifier: notifier,
		logger:   logger,
	}
}

func correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	}
}

// userContextMiddleware lifts the caller identity headers into the request
// context. Authentication itself lives in front of this service.
func userContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if userId := headerInt(c, "X-User-Id"); userId > 0 {
			ctx = utils.SetUserIdInContext(ctx, userId)
		}
		if userName := c.GetHeader("X-User-Name"); userName != "" {
			ctx = utils.SetUserNameInContext(ctx, userName)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func readinessMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || app == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	}
}

func buildRouter(logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(correlationMiddleware())
	r.Use(readinessMiddleware())
	r.Use(userContextMiddleware())
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "X-User-Id", "X-User-Name")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	// Edit sessions and advisory locks.
	r.POST("/edit-sessions", openEditSessionHandler)
	r.DELETE("/edit-sessions/:token", endEditSessionHandler)
	r.POST("/edit-sessions/:token/terminate", terminateEditSessionHandler)
	r.POST("/locks/acquire", acquireLockHandler)
	r.POST("/locks/release", releaseLockHandler)
	r.GET("/locks", lockHoldersHandler)
	r.GET("/locks/:type/:id", isLockedHandler)

	// Draft autosave/merge.
	r.GET("/drafts", hasDraftHandler)
	r.POST("/drafts", captureDraftHandler)
	r.POST("/drafts/consume", consumeDraftHandler)
	r.DELETE("/drafts", discardDraftHandler)

	// Purchases and the approval workflow.
	r.POST("/purchases", createPurchaseHandler)
	r.GET("/purchases", listPurchasesHandler)
	r.GET("/purchases/:id", getPurchaseHandler)
	r.POST("/purchases/:id/approve", approvePurchaseHandler)
	r.POST("/purchases/:id/reject", rejectPurchaseHandler)
	r.GET("/purchase-stats/top-products", topProductsHandler)
	r.GET("/purchase-stats/monthly", monthlyTotalsHandler)

	// Catalog CRUD.
	r.GET("/products", listProductsHandler)
	r.POST("/products", createProductHandler)
	r.GET("/products/:id", getProductHandler)
	r.PUT("/products/:id", updateProductHandler)
	r.DELETE("/products/:id", deleteProductHandler)
	r.GET("/categories", listCategoriesHandler)
	r.POST("/categories", createCategoryHandler)
	r.PUT("/categories/:id", updateCategoryHandler)
	r.DELETE("/categories/:id", deleteCategoryHandler)
	r.POST("/users", createUserHandler)

	return r
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	r := buildRouter(logger)

	// Start listening immediately; the readiness gate 503s until the
	// dependencies below are connected.
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

	app = buildApplication(logger)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	if redisNotifier, ok := app.notifier.(*events.RedisNotifier); ok {
		redisNotifier.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}
