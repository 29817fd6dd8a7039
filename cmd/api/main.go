package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campuskit/attendance-api/internal/collaborator/identity"
	"github.com/campuskit/attendance-api/internal/collaborator/notify"
	"github.com/campuskit/attendance-api/internal/handler"
	"github.com/campuskit/attendance-api/internal/middleware"
	"github.com/campuskit/attendance-api/internal/models"
	"github.com/campuskit/attendance-api/internal/repository"
	"github.com/campuskit/attendance-api/internal/service"
	"github.com/campuskit/attendance-api/pkg/cache"
	"github.com/campuskit/attendance-api/pkg/config"
	"github.com/campuskit/attendance-api/pkg/database"
	"github.com/campuskit/attendance-api/pkg/jobs"
	"github.com/campuskit/attendance-api/pkg/logger"
	corsmiddleware "github.com/campuskit/attendance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/campuskit/attendance-api/pkg/middleware/requestid"
)

// @title Attendance API
// @version 1.0.0
// @description Classroom attendance session and integrity engine
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The session cache degrades to a miss on every read; the API stays up.
		logr.Sugar().Warnw("redis unavailable, session cache disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories.
	sessionRepo := repository.NewSessionRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	summaryRepo := repository.NewSummaryRepository(db)
	fraudRepo := repository.NewFraudFlagRepository(db)
	disputeRepo := repository.NewDisputeRepository(db)
	rosterRepo := repository.NewRosterRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Services. The events queue carries every asynchronous side effect:
	// summary updates from marks and sweeps, advisory fraud checks, audit
	// writes and notifications.
	var queue *jobs.Queue
	metricsSvc := service.NewMetricsService(func() float64 {
		if queue == nil {
			return 0
		}
		return float64(queue.Depth())
	})

	summarySvc := service.NewSummaryService(summaryRepo, rosterRepo, metricsSvc, logr)
	fraudSvc := service.NewFraudService(fraudRepo, attendanceRepo, cfg.Fraud, metricsSvc, logr)
	notifier := notify.NewLogNotifier(logr)

	dispatcher := service.NewEventDispatcher(summarySvc, fraudSvc, auditRepo, notifier, logr)
	queue = jobs.NewQueue("outbound-events", dispatcher.Handle, jobs.QueueConfig{
		Workers:    cfg.Events.Workers,
		BufferSize: cfg.Events.BufferSize,
		MaxRetries: cfg.Events.MaxRetries,
		RetryDelay: cfg.Events.RetryDelay,
		Logger:     logr,
	})
	queue.Start(ctx)
	defer queue.Stop()

	publisher := service.NewEventPublisher(queue, logr)
	sessionCache := service.NewSessionCache(redisClient, cfg.Session.ActiveCacheTTL, logr)

	authSvc := service.NewAuthService(cfg.JWT)
	sessionSvc := service.NewSessionService(sessionRepo, rosterRepo, attendanceRepo, sessionCache, publisher, metricsSvc, cfg.Session, logr)
	attendanceSvc := service.NewAttendanceService(attendanceRepo, sessionSvc, rosterRepo, fraudSvc, identity.New(cfg.Identity), publisher, metricsSvc, logr)
	disputeSvc := service.NewDisputeService(disputeRepo, attendanceRepo, rosterRepo, summarySvc, publisher, logr)
	exportSvc := service.NewExportService(summaryRepo, rosterRepo, cfg.Reports.Enabled, logr)

	// HTTP surface.
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	sessionHandler := handler.NewSessionHandler(sessionSvc)
	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc, summarySvc)
	disputeHandler := handler.NewDisputeHandler(disputeSvc)
	fraudHandler := handler.NewFraudHandler(fraudSvc)
	reportHandler := handler.NewReportHandler(exportSvc)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(authSvc))

	teacherOnly := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
	studentOnly := middleware.RequireRoles(models.RoleStudent)

	sessions := api.Group("/sessions")
	{
		sessions.POST("", teacherOnly, sessionHandler.Start)
		sessions.GET("/active", sessionHandler.GetActive)
		sessions.GET("/:id", sessionHandler.Get)
		sessions.POST("/:id/refresh-qr", teacherOnly, sessionHandler.RefreshQR)
		sessions.POST("/:id/end", teacherOnly, sessionHandler.End)
	}

	attendance := api.Group("/attendance")
	{
		attendance.POST("/mark", studentOnly, attendanceHandler.Mark)
		attendance.PATCH("/:id/approve", teacherOnly, attendanceHandler.Approve)
		attendance.GET("/sessions/:id", teacherOnly, attendanceHandler.SessionRoll)
		attendance.GET("/summary", attendanceHandler.Summary)
	}

	disputes := api.Group("/disputes")
	{
		disputes.POST("", studentOnly, disputeHandler.Raise)
		disputes.GET("", teacherOnly, disputeHandler.List)
		disputes.PATCH("/:id/resolve", teacherOnly, disputeHandler.Resolve)
	}

	fraudFlags := api.Group("/fraud-flags", teacherOnly)
	{
		fraudFlags.GET("", fraudHandler.List)
		fraudFlags.PATCH("/:id", fraudHandler.Review)
	}

	api.GET("/reports/classes/:class_id", teacherOnly, reportHandler.ClassReport)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
}
