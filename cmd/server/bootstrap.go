package main

import (
	"context"
	"time"

	"github.com/flightops/opsync/internal/config"
	"github.com/flightops/opsync/internal/handlers"
	"github.com/flightops/opsync/internal/models"
	"github.com/flightops/opsync/internal/services"
	"github.com/flightops/opsync/internal/utils"
	"github.com/flightops/opsync/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	sequencer  *services.Sequencer
	hub        *services.Hub
	operations *services.OperationService
	permission *services.PermissionService
	revisions  *services.RevisionService
	chat       *services.ChatService
	lifecycle  *services.LifecycleService
	taskQueue  services.TaskQueue
	worker     *services.Worker

	authHandler       *handlers.AuthHandler
	userHandler       *handlers.UserHandler
	operationHandler  *handlers.OperationHandler
	membershipHandler *handlers.MembershipHandler
	revisionHandler   *handlers.RevisionHandler
	chatHandler       *handlers.ChatHandler
	streamHandler     *handlers.StreamHandler
	healthHandler     *handlers.HealthHandler
	systemLogHandler  *handlers.SystemLogHandler
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	// Initialize database
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto migrate database
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Initialize system logger
	services.InitSystemLogger(models.GetDB())

	db := models.GetDB()
	sequencer := services.NewSequencer(time.Duration(cfg.Sync.SequencerTimeoutMS) * time.Millisecond)
	hub := services.NewHub(cfg.Sync.EventBuffer)

	operations := services.NewOperationService(db, sequencer, hub)
	permission := services.NewPermissionService(db, sequencer, hub)
	revisions := services.NewRevisionService(db, sequencer, hub)
	chat := services.NewChatService(db, sequencer, hub)
	lifecycle := services.NewLifecycleService(db, operations, permission, &cfg.Sync)

	// Task queue for propagation retries (Redis if enabled, otherwise the
	// cron sweep picks them up)
	taskQueue := services.InitTaskQueue(cfg)

	var worker *services.Worker
	if cfg.Redis.Enabled {
		worker = services.InitWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(func(ctx context.Context, t *services.PropagationTask) error {
				return permission.RetryByID(ctx, t.RetryID)
			})
			worker.Start()
		}
	}

	// Idle demotion + retry sweep + log retention
	if err := lifecycle.StartScheduler(); err != nil {
		logger.Fatalf("Failed to start lifecycle scheduler: %v", err)
	}

	// Create default admin user
	authHandler := handlers.NewAuthHandler(db, cfg)
	if err := authHandler.EnsureAdmin(); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	return &appServices{
		sequencer:  sequencer,
		hub:        hub,
		operations: operations,
		permission: permission,
		revisions:  revisions,
		chat:       chat,
		lifecycle:  lifecycle,
		taskQueue:  taskQueue,
		worker:     worker,

		authHandler:       authHandler,
		userHandler:       handlers.NewUserHandler(db, cfg),
		operationHandler:  handlers.NewOperationHandler(operations, permission),
		membershipHandler: handlers.NewMembershipHandler(operations, permission),
		revisionHandler:   handlers.NewRevisionHandler(revisions, permission),
		chatHandler:       handlers.NewChatHandler(chat),
		streamHandler:     handlers.NewStreamHandler(hub, operations, permission),
		healthHandler:     handlers.NewHealthHandler(hub),
		systemLogHandler:  handlers.NewSystemLogHandler(db),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.lifecycle.StopScheduler()
	logger.Info().Msg("Lifecycle scheduler stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
}
