package services

import (
	"context"
	"time"

	"github.com/flightops/opsync/internal/config"
	"github.com/flightops/opsync/internal/models"
	"github.com/flightops/opsync/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const (
	retryBatchSize    = 50
	logRetentionDays  = 90
	demotionBatchSize = 100
)

// LifecycleService runs the background sweep: operations untouched for the
// configured idle window are demoted from active to inactive, recorded
// propagation failures are re-applied, and old audit logs are trimmed. The
// sweep never deletes an operation.
type LifecycleService struct {
	db         *gorm.DB
	operations *OperationService
	permission *PermissionService
	syslog     *SystemLogService
	idleDays   int
	cronSpec   string
	scheduler  *cron.Cron
}

func NewLifecycleService(db *gorm.DB, ops *OperationService, perm *PermissionService, cfg *config.SyncConfig) *LifecycleService {
	return &LifecycleService{
		db:         db,
		operations: ops,
		permission: perm,
		syslog:     NewSystemLogService(db),
		idleDays:   cfg.IdleDays,
		cronSpec:   cfg.SweepCron,
	}
}

// StartScheduler begins the periodic sweep.
func (s *LifecycleService) StartScheduler() error {
	s.scheduler = cron.New()
	if _, err := s.scheduler.AddFunc(s.cronSpec, func() {
		s.Sweep(context.Background())
	}); err != nil {
		return err
	}
	s.scheduler.Start()
	logger.Info().Str("schedule", s.cronSpec).Int("idle_days", s.idleDays).Msg("lifecycle scheduler started")
	return nil
}

// StopScheduler stops the periodic sweep.
func (s *LifecycleService) StopScheduler() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// Sweep runs one pass of all background maintenance.
func (s *LifecycleService) Sweep(ctx context.Context) {
	demoted := s.DemoteIdle(ctx)
	repaired := s.permission.RetryPending(ctx, retryBatchSize)
	s.syslog.CleanupOldLogs(logRetentionDays)

	if demoted > 0 || repaired > 0 {
		logger.Info().Int("demoted", demoted).Int("propagations_repaired", repaired).Msg("lifecycle sweep finished")
	}
}

// DemoteIdle moves active operations whose last activity is older than the
// idle window to inactive. Returns the number of demoted operations.
func (s *LifecycleService) DemoteIdle(ctx context.Context) int {
	cutoff := time.Now().AddDate(0, 0, -s.idleDays)

	var idle []models.Operation
	err := s.db.Where("status = ? AND last_activity_at < ?", models.StatusActive, cutoff).
		Limit(demotionBatchSize).
		Find(&idle).Error
	if err != nil {
		logger.Error().Err(err).Msg("failed to query idle operations")
		return 0
	}

	demoted := 0
	for _, op := range idle {
		if err := s.operations.demoteIdle(ctx, op.ID); err != nil {
			logger.Warn().Err(err).Uint("operation_id", op.ID).Msg("idle demotion failed")
			continue
		}
		LogInfo("lifecycle", "demote_idle", op.Name, nil, "", nil)
		demoted++
	}
	return demoted
}
