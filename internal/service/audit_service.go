package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zivenyang/auth-api/internal/models"
	"github.com/zivenyang/auth-api/pkg/jobs"
)

type auditLogWriter interface {
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
}

// AuditConfig tunes the background audit queue.
type AuditConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// AuditService persists audit entries off the request path. Entries are
// enqueued onto an in-memory worker pool and written by background workers
// with bounded retries, so auth and user flows never block on audit writes.
type AuditService struct {
	repo   auditLogWriter
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewAuditService constructs an AuditService. Start must be called before
// entries are accepted.
func NewAuditService(repo auditLogWriter, cfg AuditConfig, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AuditService{repo: repo, logger: logger}
	s.queue = jobs.NewQueue("audit", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the queue workers.
func (s *AuditService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop cancels the workers and waits for them to exit.
func (s *AuditService) Stop() {
	s.queue.Stop()
}

// Record enqueues an audit entry for background persistence. Enqueue failures
// demote to a logged warning so the calling flow does not fail on audit.
func (s *AuditService) Record(entry *models.AuditLog) {
	if entry == nil {
		return
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    entry.Action,
		Payload: entry,
	})
	if err != nil {
		s.logger.Warn("failed to enqueue audit entry",
			zap.String("action", entry.Action),
			zap.String("actor", entry.Actor()),
			zap.Error(err))
	}
}

func (s *AuditService) handle(ctx context.Context, job jobs.Job) error {
	entry, ok := job.Payload.(*models.AuditLog)
	if !ok {
		return fmt.Errorf("unexpected audit payload %T", job.Payload)
	}
	return s.repo.CreateAuditLog(ctx, entry)
}
