package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/task"
)

var (
	ErrContentEmpty    = errors.New("content is required")
	ErrImportanceRange = errors.New("importance must be between 0 and 1")
)

// WorkingLogService is the write path into tier 0. Appends are validated
// here; once the unconsolidated backlog crosses the batch threshold, a
// consolidation run is queued on the shared task runner.
type WorkingLogService struct {
	store    domain.WorkingLogStore
	logger   *zap.Logger
	observer AppendObserver

	// Optional: wired by the engine so appends can kick consolidation
	// without waiting for the next timer tick.
	runner        *task.Runner
	consolidation *ConsolidationService
}

func NewWorkingLogService(store domain.WorkingLogStore, logger *zap.Logger) *WorkingLogService {
	return &WorkingLogService{
		store:  store,
		logger: logger,
	}
}

// SetConsolidationTrigger wires the size trigger to a coordinator. Without
// it, consolidation relies on the coordinator's own timer.
func (s *WorkingLogService) SetConsolidationTrigger(runner *task.Runner, consolidation *ConsolidationService) {
	s.runner = runner
	s.consolidation = consolidation
}

// SetObserver wires a metrics hook for accepted appends.
func (s *WorkingLogService) SetObserver(o AppendObserver) {
	s.observer = o
}

// Append validates and stores a tier-0 item. The store assigns the id and
// stamps createdAt; both are filled in on the passed item.
func (s *WorkingLogService) Append(ctx context.Context, it *domain.Item) error {
	if strings.TrimSpace(it.Content) == "" {
		return ErrContentEmpty
	}
	if it.Importance < 0 || it.Importance > 1 {
		return ErrImportanceRange
	}

	id, err := s.store.Append(ctx, it)
	if err != nil {
		return fmt.Errorf("append item: %w", err)
	}

	s.logger.Debug("item appended",
		zap.String("id", id),
		zap.Float64("importance", it.Importance))

	if s.observer != nil {
		s.observer.ObserveAppend()
	}
	s.maybeTriggerConsolidation(ctx)
	return nil
}

// Recent returns up to k items, newest first.
func (s *WorkingLogService) Recent(ctx context.Context, k int) ([]domain.Item, error) {
	return s.store.Recent(ctx, k)
}

// Clear wipes the tenant's working log.
func (s *WorkingLogService) Clear(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	s.logger.Info("working log cleared")
	return nil
}

// Len returns the current stream length, consolidated entries included.
func (s *WorkingLogService) Len(ctx context.Context) (int64, error) {
	return s.store.Len(ctx)
}

// OldestUnconsolidatedAge reports the age of the oldest pending item.
func (s *WorkingLogService) OldestUnconsolidatedAge(ctx context.Context) (time.Duration, bool, error) {
	return s.store.OldestUnconsolidatedAge(ctx, time.Now())
}

// maybeTriggerConsolidation queues a consolidation run once the backlog
// reaches the coordinator's batch threshold. Best effort: a full queue or
// a run already in flight just means the timer catches up later.
func (s *WorkingLogService) maybeTriggerConsolidation(ctx context.Context) {
	if s.runner == nil || s.consolidation == nil {
		return
	}

	threshold := s.consolidation.BatchThreshold()
	pending, err := s.store.Unconsolidated(ctx, threshold)
	if err != nil {
		s.logger.Debug("backlog check failed", zap.Error(err))
		return
	}
	if len(pending) < threshold {
		return
	}

	submitted := s.runner.Submit("consolidation", func(ctx context.Context) error {
		_, err := s.consolidation.Consolidate(ctx)
		return err
	})
	if submitted {
		s.logger.Debug("consolidation queued", zap.Int("backlog", len(pending)))
	}
}
