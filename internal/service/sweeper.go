package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"FleetRiskAPI/internal/logger"
	"FleetRiskAPI/internal/metrics"
	"FleetRiskAPI/internal/models"
	"FleetRiskAPI/internal/repository"
)

const (
	DefaultSweepInterval = time.Minute
	DefaultSweepBatch    = 100
)

type pendingApplier interface {
	ApplyPending(ctx context.Context, pred *models.Prediction) (*TransitionResult, error)
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Applied int
	Stale   int
	Skipped int
	Failed  int
}

// PendingSweeper periodically re-applies predictions whose alerting failed.
type PendingSweeper struct {
	ledger   repository.ILedger
	applier  pendingApplier
	interval time.Duration
	batch    int
	metrics  *metrics.Metrics
	log      *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPendingSweeper(ledger repository.ILedger, applier pendingApplier, interval time.Duration, batch int, m *metrics.Metrics, log *logger.Logger) *PendingSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if batch <= 0 {
		batch = DefaultSweepBatch
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PendingSweeper{
		ledger:   ledger,
		applier:  applier,
		interval: interval,
		batch:    batch,
		metrics:  m,
		log:      log.With("sweeper"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *PendingSweeper) Start() {
	s.log.Info("Starting pending prediction sweeper (every %s)", s.interval)
	s.wg.Add(1)
	go s.run()
}

func (s *PendingSweeper) Shutdown() {
	s.log.Info("Shutting down pending prediction sweeper...")
	s.cancel()
	s.wg.Wait()
	s.log.Info("Pending prediction sweeper stopped")
}

func (s *PendingSweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			res := s.SweepOnce(s.ctx)
			if res.Applied+res.Stale+res.Skipped+res.Failed > 0 {
				s.log.Info("Pending sweep: %d applied, %d stale, %d skipped, %d failed",
					res.Applied, res.Stale, res.Skipped, res.Failed)
			}
		}
	}
}

// SweepOnce applies one batch, oldest capture first. After a failure on an
// asset its later predictions wait for the next sweep so order is kept.
func (s *PendingSweeper) SweepOnce(ctx context.Context) SweepResult {
	var res SweepResult

	pending, err := s.ledger.ListPendingPredictions(ctx, s.batch)
	if err != nil {
		s.log.Error("Failed to list pending predictions: %v", err)
		return res
	}

	blocked := make(map[string]bool)
	for i := range pending {
		if ctx.Err() != nil {
			break
		}
		pred := &pending[i]
		if blocked[pred.AssetID] {
			continue
		}

		_, err := s.applier.ApplyPending(ctx, pred)
		switch {
		case err == nil:
			res.Applied++
			s.metrics.PendingSwept.WithLabelValues("applied").Inc()
		case errors.Is(err, models.ErrStalePrediction):
			res.Stale++
			s.metrics.PendingSwept.WithLabelValues("stale").Inc()
		case errors.Is(err, models.ErrPredictionSettled):
			// Settled by Process between listing and locking.
			res.Skipped++
			s.metrics.PendingSwept.WithLabelValues("skipped").Inc()
		default:
			res.Failed++
			blocked[pred.AssetID] = true
			s.metrics.PendingSwept.WithLabelValues("failed").Inc()
			s.log.Warn("Pending prediction %s for asset %s still failing: %v", pred.ID, pred.AssetID, err)
		}
	}
	return res
}
