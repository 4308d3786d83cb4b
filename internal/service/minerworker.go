package service

import (
	"context"
	"sync"
	"time"

	"github.com/Harshitk-cp/mnemo/internal/domain"
	"go.uber.org/zap"
)

const defaultMiningInterval = 30 * time.Minute

// MinerWorker periodically runs the pattern miner over users with recent
// activity. Mining is independent of the per-query path.
type MinerWorker struct {
	miner         *PatternMinerService
	usageLogStore domain.UsageLogStore
	logger        *zap.Logger

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewMinerWorker(miner *PatternMinerService, us domain.UsageLogStore, logger *zap.Logger) *MinerWorker {
	return &MinerWorker{
		miner:         miner,
		usageLogStore: us,
		logger:        logger,
		interval:      defaultMiningInterval,
		stopCh:        make(chan struct{}),
	}
}

func (w *MinerWorker) SetInterval(d time.Duration) {
	w.interval = d
}

func (w *MinerWorker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.logger.Info("mining worker started", zap.Duration("interval", w.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				w.RunOnce(ctx)
				cancel()
			case <-w.stopCh:
				w.logger.Info("mining worker stopped")
				return
			}
		}
	}()
}

func (w *MinerWorker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *MinerWorker) RunOnce(ctx context.Context) {
	since := time.Now().Add(-w.miner.Lookback)
	users, err := w.usageLogStore.ActiveUsers(ctx, since)
	if err != nil {
		w.logger.Error("failed to list active users for mining", zap.Error(err))
		return
	}

	for _, userID := range users {
		result, err := w.miner.Mine(ctx, userID)
		if err != nil {
			w.logger.Error("mining failed for user",
				zap.String("user_id", userID),
				zap.Error(err))
			continue
		}
		if result.PatternsCreated > 0 || result.PatternsReinforced > 0 {
			w.logger.Info("mining produced patterns",
				zap.String("user_id", userID),
				zap.Int("created", result.PatternsCreated),
				zap.Int("reinforced", result.PatternsReinforced))
		}
	}
}
