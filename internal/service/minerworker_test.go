package service

import (
	"context"
	"testing"

	"github.com/Harshitk-cp/mnemo/internal/embedding"
)

func TestMinerWorker_RunOnceMinesActiveUsers(t *testing.T) {
	usageStore := newMockUsageLogStore()
	patternStore := newMockPatternStore()
	miner := NewPatternMinerService(usageStore, patternStore, embedding.NewMockClient(), testLogger())
	worker := NewMinerWorker(miner, usageStore, testLogger())
	ctx := context.Background()

	for i := 0; i < DefaultMinSupport; i++ {
		e := invoiceThenOrder("user-1")
		_ = usageStore.Append(ctx, &e)
	}

	worker.RunOnce(ctx)

	if len(patternStore.patterns) != 1 {
		t.Fatalf("expected one mined pattern, got %d", len(patternStore.patterns))
	}
}

func TestMinerWorker_StartStop(t *testing.T) {
	usageStore := newMockUsageLogStore()
	patternStore := newMockPatternStore()
	miner := NewPatternMinerService(usageStore, patternStore, nil, testLogger())
	worker := NewMinerWorker(miner, usageStore, testLogger())

	worker.Start()
	worker.Stop()
}
