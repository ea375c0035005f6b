package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgellow/melody/internal/log"
)

// Sweeper drops expired entries
type Sweeper interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// CleanupManager periodically sweeps expired refresh locks and results
type CleanupManager struct {
	sweeper  Sweeper
	interval time.Duration
	stopChan chan struct{}
	doneChan chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(sweeper Sweeper, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		sweeper:  sweeper,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the cleanup loop in a goroutine
func (cm *CleanupManager) Start(ctx context.Context) {
	log.LogInfoWithFields("cleanup", "Starting refresh coordination cleanup", map[string]any{
		"interval": cm.interval.String(),
	})

	cm.started.Store(true)
	go cm.run(ctx)
}

// Stop stops the loop and waits for it to exit. It is a no-op if Start was
// never called.
func (cm *CleanupManager) Stop() {
	if !cm.started.Load() {
		return
	}
	cm.stopOnce.Do(func() { close(cm.stopChan) })
	<-cm.doneChan
	log.LogDebugWithFields("cleanup", "Refresh coordination cleanup stopped", nil)
}

func (cm *CleanupManager) run(ctx context.Context) {
	defer close(cm.doneChan)

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.cleanup(ctx)
		case <-cm.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (cm *CleanupManager) cleanup(ctx context.Context) {
	count, err := cm.sweeper.CleanupExpired(ctx)
	if err != nil {
		log.LogErrorWithFields("cleanup", "Failed to sweep refresh coordination entries", map[string]any{
			"error": err.Error(),
		})
		return
	}

	if count > 0 {
		log.LogDebugWithFields("cleanup", "Swept expired refresh coordination entries", map[string]any{
			"count": count,
		})
	}
}
