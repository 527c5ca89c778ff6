package worker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/env"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/notify"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Manager owns the background loops: the order poller, the notification
// retry sweep, the stale-claim sweep and the failure spike monitor.
type Manager struct {
	poller      *Poller
	sweeper     *notify.RetrySweeper
	monitor     *notify.SpikeMonitor
	batchSize   int
	pollTicker  *time.Ticker
	retryTicker *time.Ticker
	spikeTicker *time.Ticker
	staleTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global worker manager (singleton).
func GetManager(db *gorm.DB) *Manager {
	managerOnce.Do(func() {
		globalManager = &Manager{
			poller:    NewPollerFromDB(db),
			sweeper:   notify.NewRetrySweeperFromDB(db),
			monitor:   notify.NewSpikeMonitorFromDB(db),
			batchSize: envSeconds("WORKER_BATCH_SIZE", defaultBatchSize),
			stopCh:    make(chan struct{}),
		}
	})
	return globalManager
}

// Start launches the background loops. Safe to call on a stopped manager.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be
	// restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Worker Manager] Starting background loops")

	pollInterval := time.Duration(envSeconds("WORKER_POLL_INTERVAL_SECONDS", 15)) * time.Second
	retryInterval := time.Duration(envSeconds("WORKER_RETRY_SWEEP_SECONDS", 60)) * time.Second
	spikeInterval := time.Duration(envSeconds("WORKER_SPIKE_CHECK_SECONDS", 60)) * time.Second
	staleInterval := time.Duration(envSeconds("WORKER_STALE_SWEEP_SECONDS", 300)) * time.Second

	m.pollTicker = time.NewTicker(pollInterval)
	m.wg.Add(1)
	go m.pollWorker(m.stopCh)

	m.retryTicker = time.NewTicker(retryInterval)
	m.wg.Add(1)
	go m.retryWorker(m.stopCh)

	m.spikeTicker = time.NewTicker(spikeInterval)
	m.wg.Add(1)
	go m.spikeWorker(m.stopCh)

	m.staleTicker = time.NewTicker(staleInterval)
	m.wg.Add(1)
	go m.staleWorker(m.stopCh)

	log.Infof("[Worker Manager] Started (poll %s, retry sweep %s, spike check %s, stale sweep %s)",
		pollInterval, retryInterval, spikeInterval, staleInterval)
}

// Stop halts the background loops and waits for them to drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Worker Manager] Stopping background loops...")

	if m.pollTicker != nil {
		m.pollTicker.Stop()
	}
	if m.retryTicker != nil {
		m.retryTicker.Stop()
	}
	if m.spikeTicker != nil {
		m.spikeTicker.Stop()
	}
	if m.staleTicker != nil {
		m.staleTicker.Stop()
	}

	close(m.stopCh)
	m.running = false

	m.wg.Wait()

	log.Info("[Worker Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// pollWorker advances runnable orders on every tick.
func (m *Manager) pollWorker(stopCh <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-stopCh:
			log.Info("[Worker Manager] Poll worker stopping")
			return
		case <-m.pollTicker.C:
			stats, err := m.poller.ProcessBatch(context.Background(), m.batchSize)
			if err != nil {
				log.Errorf("[Worker Manager] Poll pass error: %v", err)
			}
			if stats.Processed > 0 || stats.Failed > 0 {
				log.Infof("[Worker Manager] Poll pass: %d scanned, %d processed, %d skipped, %d failed",
					stats.Scanned, stats.Processed, stats.Skipped, stats.Failed)
			}
		}
	}
}

// retryWorker re-dispatches due notification retries.
func (m *Manager) retryWorker(stopCh <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-stopCh:
			log.Info("[Worker Manager] Retry sweep worker stopping")
			return
		case <-m.retryTicker.C:
			if _, err := m.sweeper.SweepOnce(context.Background(), time.Now()); err != nil {
				log.Errorf("[Worker Manager] Retry sweep error: %v", err)
			}
		}
	}
}

// spikeWorker checks the failure rate of recent sends.
func (m *Manager) spikeWorker(stopCh <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-stopCh:
			log.Info("[Worker Manager] Spike monitor stopping")
			return
		case <-m.spikeTicker.C:
			if _, err := m.monitor.CheckOnce(context.Background(), time.Now()); err != nil {
				log.Errorf("[Worker Manager] Spike check error: %v", err)
			}
		}
	}
}

// staleWorker releases send claims abandoned by crashed dispatchers.
func (m *Manager) staleWorker(stopCh <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-stopCh:
			log.Info("[Worker Manager] Stale claim sweep stopping")
			return
		case <-m.staleTicker.C:
			n, err := m.sweeper.RecoverStaleClaims(time.Now())
			if err != nil {
				log.Errorf("[Worker Manager] Stale claim sweep error: %v", err)
			} else if n > 0 {
				log.Infof("[Worker Manager] Released %d stale send claims", n)
			}
		}
	}
}

// RunPollOnce exposes a manual trigger for a single poll pass (admin use).
func (m *Manager) RunPollOnce(ctx context.Context, maxJobs int) (BatchStats, error) {
	if maxJobs <= 0 {
		maxJobs = m.batchSize
	}
	return m.poller.ProcessBatch(ctx, maxJobs)
}

// RunRetrySweepOnce exposes a manual trigger for a single retry sweep (admin use).
func (m *Manager) RunRetrySweepOnce(ctx context.Context) (int, error) {
	return m.sweeper.SweepOnce(ctx, time.Now())
}

// RunSpikeCheckOnce exposes a manual trigger for a single spike check (admin use).
func (m *Manager) RunSpikeCheckOnce(ctx context.Context) (string, error) {
	return m.monitor.CheckOnce(ctx, time.Now())
}

func envSeconds(key string, def int) int {
	if raw := env.GetEnv(key, ""); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return def
}
