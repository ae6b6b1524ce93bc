package wallet

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"raspadinha-platform/internal/events"
)

// Promoter applies pending affiliate tier upgrades after a sweep
type Promoter interface {
	PromoteEligibleAffiliates(ctx context.Context) (int64, error)
}

// SchedulerConfig holds configuration for the reconciliation scheduler
type SchedulerConfig struct {
	// Interval is how often to run a full reconciliation sweep
	Interval time.Duration

	// SweepTimeout is the maximum time allowed for a single sweep
	SweepTimeout time.Duration
}

// DefaultSchedulerConfig returns default scheduler configuration
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Interval:     1 * time.Hour,
		SweepTimeout: 10 * time.Minute,
	}
}

// Scheduler runs the reconciliation sweep and tier promotion on a fixed
// interval
type Scheduler struct {
	reconciler *Reconciler
	promoter   Promoter
	bus        *events.EventBus
	config     *SchedulerConfig

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a new reconciliation scheduler
func NewScheduler(reconciler *Reconciler, promoter Promoter, bus *events.EventBus, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	return &Scheduler{
		reconciler: reconciler,
		promoter:   promoter,
		bus:        bus,
		config:     config,
		stopChan:   make(chan struct{}),
	}
}

// Start starts the reconciliation scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("reconciliation scheduler already running")
	}
	s.running = true
	s.stopChan = make(chan struct{}) // Reinitialize for restart capability
	s.mu.Unlock()

	log.Println("[RECONCILER] Starting reconciliation scheduler")

	s.wg.Add(1)
	go s.runLoop()

	return nil
}

// Stop stops the reconciliation scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("reconciliation scheduler not running")
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()

	log.Println("[RECONCILER] Reconciliation scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// runLoop is the main scheduler loop
func (s *Scheduler) runLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run immediately on start
	s.runSweep()

	for {
		select {
		case <-ticker.C:
			s.runSweep()
		case <-s.stopChan:
			log.Println("[RECONCILER] Received stop signal")
			return
		}
	}
}

// runSweep runs one reconciliation sweep and applies any tier upgrades the
// accumulated earnings have unlocked, all within one timeout
func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.SweepTimeout)
	defer cancel()

	report, err := s.reconciler.Run(ctx, false)
	if err != nil {
		log.Printf("[RECONCILER] Sweep error after %d wallets: %v", report.Checked, err)
		return
	}
	log.Printf("[RECONCILER] Sweep complete: %d checked, %d drifted, %d repaired",
		report.Checked, report.Drifted, report.Repaired)

	if s.promoter == nil {
		return
	}
	promoted, err := s.promoter.PromoteEligibleAffiliates(ctx)
	if err != nil {
		log.Printf("[RECONCILER] Tier promotion error: %v", err)
		return
	}
	if promoted > 0 {
		log.Printf("[RECONCILER] Promoted %d affiliates to higher tiers", promoted)
		if s.bus != nil {
			s.bus.PublishTierPromoted(promoted)
		}
	}
}
