package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MaintenanceScheduler runs periodic importance decay and expiry cleanup
// (and, optionally, consolidation) per tenant in the background.
//
// Maintenance passes only ever narrow importance or remove already-expired
// rows, so they are safe to run concurrently with live traffic.
//
// Thread safety: Start and Stop are safe for concurrent use; the running
// state is guarded by a mutex.
type MaintenanceScheduler struct {
	service  *Service
	accounts []string
	interval time.Duration

	// consolidate enables near-duplicate consolidation during passes.
	// Consolidation runs per (account, type) with the account as owner.
	consolidate bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}

	logger *zap.Logger
}

// SchedulerOption configures a MaintenanceScheduler.
type SchedulerOption func(*MaintenanceScheduler)

// WithInterval sets the time between maintenance passes (default 5 minutes).
func WithInterval(interval time.Duration) SchedulerOption {
	return func(s *MaintenanceScheduler) {
		s.interval = interval
	}
}

// WithAccounts sets the tenant IDs to maintain on each pass.
func WithAccounts(accounts []string) SchedulerOption {
	return func(s *MaintenanceScheduler) {
		s.accounts = accounts
	}
}

// WithConsolidation enables consolidation during maintenance passes.
func WithConsolidation(enabled bool) SchedulerOption {
	return func(s *MaintenanceScheduler) {
		s.consolidate = enabled
	}
}

// NewMaintenanceScheduler creates a scheduler. It does not start
// automatically; call Start.
func NewMaintenanceScheduler(service *Service, logger *zap.Logger, opts ...SchedulerOption) (*MaintenanceScheduler, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &MaintenanceScheduler{
		service:  service,
		interval: 5 * time.Minute,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start begins the background maintenance loop. Calling Start on a running
// scheduler returns an error without starting a second goroutine.
func (s *MaintenanceScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.stopCh = make(chan struct{})
	s.running = true

	s.logger.Info("maintenance scheduler started",
		zap.Duration("interval", s.interval),
		zap.Int("accounts", len(s.accounts)))

	go s.run()
	return nil
}

// Stop signals the background loop to stop. Stopping a stopped scheduler is
// a no-op.
func (s *MaintenanceScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.logger.Info("stopping maintenance scheduler")
	s.running = false
	close(s.stopCh)
	return nil
}

func (s *MaintenanceScheduler) run() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("maintenance goroutine panicked, recovering",
				zap.Any("panic", r),
				zap.Stack("stack"))
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeRunPass()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MaintenanceScheduler) safeRunPass() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("maintenance pass panicked, continuing scheduler",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	s.RunPass(context.Background())
}

// RunPass executes one maintenance pass across all configured accounts.
// Errors are logged per account and do not stop the pass.
func (s *MaintenanceScheduler) RunPass(ctx context.Context) {
	if len(s.accounts) == 0 {
		s.logger.Debug("no accounts configured for maintenance, skipping")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	for _, accountID := range s.accounts {
		decayed, err := s.service.ApplyDecay(ctx, accountID)
		if err != nil {
			s.logger.Error("decay pass failed",
				zap.String("account_id", accountID),
				zap.Error(err))
		}

		purged, err := s.service.CleanupExpired(ctx, accountID)
		if err != nil {
			s.logger.Error("expiry cleanup failed",
				zap.String("account_id", accountID),
				zap.Error(err))
		}

		merged := 0
		if s.consolidate {
			for _, typ := range Types {
				n, err := s.service.Consolidate(ctx, accountID, accountID, typ)
				if err != nil {
					s.logger.Error("consolidation failed",
						zap.String("account_id", accountID),
						zap.String("type", string(typ)),
						zap.Error(err))
					continue
				}
				merged += n
			}
		}

		s.logger.Debug("maintenance pass completed",
			zap.String("account_id", accountID),
			zap.Int64("decayed", decayed),
			zap.Int64("purged", purged),
			zap.Int("merged", merged))
	}
}
