package app

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/transfa/payflow/internal/clock"
	"github.com/transfa/payflow/internal/monitor"
	"go.uber.org/zap"
)

// Registry holds one workspace per authenticated subject.
type Registry struct {
	cfg     WorkspaceConfig
	clock   clock.Clock
	logger  *zap.Logger
	metrics *monitor.Metrics

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

func NewRegistry(cfg WorkspaceConfig) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Registry{
		cfg:        cfg,
		clock:      cfg.Clock,
		logger:     cfg.Logger.With(zap.String("component", "registry")),
		metrics:    cfg.Metrics,
		workspaces: make(map[string]*Workspace),
	}
}

// Get returns the workspace of subject, creating it on first use.
func (r *Registry) Get(subject string) (*Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workspaces[subject]; ok {
		w.touch()
		return w, nil
	}

	w, err := NewWorkspace(subject, r.cfg)
	if err != nil {
		return nil, err
	}
	r.workspaces[subject] = w
	r.metrics.SetWorkspaces(len(r.workspaces))
	r.logger.Debug("workspace created", zap.String("subject", subject))
	return w, nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workspaces)
}

// Sweep closes and forgets every workspace idle for at least maxIdle and
// returns how many were evicted.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	now := r.clock.Now()

	r.mu.Lock()
	var evicted []*Workspace
	for subject, w := range r.workspaces {
		if w.Idle(now, maxIdle) {
			evicted = append(evicted, w)
			delete(r.workspaces, subject)
		}
	}
	r.metrics.SetWorkspaces(len(r.workspaces))
	r.mu.Unlock()

	for _, w := range evicted {
		w.Close()
	}
	if len(evicted) > 0 {
		r.logger.Info("idle workspaces evicted", zap.Int("count", len(evicted)))
	}
	return len(evicted)
}

// CloseAll closes every workspace, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Workspace, 0, len(r.workspaces))
	for subject, w := range r.workspaces {
		all = append(all, w)
		delete(r.workspaces, subject)
	}
	r.metrics.SetWorkspaces(0)
	r.mu.Unlock()

	for _, w := range all {
		w.Close()
	}
}

// Sweeper evicts idle workspaces on a cron schedule.
type Sweeper struct {
	cron     *cron.Cron
	registry *Registry
	schedule string
	maxIdle  time.Duration
	logger   *zap.Logger
}

func NewSweeper(registry *Registry, schedule string, maxIdle time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	return &Sweeper{
		cron:     cron.New(cron.WithChain(cron.Recover(cronLogger))),
		registry: registry,
		schedule: schedule,
		maxIdle:  maxIdle,
		logger:   logger.With(zap.String("component", "sweeper")),
	}
}

// Start registers the sweep job and starts the scheduler.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.Run); err != nil {
		s.logger.Error("failed to schedule workspace sweep", zap.Error(err))
		return err
	}
	s.logger.Info("scheduled workspace sweep", zap.String("schedule", s.schedule), zap.Duration("max_idle", s.maxIdle))
	s.cron.Start()
	return nil
}

// Run performs one sweep.
func (s *Sweeper) Run() {
	s.registry.Sweep(s.maxIdle)
}

// Stop stops the scheduler; the returned context is done once a running sweep finishes.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}
