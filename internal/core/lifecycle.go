package core

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/api"
)

// taskDrainInterval is how often the background driver polls the task queue.
const taskDrainInterval = 5 * time.Second

// taskDrainBatch bounds how many tasks one poll may execute.
const taskDrainBatch = 25

// StartLoops launches the learning scheduler and the task queue driver.
// It reports false when the loops are already running.
func (s *System) StartLoops() bool {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.running.Load() {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.loopCancel = cancel

	s.loopWG.Add(2)
	go func() {
		defer s.loopWG.Done()
		if err := s.learning.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("learning loop exited", zap.Error(err))
		}
	}()
	go func() {
		defer s.loopWG.Done()
		s.driveTasks(ctx)
	}()
	s.running.Store(true)
	s.log.Info("background loops started")
	return true
}

// StopLoops cancels the background loops and waits for them to exit.
func (s *System) StopLoops() {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if !s.running.Load() {
		return
	}
	s.loopCancel()
	s.loopWG.Wait()
	s.running.Store(false)
}

// Running reports whether the background loops are active.
func (s *System) Running() bool {
	return s.running.Load()
}

// driveTasks drains the pending task queue on a fixed cadence. Tasks also
// run synchronously through the execute endpoint; this driver picks up work
// enqueued by the learning loop and by knowledge actions.
func (s *System) driveTasks(ctx context.Context) {
	ticker := time.NewTicker(taskDrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			done := s.tasks.RunCycles(ctx, taskDrainBatch)
			if len(done) > 0 {
				s.log.Debug("task driver cycle", zap.Int("executed", len(done)))
			}
		}
	}
}

// APIServer assembles the HTTP surface over the live subsystems.
func (s *System) APIServer() *api.Server {
	return api.NewServer(api.Deps{
		Config:    s.cfg,
		Memory:    s.mem,
		Cache:     s.cache,
		Skills:    s.skills,
		Tasks:     s.tasks,
		Learning:  s.learning,
		Actions:   s.actions,
		Proposals: s.engine,
		Debug:     s.debug,
		Budget:    s.budget,
		Scout:     s.scout,
		Backups:   s.backups,
		Bus:       s.bus,
		Metrics:   s.requests,
		Limiter:   s.limiter,
		Store:     s.store,
		Start:     s.StartLoops,
		Running:   s.Running,
		Health:    s.Snapshot,
	}, s.log)
}

// Run starts the loops, watches the sources file, and serves the API until
// the context ends, then shuts everything down.
func (s *System) Run(ctx context.Context) error {
	s.StartLoops()
	if s.cfg.Scout.WatchSources {
		if err := s.scout.Watch(ctx); err != nil {
			s.log.Warn("sources watch unavailable", zap.Error(err))
		}
	}
	err := s.APIServer().Run(ctx)
	s.Shutdown()
	return err
}

// Shutdown stops the loops and releases held resources. Safe to call more
// than once; resource release happens on the first call only.
func (s *System) Shutdown() {
	s.StopLoops()
	s.shutdownOne.Do(func() {
		s.scout.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.browser.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("browser shutdown", zap.Error(err))
		}
		s.debug.EndSession()
		s.log.Info("system shut down")
	})
}
