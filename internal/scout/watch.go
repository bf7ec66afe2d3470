package scout

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
)

// sourceWatcher hot-reloads the registry when sources.json changes on disk.
// It watches the parent directory because atomic writes land as renames.
type sourceWatcher struct {
	fsw    *fsnotify.Watcher
	stopCh chan struct{}
	doneCh chan struct{}
}

// Watch starts the registry watcher. Safe to call once; a second call while
// running is an error.
func (s *Scout) Watch(ctx context.Context) error {
	if s.opts.SourcesPath == "" {
		return nexuserr.New(nexuserr.KindValidation, "no sources path to watch")
	}
	s.mu.Lock()
	if s.watcher != nil {
		s.mu.Unlock()
		return nexuserr.New(nexuserr.KindValidation, "source watcher already running")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := fsw.Add(filepath.Dir(s.opts.SourcesPath)); err != nil {
		fsw.Close()
		s.mu.Unlock()
		return err
	}
	w := &sourceWatcher{fsw: fsw, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
	s.watcher = w
	s.mu.Unlock()

	go s.watchLoop(ctx, w)
	s.log.Info("watching source registry", zap.String("path", s.opts.SourcesPath))
	return nil
}

func (s *Scout) watchLoop(ctx context.Context, w *sourceWatcher) {
	defer close(w.doneCh)
	base := filepath.Base(s.opts.SourcesPath)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.Reload(); err != nil {
				s.log.Warn("source registry reload failed", zap.Error(err))
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			s.log.Warn("source watcher error", zap.Error(err))
		}
	}
}

// StopWatch stops the watcher and waits for the loop to exit.
func (s *Scout) StopWatch() {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w == nil {
		return
	}
	close(w.stopCh)
	<-w.doneCh
	_ = w.fsw.Close()
}
