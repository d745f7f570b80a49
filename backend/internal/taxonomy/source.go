package taxonomy

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Source hands out the registry currently in effect
type Source interface {
	Current() *Registry
}

// StaticSource always returns the same registry
type StaticSource struct {
	reg *Registry
}

// NewStaticSource wraps a registry, sealing it if needed
func NewStaticSource(reg *Registry) *StaticSource {
	return &StaticSource{reg: reg.Seal()}
}

// Current implements Source
func (s *StaticSource) Current() *Registry {
	return s.reg
}

// ReloadHook is called after every reload attempt
type ReloadHook func(oldVersion, newVersion string, err error)

// FileSource loads the taxonomy from a YAML file and can hot-reload it.
// Each reload builds a fresh sealed registry and swaps it in atomically, so
// in-flight evaluations keep the registry they started with.
type FileSource struct {
	Path string

	registry   atomic.Pointer[Registry]
	watcher    *fsnotify.Watcher
	stopWatch  chan struct{}
	stopOnce   sync.Once
	reloadLock sync.Mutex
	logger     *logrus.Logger
	onReload   ReloadHook
	debounce   time.Duration
}

// NewFileSource loads path once; a broken file at startup is fatal for the caller
func NewFileSource(path string, logger *logrus.Logger) (*FileSource, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &FileSource{
		Path:      path,
		stopWatch: make(chan struct{}),
		logger:    logger,
		debounce:  500 * time.Millisecond,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// OnReload registers a hook invoked after each hot-reload attempt
func (s *FileSource) OnReload(hook ReloadHook) {
	s.onReload = hook
}

// Current implements Source
func (s *FileSource) Current() *Registry {
	return s.registry.Load()
}

// Version returns the version of the registry currently in effect
func (s *FileSource) Version() string {
	if reg := s.registry.Load(); reg != nil {
		return reg.Version()
	}
	return ""
}

// Reload re-reads the file. On failure the previous registry stays active.
func (s *FileSource) Reload() error {
	reg, err := LoadFile(s.Path)
	if err != nil {
		return err
	}
	s.registry.Store(reg)
	return nil
}

// StartHotReload watches the taxonomy file for changes
func (s *FileSource) StartHotReload() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(s.Path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch taxonomy file: %w", err)
	}
	s.watcher = watcher

	go s.watchLoop()

	s.logger.WithField("path", s.Path).Info("taxonomy hot-reload enabled")
	return nil
}

// StopHotReload stops the file watcher
func (s *FileSource) StopHotReload() {
	if s.watcher == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopWatch)
		s.watcher.Close()
	})
}

func (s *FileSource) watchLoop() {
	// editors often emit several events per save
	var debounceTimer *time.Timer

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(s.debounce, s.reloadFromWatch)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Warn("taxonomy watcher error")
		case <-s.stopWatch:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}

func (s *FileSource) reloadFromWatch() {
	s.reloadLock.Lock()
	defer s.reloadLock.Unlock()

	oldVersion := s.Version()
	err := s.Reload()
	newVersion := s.Version()

	entry := s.logger.WithFields(logrus.Fields{
		"path":        s.Path,
		"old_version": oldVersion,
		"new_version": newVersion,
	})
	if err != nil {
		entry.WithError(err).Error("taxonomy hot-reload failed, keeping previous version")
	} else {
		entry.Info("taxonomy hot-reload succeeded")
	}

	if s.onReload != nil {
		s.onReload(oldVersion, newVersion, err)
	}
}
