package knowledgebase

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Source provides the current knowledgebase snapshot.
type Source interface {
	Current() *Knowledgebase
}

// Store holds the active knowledgebase snapshot and swaps it atomically on reload.
type Store struct {
	current atomic.Pointer[Knowledgebase]
	path    string
}

// NewStore creates a store seeded with kb. path is the file Watch reloads from;
// it may be empty for an embedded knowledgebase.
func NewStore(kb *Knowledgebase, path string) *Store {
	s := &Store{path: path}
	s.current.Store(kb)
	return s
}

// Current returns the active snapshot.
func (s *Store) Current() *Knowledgebase {
	return s.current.Load()
}

// Replace swaps in a new snapshot.
func (s *Store) Replace(kb *Knowledgebase) {
	if kb == nil {
		return
	}
	s.current.Store(kb)
}

// Reload re-reads the backing file. On failure the previous snapshot stays active.
func (s *Store) Reload() error {
	if s.path == "" {
		return fmt.Errorf("knowledgebase store has no backing file")
	}
	kb, err := Load(s.path)
	if err != nil {
		return err
	}
	for _, w := range Validate(kb) {
		log.Warn(w)
	}
	s.Replace(kb)
	return nil
}

// Watch reloads the backing file whenever it changes, until ctx is done.
// The parent directory is watched so editors that replace the file are handled.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create knowledgebase watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(s.path)
	if err != nil {
		return err
	}
	if err = watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	log.Debugf("watching knowledgebase %s", abs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if errReload := s.Reload(); errReload != nil {
				log.WithError(errReload).Warn("knowledgebase reload failed, keeping previous snapshot")
				continue
			}
			log.Infof("knowledgebase reloaded from %s", abs)
		case errWatch, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(errWatch).Warn("knowledgebase watcher error")
		}
	}
}
