package autofill

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Seeds caches static candidate lists loaded from CSV files. A file is read on
// first use and dropped from the cache when it changes on disk.
type Seeds struct {
	mu      sync.RWMutex
	lists   map[string][]string
	watcher *fsnotify.Watcher
	watched map[string]bool
	log     *slog.Logger
}

func NewSeeds(logger *slog.Logger) (*Seeds, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("seed watcher: %w", err)
	}
	return &Seeds{
		lists:   make(map[string][]string),
		watcher: w,
		watched: make(map[string]bool),
		log:     logger,
	}, nil
}

// Get returns the locators listed in path.
func (s *Seeds) Get(path string) ([]string, error) {
	path = filepath.Clean(path)
	s.mu.RLock()
	list, ok := s.lists[path]
	s.mu.RUnlock()
	if ok {
		return list, nil
	}
	list, err := loadSeedFile(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.lists[path] = list
	if !s.watched[filepath.Dir(path)] {
		if err := s.watcher.Add(filepath.Dir(path)); err != nil {
			s.log.Warn("seed watch failed", slog.String("path", path), slog.Any("err", err))
		} else {
			s.watched[filepath.Dir(path)] = true
		}
	}
	s.mu.Unlock()
	return list, nil
}

// Count reports how many entries a loaded list has, or -1 if it is not loaded.
func (s *Seeds) Count(path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list, ok := s.lists[filepath.Clean(path)]
	if !ok {
		return -1
	}
	return len(list)
}

// Run invalidates cached lists as their files change until ctx is done.
func (s *Seeds) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.invalidate(filepath.Clean(ev.Name))
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("seed watcher error", slog.Any("err", err))
		}
	}
}

func (s *Seeds) invalidate(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lists[path]; ok {
		delete(s.lists, path)
		s.log.Info("seed list changed", slog.String("path", path))
	}
}

func (s *Seeds) Close() error {
	return s.watcher.Close()
}

// loadSeedFile reads a CSV whose locator lives in a "url" column when there is a
// header, otherwise in the first column. Blank lines and # comments are skipped.
func loadSeedFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed list: %w", err)
	}
	defer f.Close()
	return parseSeeds(f)
}

func parseSeeds(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	col := 0
	var out []string
	first := true
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse seed list: %w", err)
		}
		if first {
			first = false
			if idx := headerIndex(rec); idx >= 0 {
				col = idx
				continue
			}
		}
		if col >= len(rec) {
			continue
		}
		if v := strings.TrimSpace(rec[col]); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

func headerIndex(rec []string) int {
	for i, h := range rec {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "url", "link", "locator":
			return i
		}
	}
	return -1
}
