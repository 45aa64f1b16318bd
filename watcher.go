// watcher.go: Polling watcher for the backing stores
//
// The hardware-clock config, the localtime reference and the timezone file
// can be edited by administrators or package tooling while the daemon runs.
// Watcher polls them with lstat, so retargeting a symlink is noticed, and
// reports creation, deletion and modification.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package timedated

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
	"github.com/spf13/afero"
)

// ChangeEvent represents a file change notification
type ChangeEvent struct {
	Path     string    // File path that changed
	ModTime  time.Time // New modification time
	Size     int64     // New file size
	IsCreate bool      // True if file was created
	IsDelete bool      // True if file was deleted
	IsModify bool      // True if file was modified
}

// UpdateCallback is called with each detected change.
type UpdateCallback func(event ChangeEvent)

// fileStat caches lstat results. Value types keep concurrent readers safe.
type fileStat struct {
	modTime  time.Time
	size     int64
	mode     os.FileMode
	exists   bool
	cachedAt int64 // timecache nano timestamp
}

func (fs *fileStat) isExpired(ttl time.Duration) bool {
	return (timecache.CachedTimeNano() - fs.cachedAt) > int64(ttl)
}

func (fs fileStat) differs(other fileStat) bool {
	return fs.modTime != other.modTime || fs.size != other.size || fs.mode != other.mode
}

type watchedFile struct {
	path     string
	callback UpdateCallback
	lastStat fileStat
}

// Watcher polls a set of files for changes.
type Watcher struct {
	fs           afero.Fs
	pollInterval time.Duration
	cacheTTL     time.Duration
	logger       *slog.Logger

	files   map[string]*watchedFile
	filesMu sync.RWMutex

	// copy-on-write stat cache
	statCache atomic.Pointer[map[string]fileStat]

	running   atomic.Bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewWatcher creates a watcher using the poll interval and cache TTL of cfg.
func NewWatcher(fsys afero.Fs, cfg *Config, logger *slog.Logger) *Watcher {
	cfg = cfg.WithDefaults()
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		fs:           fsys,
		pollInterval: cfg.PollInterval,
		cacheTTL:     cfg.CacheTTL,
		logger:       logger,
		files:        make(map[string]*watchedFile),
		stopCh:       make(chan struct{}),
		stoppedCh:    make(chan struct{}),
	}
	initialCache := make(map[string]fileStat)
	w.statCache.Store(&initialCache)
	return w
}

// Watch adds path to the watch list. The current state is the baseline, so
// no event is emitted for a file that already exists.
func (w *Watcher) Watch(path string, callback UpdateCallback) error {
	if callback == nil {
		return errors.New(ErrCodeInvalidConfig, "callback cannot be nil")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, ErrCodeInvalidConfig, "invalid watch path").
			WithContext("path", path)
	}

	stat, _ := w.statNow(absPath)

	w.filesMu.Lock()
	defer w.filesMu.Unlock()
	w.files[absPath] = &watchedFile{path: absPath, callback: callback, lastStat: stat}
	return nil
}

// Unwatch removes path from the watch list.
func (w *Watcher) Unwatch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, ErrCodeInvalidConfig, "invalid watch path").
			WithContext("path", path)
	}
	w.filesMu.Lock()
	delete(w.files, absPath)
	w.filesMu.Unlock()
	w.removeFromCache(absPath)
	return nil
}

// WatchedFiles returns the number of currently watched files
func (w *Watcher) WatchedFiles() int {
	w.filesMu.RLock()
	defer w.filesMu.RUnlock()
	return len(w.files)
}

// Start begins polling.
func (w *Watcher) Start() error {
	if !w.running.CompareAndSwap(false, true) {
		return errors.New(ErrCodeWatcherBusy, "watcher is already running")
	}
	go w.watchLoop()
	return nil
}

// Stop ends polling and waits for the loop to exit.
func (w *Watcher) Stop() error {
	if !w.running.CompareAndSwap(true, false) {
		return errors.New(ErrCodeWatcherStopped, "watcher is not running")
	}
	close(w.stopCh)
	<-w.stoppedCh
	return nil
}

// IsRunning returns true if the watcher is currently running
func (w *Watcher) IsRunning() bool {
	return w.running.Load()
}

// statNow performs an lstat and refreshes the cache.
func (w *Watcher) statNow(path string) (fileStat, error) {
	info, err := lstat(w.fs, path)
	stat := fileStat{cachedAt: timecache.CachedTimeNano(), exists: err == nil}
	if err == nil {
		stat.modTime = info.ModTime()
		stat.size = info.Size()
		stat.mode = info.Mode()
	}
	w.updateCache(path, stat)
	return stat, err
}

// getStat returns the cached stat unless it has expired.
func (w *Watcher) getStat(path string) (fileStat, error) {
	cacheMap := *w.statCache.Load()
	if cached, exists := cacheMap[path]; exists && !cached.isExpired(w.cacheTTL) {
		return cached, nil
	}
	return w.statNow(path)
}

func (w *Watcher) updateCache(path string, stat fileStat) {
	for {
		oldMapPtr := w.statCache.Load()
		oldMap := *oldMapPtr
		newMap := make(map[string]fileStat, len(oldMap)+1)
		for k, v := range oldMap {
			newMap[k] = v
		}
		newMap[path] = stat
		if w.statCache.CompareAndSwap(oldMapPtr, &newMap) {
			return
		}
	}
}

func (w *Watcher) removeFromCache(path string) {
	for {
		oldMapPtr := w.statCache.Load()
		oldMap := *oldMapPtr
		if _, exists := oldMap[path]; !exists {
			return
		}
		newMap := make(map[string]fileStat, len(oldMap)-1)
		for k, v := range oldMap {
			if k != path {
				newMap[k] = v
			}
		}
		if w.statCache.CompareAndSwap(oldMapPtr, &newMap) {
			return
		}
	}
}

// checkFile compares the current stat with the last one seen.
func (w *Watcher) checkFile(wf *watchedFile) {
	current, err := w.getStat(wf.path)
	if err != nil && !os.IsNotExist(err) {
		w.logger.Warn("failed to stat watched file", "path", wf.path, "error", err)
		return
	}

	var event *ChangeEvent
	switch {
	case !current.exists && wf.lastStat.exists:
		event = &ChangeEvent{Path: wf.path, IsDelete: true}
	case current.exists && !wf.lastStat.exists:
		event = &ChangeEvent{Path: wf.path, ModTime: current.modTime, Size: current.size, IsCreate: true}
	case current.exists && current.differs(wf.lastStat):
		event = &ChangeEvent{Path: wf.path, ModTime: current.modTime, Size: current.size, IsModify: true}
	}
	wf.lastStat = current

	if event != nil {
		w.dispatch(wf, *event)
	}
}

// dispatch runs a callback, containing panics.
func (w *Watcher) dispatch(wf *watchedFile, event ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("watch callback panicked", "path", event.Path, "panic", r)
		}
	}()
	wf.callback(event)
}

func (w *Watcher) watchLoop() {
	defer close(w.stoppedCh)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.pollFiles()
		}
	}
}

// pollFiles checks every watched file. The set is small, so files are
// checked sequentially in a stable order.
func (w *Watcher) pollFiles() {
	w.filesMu.RLock()
	files := make([]*watchedFile, 0, len(w.files))
	for _, wf := range w.files {
		files = append(files, wf)
	}
	w.filesMu.RUnlock()

	for _, wf := range files {
		w.checkFile(wf)
	}
}

// WatchBackingStores registers the daemon's backing stores with w so that
// external edits trigger Reload. Reloads run under ctx.
func (d *Daemon) WatchBackingStores(ctx context.Context, w *Watcher) error {
	reload := func(event ChangeEvent) {
		d.logger.Debug("backing store changed", "path", event.Path,
			"create", event.IsCreate, "delete", event.IsDelete, "modify", event.IsModify)
		if ctx.Err() != nil {
			return
		}
		d.Reload(ctx)
	}
	for _, path := range []string{d.config.HwclockConfig, d.config.LocaltimeFile, d.config.TimezoneFile} {
		if err := w.Watch(path, reload); err != nil {
			return err
		}
	}
	return nil
}
