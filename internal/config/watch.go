package config

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "rvbot/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond
	watchRetryMin  = 250 * time.Millisecond
	watchRetryMax  = 5 * time.Second
)

// Watch reloads the config after it changes on disk until ctx ends. It
// watches the parent directory so editors that save by rename are noticed.
func (m *Manager) Watch(ctx context.Context) error {
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	deb := &debouncer{delay: reloadDebounce, fn: func() { m.reload(ctx) }}
	defer deb.stop()

	retry := watchRetryMin
	for {
		w, err := newDirWatcher(dir)
		if err != nil {
			m.log.Warn("config watcher unavailable", logx.String("dir", dir), logx.Err(err))
		} else {
			retry = watchRetryMin
			m.log.Debug("watching config", logx.String("dir", dir), logx.String("file", name))
			m.consume(ctx, w, name, deb.trigger)
			w.Close()
			if ctx.Err() == nil {
				m.log.Warn("config watcher closed, recreating", logx.String("dir", dir))
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		wait := retry + rand.N(retry/2+1)
		retry = min(retry*2, watchRetryMax)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func newDirWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Chmod

// consume returns when ctx ends or the watcher closes its channels.
func (m *Manager) consume(ctx context.Context, w *fsnotify.Watcher, name string, changed func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == name && ev.Op&relevantOps != 0 {
				changed()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if err == fsnotify.ErrEventOverflow {
				// Events were lost; the file may have changed.
				changed()
				continue
			}
			m.log.Warn("config watcher error", logx.Err(err))
		}
	}
}

// debouncer runs fn once after trigger stops being called for delay.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu sync.Mutex
	t  *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
	d.t = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
}
