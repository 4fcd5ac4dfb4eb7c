package config

import (
	"os"
	"sync"
	"time"
)

const probeInterval = 500 * time.Millisecond

// Accessor hands out snapshots of the live configuration. The backing
// file is re-stat'ed at most every 500ms; a changed mtime triggers a
// reload. Callers must treat the returned snapshot as immutable.
type AccessorInterface interface {
	Get() ServiceConfig
}

type Accessor struct {
	path string

	mu        sync.Mutex
	cfg       ServiceConfig
	mtime     time.Time
	lastProbe time.Time
}

func NewAccessor(path string) (*Accessor, error) {
	cfg, err := Config{}.Read(path)
	if err != nil {
		return nil, err
	}
	a := &Accessor{path: path, cfg: cfg, lastProbe: time.Now()}
	if fi, err := os.Stat(path); err == nil {
		a.mtime = fi.ModTime()
	}
	return a, nil
}

func (a *Accessor) Get() ServiceConfig {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	if now.Sub(a.lastProbe) < probeInterval {
		return a.cfg
	}
	a.lastProbe = now

	fi, err := os.Stat(a.path)
	if err != nil {
		// file temporarily unreadable, keep serving the last snapshot
		return a.cfg
	}
	if !fi.ModTime().Equal(a.mtime) {
		if cfg, err := (Config{}).Read(a.path); err == nil {
			a.cfg = cfg
			a.mtime = fi.ModTime()
		}
	}
	return a.cfg
}

// Static wraps a fixed configuration in the accessor contract, for tests
// and for one shot invocations that must not pick up edits mid run.
type Static struct {
	Cfg ServiceConfig
}

func (s Static) Get() ServiceConfig {
	return s.Cfg
}
