// Copyright 2026 The Pictrl Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package supervisor drives the deployment of a workload: it clones the
// source, sets it up, launches it, watches for updates, and starts over
// whenever the workload stops or fails.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/pictrl/pictrl"
	"github.com/pictrl/pictrl/config"
	"github.com/pictrl/pictrl/workload"
)

const (
	// Namespace is used for the loop's own log lines.
	Namespace = "pictrl.main"

	DefaultBackoff = 30 * time.Second
)

// Loop is the outer control loop.  Each iteration reloads the
// configuration, creates a fresh workload group, installs it in Active,
// and runs the workload until it stops.  Errors are logged and retried
// after a backoff, except for an unsupported workload type, which stops
// the loop for good.
type Loop struct {
	// Supervisor is the long lived group of the supervisor itself.
	// Errors are logged to it, and the loop ends once it stops.
	Supervisor *pictrl.Group

	// Active holds the group of the current iteration.
	Active *pictrl.Slot

	// Load returns the configuration for an iteration.
	Load func() (*config.Config, error)

	// Workloads maps configuration types to workloads.
	Workloads workload.Registry

	// NewGroup creates the group for an iteration.  Defaults to a group
	// sharing Reaper, with the configured log limit.
	NewGroup func(cfg *config.Config) *pictrl.Group
	Reaper   *pictrl.Reaper

	// Clone fetches the source.  Defaults to CloneSource.
	Clone func(cfg *config.Config, g *pictrl.Group) error

	// Watch starts update detection for the iteration.  Defaults to a
	// Watcher on the cloned source.
	Watch func(cfg *config.Config, g *pictrl.Group) error

	// Backoff is used when no configuration could be loaded.
	Backoff time.Duration

	current atomic.Pointer[config.Config]
}

// Current returns the configuration of the running iteration, if any.
func (l *Loop) Current() *config.Config {
	return l.current.Load()
}

func (l *Loop) newGroup(cfg *config.Config) *pictrl.Group {
	if l.NewGroup != nil {
		return l.NewGroup(cfg)
	}
	return pictrl.NewGroup(pictrl.GroupConfig{Limit: cfg.Limit, Reaper: l.Reaper})
}

// Run runs iterations until ctx is cancelled, the supervisor group stops,
// or the configuration names an unsupported workload type.
func (l *Loop) Run(ctx context.Context) error {
	if l.Active == nil {
		l.Active = &pictrl.Slot{}
	}
	if l.Workloads == nil {
		l.Workloads = workload.Default()
	}
	if l.Backoff <= 0 {
		l.Backoff = DefaultBackoff
	}

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
		case <-l.Supervisor.Done():
		case <-finished:
			return
		}
		l.Active.Kill()
	}()

	for {
		if e := ctx.Err(); e != nil {
			return e
		}
		if !l.Supervisor.Running() {
			return pictrl.ErrNotRunning
		}

		delay, e := l.iterate(ctx)
		if errors.Is(e, pictrl.ErrUnsupportedConfig) {
			l.Supervisor.Outf(Namespace, "%v; not retrying", e)
			return e
		}
		if e == nil {
			continue
		}
		l.Supervisor.Outf(Namespace, "%v; retrying in %v", e, delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-l.Supervisor.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// iterate runs one iteration, returning the backoff to apply if it
// failed.
func (l *Loop) iterate(ctx context.Context) (time.Duration, error) {
	cfg, e := l.Load()
	if e != nil {
		return l.Backoff, fmt.Errorf("loading config: %w", e)
	}
	backoff := cfg.BackoffDelay()
	if backoff <= 0 {
		backoff = l.Backoff
	}

	run, e := l.Workloads.Lookup(cfg.Type)
	if e != nil {
		return 0, e
	}

	g := l.newGroup(cfg)
	l.Active.Swap(g)
	l.current.Store(cfg)
	defer g.Kill()
	// Cancellation may have raced with the swap.
	if ctx.Err() != nil || !l.Supervisor.Running() {
		g.Kill()
	}

	fail := func(e error) (time.Duration, error) {
		g.Out(workload.Namespace, e.Error())
		return backoff, e
	}

	clone := l.Clone
	if clone == nil {
		clone = CloneSource
	}
	if e = clone(cfg, g); e != nil {
		return fail(fmt.Errorf("cloning %s: %w", cfg.Git, e))
	}

	watch := l.Watch
	if watch == nil {
		watch = func(cfg *config.Config, g *pictrl.Group) error {
			return pictrl.NewWatcher(workload.Namespace, g, cfg.SourceDir,
				cfg.PollInterval(), nil).Start()
		}
	}
	if e = watch(cfg, g); e != nil {
		return fail(e)
	}

	if e = run(cfg, g); e != nil {
		return fail(fmt.Errorf("starting %s workload: %w", cfg.Type, e))
	}
	g.Wait()
	return 0, nil
}

// CloneSource replaces cfg.SourceDir with a fresh clone of cfg.Git.
func CloneSource(cfg *config.Config, g *pictrl.Group) error {
	if _, e := os.Stat(cfg.SourceDir); e == nil {
		if e = removeTree(cfg.SourceDir); e != nil {
			return e
		}
	}
	_, e := g.Run(workload.Namespace,
		fmt.Sprintf("git clone %s %q", cfg.Git, cfg.SourceDir),
		pictrl.Streaming())
	return e
}

// removeTree is os.RemoveAll, retried after making everything writable,
// since git leaves read-only object files behind.
func removeTree(dir string) error {
	if e := os.RemoveAll(dir); e == nil {
		return nil
	}
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, e error) error {
		if e != nil {
			return nil
		}
		if d.IsDir() {
			os.Chmod(path, 0700)
		} else {
			os.Chmod(path, 0600)
		}
		return nil
	})
	return os.RemoveAll(dir)
}
