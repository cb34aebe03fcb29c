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

package pictrl

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
)

const (
	DefaultPollInterval = 120 * time.Second
	DefaultFetchTimeout = 30 * time.Second
)

var hashPattern = regexp.MustCompile(`^[0-9a-f]{7,64}$`)

// HashSource reports the object hash of the local checkout and of the
// remote head it tracks.
type HashSource interface {
	LocalHash() (string, error)
	RemoteHash() (string, error)
}

// GitSource is a HashSource backed by the git command line, run inside a
// Group so that the commands show up in its logs.
type GitSource struct {
	Group        *Group
	Name         string
	Dir          string // empty for the supervisor's own checkout
	FetchTimeout time.Duration
}

func (s *GitSource) revParse(ref string) (string, error) {
	id, e := s.Group.Run(s.Name, "git rev-parse "+ref, Dir(s.Dir),
		Timeout(s.FetchTimeout))
	if e != nil {
		return "", e
	}
	return ParseHash(s.Group.Stdout(id))
}

func (s *GitSource) LocalHash() (string, error) {
	return s.revParse("HEAD")
}

// RemoteHash fetches from origin and returns the hash of its head.  All
// failures match ErrNetwork.
func (s *GitSource) RemoteHash() (string, error) {
	if _, e := s.Group.Run(s.Name, "git fetch origin", Dir(s.Dir),
		Timeout(s.FetchTimeout)); e != nil {
		return "", fmt.Errorf("%w: %w", ErrNetwork, e)
	}
	h, e := s.revParse("refs/remotes/origin/HEAD")
	if e != nil {
		return "", fmt.Errorf("%w: %w", ErrNetwork, e)
	}
	return h, nil
}

// ParseHash validates the output of git rev-parse.
func ParseHash(out string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(out))
	if !hashPattern.MatchString(h) {
		return "", fmt.Errorf("%w: %q", ErrBadHash, out)
	}
	return h, nil
}

// Watcher polls a repository for updates on behalf of a Group.  When the
// remote head moves away from the hash seen at Start, it calls OnRestart,
// kills the group, and stops for good.  It also stops as soon as the group
// stops for any other reason.  A new Watcher is needed after every
// relaunch.
type Watcher struct {
	Name      string
	Group     *Group
	Source    HashSource
	Interval  time.Duration
	OnRestart func()

	local    string
	diverged atomic.Bool
	stopped  chan struct{}
}

// NewWatcher returns a Watcher for the git checkout in dir.  An empty dir
// watches the supervisor's own checkout.
func NewWatcher(name string, g *Group, dir string, interval time.Duration, onRestart func()) *Watcher {
	return &Watcher{
		Name:  name,
		Group: g,
		Source: &GitSource{
			Group:        g,
			Name:         name + ".autoupdate",
			Dir:          dir,
			FetchTimeout: DefaultFetchTimeout,
		},
		Interval:  interval,
		OnRestart: onRestart,
	}
}

func (w *Watcher) namespace() string {
	return w.Name + ".autoupdate"
}

// Start records the local hash and starts polling in the background.
func (w *Watcher) Start() error {
	if w.Interval <= 0 {
		w.Interval = DefaultPollInterval
	}
	h, e := w.Source.LocalHash()
	if e != nil {
		return fmt.Errorf("reading local hash of %s: %w", w.Name, e)
	}
	w.local = h
	w.stopped = make(chan struct{})
	w.Group.Outf(w.namespace(), "[%s] watching for updates from %s", w.Name, h)
	go w.run()
	return nil
}

// Stopped returns a channel closed once the watcher is done.
func (w *Watcher) Stopped() <-chan struct{} {
	return w.stopped
}

// Diverged reports whether the watcher stopped because of an update.
func (w *Watcher) Diverged() bool {
	return w.diverged.Load()
}

func (w *Watcher) run() {
	ns := w.namespace()
	defer close(w.stopped)
	defer w.Group.Outf(ns, "Update check [%s] stopped", w.Name)

	done := w.Group.Done()
	for w.Group.Running() {
		timer := time.NewTimer(w.Interval)
		select {
		case <-done:
			timer.Stop()
			return
		case <-timer.C:
		}
		if !w.Group.Running() {
			return
		}

		w.Group.Outf(ns, "Checking for update [%s]", w.Name)
		remote, e := w.Source.RemoteHash()
		if e != nil {
			w.Group.Outf(ns, "[%s] %v", w.Name, e)
			continue
		}
		w.Group.Outf(ns, "[%s] local_hash=%s", w.Name, w.local)
		w.Group.Outf(ns, "[%s] remote_hash=%s", w.Name, remote)
		if remote != w.local {
			w.Group.Outf(ns, "Stopping & restarting [%s]", w.Name)
			w.diverged.Store(true)
			if w.OnRestart != nil {
				w.OnRestart()
			}
			w.Group.Kill()
			return
		}
	}
}
