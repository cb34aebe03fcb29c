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
	"strings"
	"sync"
	"testing"
	"time"
)

type testLog struct {
	t *testing.T
}

func (tl *testLog) Write(p []byte) (n int, err error) {
	s := string(p)
	s = strings.Trim(s, "\n")
	tl.t.Log(s)
	return len(p), nil
}

func newTestGroup(t *testing.T, cfg GroupConfig) *Group {
	if cfg.Echo == nil {
		cfg.Echo = NewMultiLogger(&testLog{t})
	}
	return NewGroup(cfg)
}

// eventually polls fn until it is true or d passes.
func eventually(d time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(d)
	for {
		if fn() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// recordingTree wraps a TreeKiller, remembering what it was asked to do.
type recordingTree struct {
	TreeKiller
	killed []int
	groups []int
	mx     sync.Mutex
}

func (r *recordingTree) Kill(pid int) error {
	r.mx.Lock()
	r.killed = append(r.killed, pid)
	r.mx.Unlock()
	return r.TreeKiller.Kill(pid)
}

func (r *recordingTree) KillGroup(pgid int) error {
	r.mx.Lock()
	r.groups = append(r.groups, pgid)
	r.mx.Unlock()
	return r.TreeKiller.KillGroup(pgid)
}

func (r *recordingTree) groupKills(pgid int) int {
	r.mx.Lock()
	defer r.mx.Unlock()
	n := 0
	for _, g := range r.groups {
		if g == pgid {
			n++
		}
	}
	return n
}

func (r *recordingTree) killedGroup(pgid int) bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	for _, g := range r.groups {
		if g == pgid {
			return true
		}
	}
	return false
}

// fakeTree models a process tree without touching real processes.  The
// children of whatever root is asked about are listed under key 0.  Pids
// in alive are reported as held by some process.
type fakeTree struct {
	children map[int][]int
	alive    map[int]bool
	killed   []int
	groups   []int
	mx       sync.Mutex
}

func (f *fakeTree) Descendants(pid int) []int {
	var rv []int
	queue := []int{0}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		for _, c := range f.children[p] {
			rv = append(rv, c)
			queue = append(queue, c)
		}
	}
	return rv
}

func (f *fakeTree) Kill(pid int) error {
	f.mx.Lock()
	f.killed = append(f.killed, pid)
	f.mx.Unlock()
	return nil
}

func (f *fakeTree) KillGroup(pgid int) error {
	f.mx.Lock()
	f.groups = append(f.groups, pgid)
	f.mx.Unlock()
	return nil
}

func (f *fakeTree) Alive(pid int) bool {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.alive[pid]
}

func (f *fakeTree) setAlive(pid int) {
	f.mx.Lock()
	if f.alive == nil {
		f.alive = map[int]bool{}
	}
	f.alive[pid] = true
	f.mx.Unlock()
}

func (f *fakeTree) record() ([]int, []int) {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]int{}, f.killed...), append([]int{}, f.groups...)
}
