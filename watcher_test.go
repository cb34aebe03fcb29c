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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type fakeSource struct {
	local   string
	remotes []string
	errs    []error
	calls   int
	mx      sync.Mutex
}

func (f *fakeSource) LocalHash() (string, error) {
	return f.local, nil
}

// RemoteHash hands out the scripted answers, repeating the last one.
func (f *fakeSource) RemoteHash() (string, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.remotes) {
		i = len(f.remotes) - 1
	}
	if f.errs != nil && f.errs[i] != nil {
		return "", f.errs[i]
	}
	return f.remotes[i], nil
}

func (f *fakeSource) Calls() int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.calls
}

func newTestWatcher(t *testing.T, src HashSource, restarts *int32) (*Watcher, *Group) {
	g := newTestGroup(t, GroupConfig{})
	w := &Watcher{
		Name:     "test",
		Group:    g,
		Source:   src,
		Interval: 10 * time.Millisecond,
		OnRestart: func() {
			atomic.AddInt32(restarts, 1)
		},
	}
	return w, g
}

func TestWatcher(t *testing.T) {
	Convey("A watcher restarts once the remote moves", t, func() {
		var restarts int32
		src := &fakeSource{local: "aaaaaaa", remotes: []string{"aaaaaaa", "bbbbbbb"}}
		w, g := newTestWatcher(t, src, &restarts)
		So(w.Start(), ShouldBeNil)

		select {
		case <-w.Stopped():
		case <-time.After(5 * time.Second):
		}
		So(w.Diverged(), ShouldBeTrue)
		So(atomic.LoadInt32(&restarts), ShouldEqual, 1)
		So(g.Running(), ShouldBeFalse)
		So(src.Calls(), ShouldEqual, 2)
		So(g.Stdout(0), ShouldContainSubstring, "remote_hash=bbbbbbb")
	})

	Convey("Fetch failures are logged and retried", t, func() {
		var restarts int32
		src := &fakeSource{
			local:   "aaaaaaa",
			remotes: []string{"", "bbbbbbb"},
			errs:    []error{ErrNetwork, nil},
		}
		w, g := newTestWatcher(t, src, &restarts)
		So(w.Start(), ShouldBeNil)

		select {
		case <-w.Stopped():
		case <-time.After(5 * time.Second):
		}
		So(w.Diverged(), ShouldBeTrue)
		So(atomic.LoadInt32(&restarts), ShouldEqual, 1)
		So(g.Stdout(0), ShouldContainSubstring, ErrNetwork.Error())
	})

	Convey("A watcher stops with its group", t, func() {
		var restarts int32
		src := &fakeSource{local: "aaaaaaa", remotes: []string{"aaaaaaa"}}
		w, g := newTestWatcher(t, src, &restarts)
		So(w.Start(), ShouldBeNil)
		time.Sleep(50 * time.Millisecond)
		g.Kill()

		select {
		case <-w.Stopped():
		case <-time.After(5 * time.Second):
		}
		So(w.Diverged(), ShouldBeFalse)
		So(atomic.LoadInt32(&restarts), ShouldEqual, 0)
		So(g.Stdout(0), ShouldContainSubstring, "Update check [test] stopped")
	})
}

func TestParseHash(t *testing.T) {
	Convey("Hashes are validated", t, func() {
		h, e := ParseHash("  0123ABCDEF0123abcdef0123abcdef01234567\n")
		So(e, ShouldBeNil)
		So(h, ShouldEqual, "0123abcdef0123abcdef0123abcdef01234567")

		_, e = ParseHash("")
		So(errors.Is(e, ErrBadHash), ShouldBeTrue)
		_, e = ParseHash("fatal: not a git repository")
		So(errors.Is(e, ErrBadHash), ShouldBeTrue)
		_, e = ParseHash("abc")
		So(errors.Is(e, ErrBadHash), ShouldBeTrue)
	})
}
