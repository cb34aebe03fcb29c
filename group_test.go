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

//go:build unix

package pictrl

import (
	"bytes"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	. "github.com/smartystreets/goconvey/convey"
)

// gone reports whether pid no longer runs.  Zombies count as gone, as
// the test process may not be the one to reap them.
func gone(pid int) bool {
	p, e := process.NewProcess(int32(pid))
	if e != nil {
		return true
	}
	st, e := p.Status()
	if e != nil {
		return true
	}
	for _, s := range st {
		if s == process.Zombie {
			return true
		}
	}
	return false
}

func TestGroupRun(t *testing.T) {
	Convey("Given a running group", t, func() {
		g := newTestGroup(t, GroupConfig{})
		Reset(g.Kill)

		Convey("Run captures standard output", func() {
			id, e := g.Run("test", "echo hello")
			So(e, ShouldBeNil)
			So(id, ShouldBeGreaterThan, 0)
			So(g.Stdout(id), ShouldEqual, "hello")
		})

		Convey("Surrounding white space is trimmed", func() {
			id, e := g.Run("test", "printf '  a\\nb  \\n\\n'")
			So(e, ShouldBeNil)
			So(g.Stdout(id), ShouldEqual, "a\nb")
		})

		Convey("Standard error is kept apart", func() {
			id, e := g.Run("test", "echo out; echo err 1>&2")
			So(e, ShouldBeNil)
			So(g.Stdout(id), ShouldEqual, "out")
			So(g.Stderr(id), ShouldEqual, "err")
			So(g.Output(id), ShouldContainSubstring, "err")
			So(g.Output(id), ShouldContainSubstring, "out")
		})

		Convey("The command line is logged", func() {
			_, e := g.Run("test", "true")
			So(e, ShouldBeNil)
			So(g.Stdout(0), ShouldContainSubstring, "> true")
		})

		Convey("Options reach the command", func() {
			dir := t.TempDir()
			id, e := g.Run("test", "echo $FOO; pwd",
				Env([]string{"FOO=bar"}), Dir(dir))
			So(e, ShouldBeNil)
			lines := strings.Split(g.Stdout(id), "\n")
			So(len(lines), ShouldEqual, 2)
			So(lines[0], ShouldEqual, "bar")
			So(lines[1], ShouldEndWith, filepath.Base(dir))
		})

		Convey("A nonzero exit fails with the code", func() {
			_, e := g.Run("test", "exit 3")
			So(errors.Is(e, ErrProcessFailed), ShouldBeTrue)
			var pe *ProcessError
			So(errors.As(e, &pe), ShouldBeTrue)
			So(pe.Code, ShouldEqual, 3)
			So(pe.Command, ShouldEqual, "exit 3")
		})

		Convey("A failed command leaves no survivors", func() {
			id, e := g.Run("test", "sleep 30 >/dev/null 2>&1 & echo $!; exit 3")
			So(errors.Is(e, ErrProcessFailed), ShouldBeTrue)
			pid, err := strconv.Atoi(g.Stdout(id))
			So(err, ShouldBeNil)
			So(eventually(2*time.Second, func() bool { return gone(pid) }), ShouldBeTrue)
		})

		Convey("A timeout kills the command", func() {
			start := time.Now()
			_, e := g.Run("test", "sleep 10", Timeout(200*time.Millisecond))
			So(errors.Is(e, ErrTimeout), ShouldBeTrue)
			So(time.Since(start), ShouldBeLessThan, 5*time.Second)
		})

		Convey("Streaming stores lines as they come", func() {
			id, e := g.RunAsync("test", "echo first; sleep 30", Block())
			So(e, ShouldBeNil)
			So(eventually(2*time.Second, func() bool {
				return g.Stdout(id) == "first"
			}), ShouldBeTrue)
		})

		Convey("Out logs with id zero", func() {
			g.Out("ns", "hello  ")
			lines := g.OutputLog().Lines()
			last := lines[len(lines)-1]
			So(last.ID, ShouldEqual, 0)
			So(last.Namespace, ShouldEqual, "ns")
			So(last.Text, ShouldEqual, "hello\n")
		})

		Convey("Lines stay in time order", func() {
			for i := 0; i < 3; i++ {
				_, e := g.Run("test", "echo a; echo b 1>&2; echo c")
				So(e, ShouldBeNil)
			}
			lines := g.OutputLog().Lines()
			for i := 1; i < len(lines); i++ {
				So(lines[i].Time.Before(lines[i-1].Time), ShouldBeFalse)
			}
		})
	})
}

func TestGroupDrain(t *testing.T) {
	Convey("Output held open past exit times out", t, func() {
		g := newTestGroup(t, GroupConfig{
			DrainRetries:  3,
			DrainInterval: 10 * time.Millisecond,
		})
		defer g.Kill()
		// The background sleep inherits standard output.
		id, e := g.Run("test", "sleep 30 & echo $!")
		So(errors.Is(e, ErrTimeout), ShouldBeTrue)
		So(id, ShouldBeGreaterThan, 0)
		procs := g.Processes()
		So(len(procs), ShouldEqual, 1)
		So(eventually(2*time.Second, procs[0].Finished), ShouldBeTrue)
	})
}

func TestGroupEcho(t *testing.T) {
	Convey("Lines are echoed", t, func() {
		buf := &bytes.Buffer{}
		g := NewGroup(GroupConfig{Echo: NewMultiLogger(buf)})
		defer g.Kill()
		_, e := g.Run("test", "echo hello")
		So(e, ShouldBeNil)
		So(buf.String(), ShouldEqual, "> echo hello\nhello\n")
	})
}

func TestGroupKill(t *testing.T) {
	Convey("Given a group with a long running process", t, func() {
		tree := &recordingTree{TreeKiller: NewTreeKiller()}
		g := newTestGroup(t, GroupConfig{Tree: tree})
		_, e := g.RunAsync("test", "sleep 30", Block())
		So(e, ShouldBeNil)
		procs := g.Processes()
		So(len(procs), ShouldEqual, 1)
		p := procs[0]

		Convey("Kill terminates it, more than once if need be", func() {
			g.Kill()
			g.Kill()
			So(g.Running(), ShouldBeFalse)
			So(len(g.Processes()), ShouldEqual, 0)
			So(eventually(2*time.Second, p.Exited), ShouldBeTrue)
			So(tree.killedGroup(p.Pid()), ShouldBeTrue)

			closed := false
			select {
			case <-g.Done():
				closed = true
			default:
			}
			So(closed, ShouldBeTrue)

			_, e := g.Run("test", "true")
			So(errors.Is(e, ErrNotRunning), ShouldBeTrue)
		})

		Convey("Reset makes it usable again", func() {
			g.Reset()
			So(g.Running(), ShouldBeTrue)
			So(eventually(2*time.Second, p.Exited), ShouldBeTrue)
			id, e := g.Run("test", "echo again")
			So(e, ShouldBeNil)
			So(g.Stdout(id), ShouldEqual, "again")
			g.Kill()
		})
	})

	Convey("Killing an empty group is harmless", t, func() {
		g := newTestGroup(t, GroupConfig{})
		g.Kill()
		g.Kill()
		So(g.Running(), ShouldBeFalse)
	})
}

func TestGroupTreeKill(t *testing.T) {
	Convey("Kill reaches every descendant before the root", t, func() {
		tree := &fakeTree{children: map[int][]int{
			0:   {101, 102},
			101: {201},
		}}
		g := newTestGroup(t, GroupConfig{Tree: tree})
		_, e := g.RunAsync("test", "sleep 30")
		So(e, ShouldBeNil)
		p := g.Processes()[0]

		g.Kill()
		killed, groups := tree.record()
		So(killed, ShouldResemble, []int{101, 102, 201})
		So(groups, ShouldResemble, []int{p.Pid()})
		So(eventually(2*time.Second, p.Exited), ShouldBeTrue)

		// The group was signalled already; a reaped root is not
		// signalled again.
		r := NewReaper(tree)
		r.add(p)
		r.KillAll()
		killed, groups = tree.record()
		So(len(killed), ShouldEqual, 3)
		So(groups, ShouldResemble, []int{p.Pid()})
	})
}

func TestGroupReapedSignal(t *testing.T) {
	Convey("A reaped process has its group signalled at most once", t, func() {
		tree := &recordingTree{TreeKiller: NewTreeKiller()}
		g := newTestGroup(t, GroupConfig{Tree: tree})
		defer g.Kill()
		_, e := g.RunAsync("test", "true")
		So(e, ShouldBeNil)
		p := g.Processes()[0]
		So(eventually(2*time.Second, p.Exited), ShouldBeTrue)

		g.terminate(p)
		g.terminate(p)
		g.Kill()
		So(tree.groupKills(p.Pid()), ShouldBeLessThanOrEqualTo, 1)
	})

	Convey("A reused pid is left alone", t, func() {
		tree := &fakeTree{}
		g := newTestGroup(t, GroupConfig{Tree: tree})
		_, e := g.RunAsync("test", "true")
		So(e, ShouldBeNil)
		p := g.Processes()[0]
		So(eventually(2*time.Second, p.Exited), ShouldBeTrue)

		// Some unrelated process now holds the pid.
		tree.setAlive(p.Pid())
		g.Kill()
		killed, groups := tree.record()
		So(len(killed), ShouldEqual, 0)
		So(len(groups), ShouldEqual, 0)
	})
}

func TestGroupStreamingStop(t *testing.T) {
	Convey("Streaming output after the group stops ends the process", t, func() {
		g := newTestGroup(t, GroupConfig{})
		defer g.Kill()
		id, e := g.RunAsync("test", "while true; do echo x; done")
		So(e, ShouldBeNil)
		p := g.Processes()[0]
		So(eventually(2*time.Second, func() bool {
			return g.Stdout(id) != ""
		}), ShouldBeTrue)

		// Stopped, but without Kill sweeping the process list.
		g.running.Store(false)
		So(eventually(5*time.Second, func() bool {
			return p.Finished() && p.Exited()
		}), ShouldBeTrue)
	})
}

func TestGroupConcurrent(t *testing.T) {
	Convey("Concurrent runs keep their output apart", t, func() {
		g := newTestGroup(t, GroupConfig{Echo: NewMultiLogger()})
		defer g.Kill()
		var want []string
		for i := 1; i <= 200; i++ {
			want = append(want, strconv.Itoa(i))
		}
		const n = 8
		ids := make([]int64, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ids[i], errs[i] = g.Run("test", "seq 1 200", Streaming())
			}(i)
		}
		wg.Wait()
		for i := 0; i < n; i++ {
			So(errs[i], ShouldBeNil)
			So(g.Stdout(ids[i]), ShouldEqual, strings.Join(want, "\n"))
		}
	})

	Convey("Kill racing with launches leaves nothing running", t, func() {
		g := newTestGroup(t, GroupConfig{Echo: NewMultiLogger()})
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				g.Run("test", "sleep 0.5; echo done")
			}()
			go func() {
				defer wg.Done()
				g.RunAsync("test", "sleep 30", Block())
			}()
		}
		time.Sleep(100 * time.Millisecond)
		g.Kill()

		finished := make(chan struct{})
		go func() {
			wg.Wait()
			close(finished)
		}()
		returned := false
		select {
		case <-finished:
			returned = true
		case <-time.After(10 * time.Second):
		}
		So(returned, ShouldBeTrue)
		So(g.Running(), ShouldBeFalse)

		// Launches that lost the race stay listed, but are dead.
		for _, p := range g.Processes() {
			So(eventually(5*time.Second, p.Exited), ShouldBeTrue)
		}
		g.Kill()
	})
}

func TestGroupWait(t *testing.T) {
	Convey("Wait returns once blocking processes exit", t, func() {
		g := newTestGroup(t, GroupConfig{})
		defer g.Kill()
		_, e := g.RunAsync("bg", "sleep 30")
		So(e, ShouldBeNil)
		bg := g.Processes()[0]
		_, e = g.RunAsync("fg", "sleep 0.2", Block())
		So(e, ShouldBeNil)

		start := time.Now()
		g.Wait()
		So(time.Since(start), ShouldBeGreaterThanOrEqualTo, 150*time.Millisecond)
		So(time.Since(start), ShouldBeLessThan, 10*time.Second)
		// Anything left over is killed.
		So(eventually(2*time.Second, bg.Exited), ShouldBeTrue)
	})

	Convey("Wait without blocking processes returns at once", t, func() {
		g := newTestGroup(t, GroupConfig{})
		defer g.Kill()
		start := time.Now()
		g.Wait()
		So(time.Since(start), ShouldBeLessThan, time.Second)
	})
}

func TestGroupPrune(t *testing.T) {
	Convey("Finished processes are dropped", t, func() {
		r := NewReaper(nil)
		g := newTestGroup(t, GroupConfig{Reaper: r})
		defer g.Kill()
		for i := 0; i < pruneHigh+5; i++ {
			_, e := g.Run("test", "true")
			So(e, ShouldBeNil)
		}
		So(len(g.Processes()), ShouldBeLessThan, pruneHigh)
		So(r.Len(), ShouldEqual, 0)
		// The logs survive pruning.
		So(strings.Count(g.Stdout(0), "> true"), ShouldEqual, pruneHigh+5)
	})
}

func TestReaper(t *testing.T) {
	Convey("KillAll kills processes of every group", t, func() {
		r := NewReaper(nil)
		g1 := newTestGroup(t, GroupConfig{Reaper: r})
		g2 := newTestGroup(t, GroupConfig{Reaper: r})
		defer g1.Kill()
		defer g2.Kill()
		_, e := g1.RunAsync("test", "sleep 30")
		So(e, ShouldBeNil)
		_, e = g2.RunAsync("test", "sleep 30")
		So(e, ShouldBeNil)
		So(r.Len(), ShouldEqual, 2)

		p1 := g1.Processes()[0]
		p2 := g2.Processes()[0]
		r.KillAll()
		So(r.Len(), ShouldEqual, 0)
		So(eventually(2*time.Second, p1.Exited), ShouldBeTrue)
		So(eventually(2*time.Second, p2.Exited), ShouldBeTrue)
	})
}
