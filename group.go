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
	"sync"
	"sync/atomic"
	"time"
)

const (
	// Exited processes are only pruned once the list reaches
	// pruneHigh entries, and never below pruneLow.
	pruneHigh = 20
	pruneLow  = 5

	defaultDrainRetries  = 100
	defaultDrainInterval = 100 * time.Millisecond
)

// GroupConfig holds the settings of a Group.  The zero value is usable.
type GroupConfig struct {
	// Limit is the number of lines each log keeps.  Zero selects
	// DefaultLogLimit, a negative value keeps everything.
	Limit int

	// Tree kills process trees.  Defaults to NewTreeKiller().
	Tree TreeKiller

	// Reaper, if set, tracks every process so it can be killed when the
	// supervisor exits.
	Reaper *Reaper

	// Echo receives a copy of every stored line.  Defaults to standard
	// output.
	Echo *MultiLogger

	// DrainRetries and DrainInterval bound how long Run waits for the
	// output of an exited process to be fully read.
	DrainRetries  int
	DrainInterval time.Duration
}

// Group owns a set of processes and the logs their output is captured to.
// Processes are started with Run or RunAsync, and Kill terminates all of
// them together with anything they spawned.  All methods are safe for
// concurrent use.
type Group struct {
	running atomic.Bool
	done    chan struct{}
	closed  bool
	procs   []*Process
	nextID  int64

	stdout *Log
	stderr *Log
	output *Log

	tree          TreeKiller
	reaper        *Reaper
	echo          *MultiLogger
	drainRetries  int
	drainInterval time.Duration

	mx       sync.Mutex // procs, nextID, done
	appendMx sync.Mutex // keeps the three logs in time order
}

// NewGroup returns a running, empty Group.
func NewGroup(cfg GroupConfig) *Group {
	limit := cfg.Limit
	switch {
	case limit == 0:
		limit = DefaultLogLimit
	case limit < 0:
		limit = 0
	}
	g := &Group{
		stdout:        NewLog(limit),
		stderr:        NewLog(limit),
		output:        NewLog(limit),
		tree:          cfg.Tree,
		reaper:        cfg.Reaper,
		echo:          cfg.Echo,
		drainRetries:  cfg.DrainRetries,
		drainInterval: cfg.DrainInterval,
		done:          make(chan struct{}),
	}
	if g.tree == nil {
		g.tree = NewTreeKiller()
	}
	if g.echo == nil {
		g.echo = NewMultiLogger()
	}
	if g.drainRetries <= 0 {
		g.drainRetries = defaultDrainRetries
	}
	if g.drainInterval <= 0 {
		g.drainInterval = defaultDrainInterval
	}
	g.running.Store(true)
	return g
}

// Running reports whether the group has not been killed.
func (g *Group) Running() bool {
	return g.running.Load()
}

// Done returns a channel that is closed when the group is killed.
func (g *Group) Done() <-chan struct{} {
	g.mx.Lock()
	defer g.mx.Unlock()
	return g.done
}

// Out writes an informational line to the group logs.
func (g *Group) Out(name, message string) {
	g.record(name, 0, Stdout, message)
}

// Outf is Out with formatting.
func (g *Group) Outf(name, format string, v ...interface{}) {
	g.Out(name, fmt.Sprintf(format, v...))
}

// record appends lines to the stream log and the combined log.  Time
// stamps are taken under the append lock so each log stays ordered.
func (g *Group) record(name string, id int64, s Stream, texts ...string) {
	if len(texts) == 0 {
		return
	}
	lines := make([]LogLine, len(texts))
	echo := make([]string, len(texts))

	g.appendMx.Lock()
	now := time.Now()
	for i, t := range texts {
		echo[i] = normalizeLine(t)
		lines[i] = LogLine{ID: id, Time: now, Namespace: name, Text: echo[i]}
	}
	if s == Stderr {
		g.stderr.Append(lines...)
	} else {
		g.stdout.Append(lines...)
	}
	g.output.Append(lines...)
	g.appendMx.Unlock()

	g.echo.Echo(echo...)
}

// Stdout returns the trimmed standard output of process id, or of
// everything for AllIDs.
func (g *Group) Stdout(id int64) string {
	return g.stdout.Text(id)
}

// Stderr returns the trimmed standard error of process id.
func (g *Group) Stderr(id int64) string {
	return g.stderr.Text(id)
}

// Output returns the trimmed combined output of process id.
func (g *Group) Output(id int64) string {
	return g.output.Text(id)
}

func (g *Group) StdoutLog() *Log {
	return g.stdout
}

func (g *Group) StderrLog() *Log {
	return g.stderr
}

// OutputLog returns the combined log, which includes the informational
// lines.
func (g *Group) OutputLog() *Log {
	return g.output
}

// Processes returns the processes currently tracked, in launch order.
func (g *Group) Processes() []*Process {
	g.mx.Lock()
	defer g.mx.Unlock()
	return append([]*Process{}, g.procs...)
}

// prune drops processes that have exited and whose output has been
// completely read.  Call with lock held.
func (g *Group) prune() {
	if len(g.procs) < pruneHigh {
		return
	}
	i := 0
	for i < len(g.procs) && len(g.procs) > pruneLow {
		p := g.procs[i]
		if p.Exited() && p.Finished() {
			g.procs = append(g.procs[:i], g.procs[i+1:]...)
			if g.reaper != nil {
				g.reaper.remove(p)
			}
		} else {
			i++
		}
	}
}

// killTree kills p and every process it spawned.  Descendants are
// enumerated only while p itself has not been reaped, since its pid may be
// reused afterwards; the process group catches the rest.
func killTree(tree TreeKiller, p *Process) {
	pid := p.Pid()
	if !p.Exited() {
		for _, c := range tree.Descendants(pid) {
			tree.Kill(c)
		}
		p.kill()
		tree.KillGroup(pid)
		p.signalled.Store(true)
		return
	}
	// The kernel does not hand out a pid while a process group of that
	// id has members.  So once p is reaped, a live process holding its
	// pid means our group is empty and the pid belongs to someone else.
	if p.signalled.Swap(true) || tree.Alive(pid) {
		return
	}
	tree.KillGroup(pid)
}

func (g *Group) terminate(p *Process) {
	killTree(g.tree, p)
	if g.reaper != nil {
		g.reaper.remove(p)
	}
}

// Run runs command to completion and returns its id, which can be used to
// retrieve exactly its output.  A nonzero exit status is reported as a
// *ProcessError.  If the command outlives the Timeout option, or its output
// is not drained shortly after it exits, ErrTimeout is returned.  In every
// failure case the whole process tree is killed.  The id is returned even
// on failure.
func (g *Group) Run(name, command string, opts ...Option) (int64, error) {
	c := newLaunchConfig(opts)
	c.block = false
	p, e := g.launch(name, command, c, c.stream)
	if e != nil {
		return 0, e
	}

	var expire <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		expire = timer.C
	}
	select {
	case <-p.exited:
	case <-expire:
		g.terminate(p)
		p.closePipes()
		return p.id, fmt.Errorf("%w: %q still running after %v",
			ErrTimeout, command, c.timeout)
	}

	for i := 0; !p.Finished(); i++ {
		if i >= g.drainRetries {
			g.terminate(p)
			p.closePipes()
			return p.id, fmt.Errorf("%w: output of %q not drained",
				ErrTimeout, command)
		}
		time.Sleep(g.drainInterval)
	}

	if code := p.ExitCode(); code != 0 {
		g.terminate(p)
		p.closePipes()
		if !g.Running() {
			return p.id, fmt.Errorf("%w: %q interrupted", ErrNotRunning, command)
		}
		return p.id, &ProcessError{Command: command, Code: code}
	}

	p.closePipes()
	g.terminate(p)
	return p.id, nil
}

// RunAsync starts command and returns immediately.  Its output is stored
// line by line as it arrives.  With the Block option, Wait will wait for
// the command to exit.
func (g *Group) RunAsync(name, command string, opts ...Option) (int64, error) {
	c := newLaunchConfig(opts)
	p, e := g.launch(name, command, c, true)
	if e != nil {
		return 0, e
	}
	return p.id, nil
}

func (g *Group) nextBlocking(seen map[*Process]bool) *Process {
	g.mx.Lock()
	defer g.mx.Unlock()
	for _, p := range g.procs {
		if p.blocking && !seen[p] {
			return p
		}
	}
	return nil
}

// Wait waits, in launch order, for every process started with Block to
// exit, including ones started while waiting.  It then kills everything
// left in the group.
func (g *Group) Wait() {
	seen := make(map[*Process]bool)
	for p := g.nextBlocking(seen); p != nil; p = g.nextBlocking(seen) {
		seen[p] = true
		<-p.exited
	}
	for _, p := range g.Processes() {
		g.terminate(p)
	}
}

// Kill marks the group as no longer running and kills every process tree
// in it.  It does not wait for the processes to be reaped.  Calling it
// more than once, or on an empty group, is harmless.
func (g *Group) Kill() {
	g.running.Store(false)
	g.mx.Lock()
	procs := g.procs
	g.procs = nil
	if !g.closed {
		close(g.done)
		g.closed = true
	}
	g.mx.Unlock()

	for _, p := range procs {
		g.terminate(p)
		p.closePipes()
	}
}

// Reset kills the group and makes it ready to run new processes.  The
// logs are kept.
func (g *Group) Reset() {
	g.Kill()
	g.mx.Lock()
	g.done = make(chan struct{})
	g.closed = false
	g.mx.Unlock()
	g.running.Store(true)
}

// Reaper remembers live processes of any number of groups, so that they
// can be killed when the supervisor itself exits.
type Reaper struct {
	procs map[*Process]bool
	tree  TreeKiller
	mx    sync.Mutex
}

func NewReaper(tree TreeKiller) *Reaper {
	if tree == nil {
		tree = NewTreeKiller()
	}
	return &Reaper{procs: make(map[*Process]bool), tree: tree}
}

func (r *Reaper) add(p *Process) {
	r.mx.Lock()
	r.procs[p] = true
	r.mx.Unlock()
}

func (r *Reaper) remove(p *Process) {
	r.mx.Lock()
	delete(r.procs, p)
	r.mx.Unlock()
}

// Len returns the number of processes still tracked.
func (r *Reaper) Len() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return len(r.procs)
}

// KillAll kills every tracked process tree.
func (r *Reaper) KillAll() {
	r.mx.Lock()
	procs := r.procs
	r.procs = make(map[*Process]bool)
	r.mx.Unlock()
	for p := range procs {
		killTree(r.tree, p)
	}
}
