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
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
)

// Stream identifies one of the two captured output streams.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Option adjusts how a command is launched.
type Option func(*launchConfig)

type launchConfig struct {
	dir     string
	env     []string
	timeout time.Duration
	block   bool
	stream  bool
}

// Dir sets the working directory of the command.
func Dir(dir string) Option {
	return func(c *launchConfig) { c.dir = dir }
}

// Env replaces the environment of the command entirely.  Callers wanting
// to extend the inherited environment must merge it themselves.
func Env(env []string) Option {
	return func(c *launchConfig) {
		c.env = append(make([]string, 0, len(env)), env...)
	}
}

// Timeout bounds how long Run waits for the command to exit.
func Timeout(d time.Duration) Option {
	return func(c *launchConfig) { c.timeout = d }
}

// Block marks an asynchronous command so that Wait waits for it.
func Block() Option {
	return func(c *launchConfig) { c.block = true }
}

// Streaming makes Run store each line as it is read, rather than all at
// once when the command closes its output.  Useful for long commands
// whose progress should be visible.
func Streaming() Option {
	return func(c *launchConfig) { c.stream = true }
}

func newLaunchConfig(opts []Option) *launchConfig {
	c := &launchConfig{}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Process is one OS process started by a Group.
type Process struct {
	id       int64
	name     string
	command  string
	dir      string
	env      []string
	blocking bool
	started  time.Time

	cmd    *os.Process
	state  *os.ProcessState
	exited chan struct{}

	pipes     [2]*os.File
	finished  [2]atomic.Bool
	closer    sync.Once
	signalled atomic.Bool // group signalled after the process was reaped
}

func (p *Process) ID() int64 {
	return p.id
}

func (p *Process) Pid() int {
	return p.cmd.Pid
}

func (p *Process) Namespace() string {
	return p.name
}

func (p *Process) Command() string {
	return p.command
}

func (p *Process) Dir() string {
	return p.dir
}

// Env returns the environment the process was started with, or nil if it
// inherited the supervisor's.
func (p *Process) Env() []string {
	if p.env == nil {
		return nil
	}
	return append([]string{}, p.env...)
}

func (p *Process) Blocking() bool {
	return p.blocking
}

func (p *Process) Started() time.Time {
	return p.started
}

// Exited reports whether the process has terminated and been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit status, or -1 if the process is still running
// or was terminated by a signal.
func (p *Process) ExitCode() int {
	if !p.Exited() || p.state == nil {
		return -1
	}
	return p.state.ExitCode()
}

// StreamFinished reports whether capture of the stream has completed.
func (p *Process) StreamFinished(s Stream) bool {
	return p.finished[s].Load()
}

// Finished reports whether both streams have been fully captured.
func (p *Process) Finished() bool {
	return p.StreamFinished(Stdout) && p.StreamFinished(Stderr)
}

func (p *Process) markFinished(s Stream) {
	p.finished[s].CompareAndSwap(false, true)
}

func (p *Process) wait() {
	// Wait only fails if the process was never started, or was
	// already waited on; neither happens here.
	p.state, _ = p.cmd.Wait()
	close(p.exited)
}

func (p *Process) kill() {
	if !p.Exited() {
		p.cmd.Kill()
	}
}

// closePipes closes our read ends, which unblocks any capture still
// reading them.
func (p *Process) closePipes() {
	p.closer.Do(func() {
		for _, f := range p.pipes {
			f.Close()
		}
	})
}

// launch starts command through the platform shell, with output captured
// into the group logs.
func (g *Group) launch(name, command string, c *launchConfig, streaming bool) (*Process, error) {
	if !g.Running() {
		return nil, fmt.Errorf("%w: cannot start %q", ErrNotRunning, command)
	}

	cmd := shellCommand(command)
	cmd.Dir = c.dir
	if c.env != nil {
		cmd.Env = c.env
	}

	var pipes [2]*os.File
	var writers [2]*os.File
	for i := range pipes {
		r, w, e := os.Pipe()
		if e != nil {
			for j := 0; j < i; j++ {
				pipes[j].Close()
				writers[j].Close()
			}
			return nil, fmt.Errorf("creating %s pipe: %w", Stream(i), e)
		}
		pipes[i], writers[i] = r, w
	}
	cmd.Stdout = writers[Stdout]
	cmd.Stderr = writers[Stderr]

	g.mx.Lock()
	g.prune()
	g.nextID++
	id := g.nextID
	g.mx.Unlock()

	g.Out(name, "> "+command)

	e := cmd.Start()
	// The child holds its own copies of the write ends; ours must go so
	// that the readers see EOF once the child tree is done with them.
	writers[Stdout].Close()
	writers[Stderr].Close()
	if e != nil {
		pipes[Stdout].Close()
		pipes[Stderr].Close()
		return nil, fmt.Errorf("starting %q: %w", command, e)
	}

	p := &Process{
		id:       id,
		name:     name,
		command:  command,
		dir:      c.dir,
		env:      c.env,
		blocking: c.block,
		started:  time.Now(),
		cmd:      cmd.Process,
		exited:   make(chan struct{}),
		pipes:    pipes,
	}
	go p.wait()

	if g.reaper != nil {
		g.reaper.add(p)
	}

	g.mx.Lock()
	g.procs = append(g.procs, p)
	g.mx.Unlock()

	go g.capture(p, Stdout, streaming)
	go g.capture(p, Stderr, streaming)

	// Lost a race with Kill, which has already swept the list.
	if !g.Running() {
		g.terminate(p)
		p.closePipes()
	}
	return p, nil
}

// capture drains one stream of p into the group logs.
func (g *Group) capture(p *Process, s Stream, streaming bool) {
	defer p.markFinished(s)

	reader := bufio.NewReader(p.pipes[s])
	var pending []string
	stopped := false
	for {
		line, e := reader.ReadString('\n')
		if len(line) != 0 {
			if !streaming {
				pending = append(pending, line)
			} else if !g.Running() {
				stopped = true
				break
			} else {
				g.record(p.name, p.id, s, line)
			}
		}
		if e != nil {
			break
		}
	}
	g.record(p.name, p.id, s, pending...)

	if stopped {
		g.terminate(p)
		p.closePipes()
	}
}

func normalizeLine(text string) string {
	return strings.TrimRightFunc(text, unicode.IsSpace) + "\n"
}
