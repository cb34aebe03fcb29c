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
	"io"
	"log"
	"os"
	"sync"
)

// MultiLogger echoes captured output to any number of destinations, for
// example the terminal the supervisor runs in and a rotated file.  Lines
// handed to a single Echo call are written contiguously, so the output of
// a batch capture is never interleaved with other processes.
type MultiLogger struct {
	loggers []*log.Logger
	lock    sync.Mutex
}

// Echo writes every line to every destination.  Lines are expected to be
// newline terminated already.
func (l *MultiLogger) Echo(lines ...string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for _, logger := range l.loggers {
		for _, line := range lines {
			logger.Print(line)
		}
	}
}

// Write implements io.Writer, so that a MultiLogger can itself be the
// destination of a log.Logger.
func (l *MultiLogger) Write(b []byte) (int, error) {
	l.Echo(string(b))
	return len(b), nil
}

// AddWriter adds a destination.  Adding the same writer twice has no
// effect.
func (l *MultiLogger) AddWriter(w io.Writer) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for _, x := range l.loggers {
		if x.Writer() == w {
			return
		}
	}
	l.loggers = append(l.loggers, log.New(w, "", 0))
}

// DelWriter removes a destination added with AddWriter.
func (l *MultiLogger) DelWriter(w io.Writer) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for i, x := range l.loggers {
		if x.Writer() == w {
			l.loggers = append(l.loggers[:i], l.loggers[i+1:]...)
			break
		}
	}
}

// NewMultiLogger returns a MultiLogger writing to the given writers.  With
// no arguments it writes to standard output.
func NewMultiLogger(writers ...io.Writer) *MultiLogger {
	m := &MultiLogger{}
	if len(writers) == 0 {
		writers = []io.Writer{os.Stdout}
	}
	for _, w := range writers {
		m.AddWriter(w)
	}
	return m
}
