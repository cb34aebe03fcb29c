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
	"time"
)

const (
	// DefaultLogLimit is the number of lines a Group keeps per buffer.
	DefaultLogLimit = 100000

	// AllIDs selects every line, regardless of process id.
	AllIDs int64 = -1

	minLogRecords = 64
)

// LogLine is a single line of captured or informational output.  An ID of
// zero marks a line written by the group itself; otherwise it is the id of
// the process that produced the line.
type LogLine struct {
	ID        int64     `json:"id"`
	Time      time.Time `json:"time"`
	Namespace string    `json:"namespace"`
	Text      string    `json:"text"`
}

// Log is a bounded, time ordered sequence of LogLines.  Once the limit is
// reached the oldest line is discarded for every new one.  A zero limit
// means the log grows without bound.
type Log struct {
	records []LogLine
	head    int
	count   int
	limit   int
	serial  int64
	cvs     map[*sync.Cond]bool
	mx      sync.Mutex
}

func (log *Log) lock() {
	log.mx.Lock()
}

func (log *Log) unlock() {
	log.mx.Unlock()
}

func (log *Log) grow() {
	n := len(log.records) * 2
	if n == 0 {
		n = minLogRecords
	}
	if log.limit > 0 && n > log.limit {
		n = log.limit
	}
	recs := make([]LogLine, n)
	log.copyTo(recs)
	log.records = recs
	log.head = 0
}

// copyTo copies the stored lines, oldest first.  Call with lock held.
func (log *Log) copyTo(dst []LogLine) int {
	for i := 0; i < log.count; i++ {
		dst[i] = log.records[(log.head+i)%len(log.records)]
	}
	return log.count
}

func (log *Log) push(l LogLine) {
	if log.limit > 0 && log.count >= log.limit {
		log.records[log.head] = l
		log.head = (log.head + 1) % len(log.records)
		return
	}
	if log.count == len(log.records) {
		log.grow()
	}
	log.records[(log.head+log.count)%len(log.records)] = l
	log.count++
}

// Append adds lines to the end of the log, evicting the oldest lines once
// the limit is exceeded.  The lines are added atomically with respect to
// other appends.
func (log *Log) Append(lines ...LogLine) {
	if len(lines) == 0 {
		return
	}
	log.lock()
	for _, l := range lines {
		log.push(l)
	}
	log.serial++
	for cv := range log.cvs {
		cv.Broadcast()
	}
	log.unlock()
}

// Len returns the number of lines currently held.
func (log *Log) Len() int {
	log.lock()
	defer log.unlock()
	return log.count
}

// Limit returns the configured limit, zero if unbounded.
func (log *Log) Limit() int {
	return log.limit
}

// Lines returns a copy of every stored line, oldest first.
func (log *Log) Lines() []LogLine {
	log.lock()
	recs := make([]LogLine, log.count)
	log.copyTo(recs)
	log.unlock()
	return recs
}

// Filter returns the lines for which fn returns true, in order.
func (log *Log) Filter(fn func(LogLine) bool) []LogLine {
	var rv []LogLine
	log.lock()
	for i := 0; i < log.count; i++ {
		l := log.records[(log.head+i)%len(log.records)]
		if fn(l) {
			rv = append(rv, l)
		}
	}
	log.unlock()
	return rv
}

// ByID returns the lines tagged with id.  AllIDs returns everything.
func (log *Log) ByID(id int64) []LogLine {
	return log.Filter(func(l LogLine) bool {
		return id == AllIDs || l.ID == id
	})
}

// Text joins the text of the lines tagged with id and trims surrounding
// white space.
func (log *Log) Text(id int64) string {
	var sb strings.Builder
	for _, l := range log.ByID(id) {
		sb.WriteString(l.Text)
	}
	return strings.TrimSpace(sb.String())
}

// Serial returns the current serial number, which changes with every
// append.
func (log *Log) Serial() int64 {
	log.lock()
	defer log.unlock()
	return log.serial
}

// GetRecords returns the records that are stored, as well as a serial
// suitable for use as an Etag.  If last equals the current serial, nil is
// returned without copying anything.  Serials are not comparable across
// different Log instances.
func (log *Log) GetRecords(last int64) ([]LogLine, int64) {
	log.lock()
	defer log.unlock()
	if log.serial == last {
		return nil, last
	}
	recs := make([]LogLine, log.count)
	log.copyTo(recs)
	return recs, log.serial
}

// Watch blocks until the serial differs from last, or the expiration
// passes.  A zero expiration polls.  The current serial is returned.
func (log *Log) Watch(last int64, expire time.Duration) int64 {
	expired := false
	var timer *time.Timer
	cv := sync.NewCond(&log.mx)
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			log.lock()
			expired = true
			cv.Broadcast()
			log.unlock()
		})
	} else {
		expired = true
	}

	log.lock()
	log.cvs[cv] = true
	for log.serial == last && !expired {
		cv.Wait()
	}
	delete(log.cvs, cv)
	last = log.serial
	log.unlock()
	if timer != nil {
		timer.Stop()
	}
	return last
}

// NewLog returns a Log holding at most limit lines.
func NewLog(limit int) *Log {
	if limit < 0 {
		limit = 0
	}
	return &Log{
		limit: limit,
		// Start from the clock so that a restarted process does not
		// hand out serials a client may already have cached.
		serial: time.Now().UnixNano(),
		cvs:    make(map[*sync.Cond]bool),
	}
}
