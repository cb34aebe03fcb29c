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

// Package logstore persists snapshots of group logs, one file per
// supervisor run, and answers time range queries that reach back into
// earlier runs.
package logstore

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/pictrl/pictrl"
)

const (
	prefix     = "pictrl_"
	plainExt   = ".json"
	packedExt  = ".json.zst"
	DefaultDir = "./logs"
)

// Store writes snapshots for the current run to dir, and reads the
// snapshots of previous runs.
type Store struct {
	dir   string
	start time.Time
	mx    sync.Mutex
}

// New returns a Store for a run that started at start.
func New(dir string, start time.Time) *Store {
	if dir == "" {
		dir = DefaultDir
	}
	return &Store{dir: dir, start: start}
}

// Start returns the start time of the current run.
func (s *Store) Start() time.Time {
	return s.start
}

// Path returns the snapshot file of the current run.
func (s *Store) Path() string {
	return filepath.Join(s.dir, prefix+strconv.FormatInt(s.start.Unix(), 10)+plainExt)
}

// Merge combines several logs into one, ordered by time.  Lines with
// equal times keep their relative order.
func Merge(logs ...[]pictrl.LogLine) []pictrl.LogLine {
	var rv []pictrl.LogLine
	for _, l := range logs {
		rv = append(rv, l...)
	}
	slices.SortStableFunc(rv, func(a, b pictrl.LogLine) int {
		return a.Time.Compare(b.Time)
	})
	return rv
}

// Save replaces the snapshot of the current run with the merged logs.
func (s *Store) Save(logs ...[]pictrl.LogLine) error {
	lines := Merge(logs...)
	if lines == nil {
		lines = []pictrl.LogLine{}
	}
	b, e := json.MarshalIndent(lines, "", "  ")
	if e != nil {
		return e
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	if e = os.MkdirAll(s.dir, 0755); e != nil {
		return e
	}
	tmp, e := os.CreateTemp(s.dir, ".snapshot-*")
	if e != nil {
		return e
	}
	if _, e = tmp.Write(b); e == nil {
		e = tmp.Close()
	} else {
		tmp.Close()
	}
	if e == nil {
		e = os.Rename(tmp.Name(), s.Path())
	}
	if e != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("saving logs: %w", e)
	}
	return nil
}

type snapshot struct {
	start time.Time
	path  string
}

// snapshots returns the snapshot files of earlier runs, oldest first.
func (s *Store) snapshots() ([]snapshot, error) {
	entries, e := os.ReadDir(s.dir)
	if e != nil {
		if os.IsNotExist(e) {
			return nil, nil
		}
		return nil, e
	}
	current := filepath.Base(s.Path())
	var rv []snapshot
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || name == current || !strings.HasPrefix(name, prefix) {
			continue
		}
		var stamp string
		switch {
		case strings.HasSuffix(name, packedExt):
			stamp = strings.TrimSuffix(name, packedExt)
		case strings.HasSuffix(name, plainExt):
			stamp = strings.TrimSuffix(name, plainExt)
		default:
			continue
		}
		sec, e := strconv.ParseInt(strings.TrimPrefix(stamp, prefix), 10, 64)
		if e != nil {
			continue
		}
		rv = append(rv, snapshot{start: time.Unix(sec, 0), path: filepath.Join(s.dir, name)})
	}
	sort.SliceStable(rv, func(i, j int) bool {
		return rv[i].start.Before(rv[j].start)
	})
	return rv, nil
}

// Rotate compresses the plain snapshots left behind by earlier runs.
func (s *Store) Rotate() error {
	snaps, e := s.snapshots()
	if e != nil {
		return e
	}
	for _, snap := range snaps {
		if !strings.HasSuffix(snap.path, plainExt) || strings.HasSuffix(snap.path, packedExt) {
			continue
		}
		if e := compress(snap.path); e != nil {
			return fmt.Errorf("rotating %s: %w", snap.path, e)
		}
	}
	return nil
}

func compress(path string) error {
	in, e := os.Open(path)
	if e != nil {
		return e
	}
	defer in.Close()

	dst := strings.TrimSuffix(path, plainExt) + packedExt
	out, e := os.Create(dst)
	if e != nil {
		return e
	}
	enc, e := zstd.NewWriter(out)
	if e == nil {
		_, e = io.Copy(enc, in)
		if ce := enc.Close(); e == nil {
			e = ce
		}
	}
	if ce := out.Close(); e == nil {
		e = ce
	}
	if e != nil {
		os.Remove(dst)
		return e
	}
	in.Close()
	return os.Remove(path)
}

func readSnapshot(path string) ([]pictrl.LogLine, error) {
	f, e := os.Open(path)
	if e != nil {
		return nil, e
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, packedExt) {
		dec, e := zstd.NewReader(f)
		if e != nil {
			return nil, e
		}
		defer dec.Close()
		r = dec
	}
	var lines []pictrl.LogLine
	if e := json.NewDecoder(r).Decode(&lines); e != nil {
		return nil, fmt.Errorf("reading %s: %w", path, e)
	}
	return lines, nil
}

// Match reports whether the namespace is selected by any of the filters.
// A filter selects its own namespace and everything below it, so "app"
// matches "app" and "app.autoupdate" but not "apple".  No filters select
// everything.
func Match(namespace string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if strings.HasPrefix(namespace+".", f+".") {
			return true
		}
	}
	return false
}

// Query returns the lines within [start, end] whose namespace matches the
// filters, first from the snapshots of earlier runs, then from the live
// logs given.
func (s *Store) Query(start, end time.Time, filters []string, live ...[]pictrl.LogLine) ([]pictrl.LogLine, error) {
	var rv []pictrl.LogLine
	add := func(lines []pictrl.LogLine) {
		for _, l := range lines {
			if l.Time.Before(start) || l.Time.After(end) {
				continue
			}
			if !Match(l.Namespace, filters) {
				continue
			}
			rv = append(rv, l)
		}
	}

	if start.Before(s.start) {
		snaps, e := s.snapshots()
		if e != nil {
			return nil, e
		}
		for i, snap := range snaps {
			until := s.start
			if i+1 < len(snaps) {
				until = snaps[i+1].start
			}
			if end.Before(snap.start) || start.After(until) {
				continue
			}
			lines, e := readSnapshot(snap.path)
			if e != nil {
				return nil, e
			}
			add(lines)
		}
	}
	add(Merge(live...))
	return rv, nil
}

// Snapshot saves the logs returned by collect every interval, until done
// is closed.  A final snapshot is saved on the way out.  Errors are passed
// to report, which may be nil.
func (s *Store) Snapshot(interval time.Duration, done <-chan struct{}, collect func() [][]pictrl.LogLine, report func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		e := s.Save(collect()...)
		if e != nil && report != nil {
			report(e)
		}
		select {
		case <-done:
			if e = s.Save(collect()...); e != nil && report != nil {
				report(e)
			}
			return
		case <-ticker.C:
		}
	}
}
