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
	"sync"
)

// Slot holds the group of the currently active workload.  The
// orchestration loop replaces it wholesale on every iteration, while
// restart callbacks and the admin interface read it.
type Slot struct {
	group *Group
	mx    sync.RWMutex
}

// Get returns the active group, or nil if none was installed yet.
func (s *Slot) Get() *Group {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.group
}

// Swap installs g as the active group and returns the previous one.
func (s *Slot) Swap(g *Group) *Group {
	s.mx.Lock()
	defer s.mx.Unlock()
	old := s.group
	s.group = g
	return old
}

// Kill kills the active group.  It reports whether there was a running
// group to kill.
func (s *Slot) Kill() bool {
	g := s.Get()
	if g == nil || !g.Running() {
		return false
	}
	g.Kill()
	return true
}
