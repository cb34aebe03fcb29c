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

	"github.com/shirou/gopsutil/v4/process"
)

// TreeKiller is the platform capability used to terminate whole process
// trees.  Kill and KillGroup must treat a process that is already gone as
// success.
type TreeKiller interface {
	// Descendants returns every process transitively spawned by pid,
	// parents before their children.
	Descendants(pid int) []int

	// Kill forcibly terminates a single process.
	Kill(pid int) error

	// KillGroup forcibly terminates the OS process group led by pgid,
	// where the platform has such a notion.
	KillGroup(pgid int) error

	// Alive reports whether some process, zombies included, holds pid.
	Alive(pid int) bool
}

type psTree struct{}

// NewTreeKiller returns the TreeKiller for the running platform.
func NewTreeKiller() TreeKiller {
	return psTree{}
}

func (psTree) Descendants(pid int) []int {
	var rv []int
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	queue := []*process.Process{root}
	seen := map[int32]bool{root.Pid: true}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		children, err := p.Children()
		if err != nil && !errors.Is(err, process.ErrorNoChildren) {
			continue
		}
		for _, c := range children {
			if seen[c.Pid] {
				continue
			}
			seen[c.Pid] = true
			rv = append(rv, int(c.Pid))
			queue = append(queue, c)
		}
	}
	return rv
}
