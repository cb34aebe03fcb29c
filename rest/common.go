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

package rest

import (
	"time"

	"github.com/pictrl/pictrl"
)

const (
	mimeJson = "application/json; charset=UTF-8"
	mimeText = "text/plain; charset=UTF-8"

	sessionCookie = "pictrl_session"

	// Names of the groups in URLs.
	GroupSupervisor = "supervisor"
	GroupActive     = "active"
)

// ProcessInfo describes one process of a group.
type ProcessInfo struct {
	ID        int64     `json:"id"`
	Pid       int       `json:"pid"`
	Namespace string    `json:"namespace"`
	Command   string    `json:"command"`
	Dir       string    `json:"dir,omitempty"`
	Blocking  bool      `json:"blocking"`
	Exited    bool      `json:"exited"`
	ExitCode  int       `json:"exitCode"`
	Started   time.Time `json:"started"`
}

// GroupInfo describes a group.
type GroupInfo struct {
	Name      string        `json:"name"`
	Running   bool          `json:"running"`
	Serial    int64         `json:"serial,string"`
	Processes []ProcessInfo `json:"processes"`
}

// Status describes the supervisor as a whole.
type Status struct {
	Groups    []GroupInfo `json:"groups"`
	LogsSince time.Time   `json:"logsSince"`
}

// LogInfo is a set of records of one group, with the serial to pass back
// to wait for the next change.
type LogInfo struct {
	Serial  int64            `json:"serial,string"`
	Records []pictrl.LogLine `json:"records"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

func groupInfo(name string, g *pictrl.Group) GroupInfo {
	info := GroupInfo{Name: name, Processes: []ProcessInfo{}}
	if g == nil {
		return info
	}
	info.Running = g.Running()
	info.Serial = g.OutputLog().Serial()
	for _, p := range g.Processes() {
		info.Processes = append(info.Processes, ProcessInfo{
			ID:        p.ID(),
			Pid:       p.Pid(),
			Namespace: p.Namespace(),
			Command:   p.Command(),
			Dir:       p.Dir(),
			Blocking:  p.Blocking(),
			Exited:    p.Exited(),
			ExitCode:  p.ExitCode(),
			Started:   p.Started(),
		})
	}
	return info
}
