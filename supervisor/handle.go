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

package supervisor

import (
	"runtime"

	"github.com/pictrl/pictrl"
	"github.com/pictrl/pictrl/logstore"
)

// ServerNamespace is used for lines logged on behalf of the admin
// interface.
const ServerNamespace = "pictrl.server"

// Handle is what the administrative interface gets to see of a running
// supervisor: both groups and the log store.  It is created by whoever
// starts the interface and lives as long as the supervisor.
type Handle struct {
	Supervisor *pictrl.Group
	Active     *pictrl.Slot
	Store      *logstore.Store

	// RebootCommand restarts the host.  Defaults to RebootCommand().
	RebootCommand string
}

// RebootCommand returns the command that restarts the host.
func RebootCommand() string {
	if runtime.GOOS == "windows" {
		return "shutdown /r"
	}
	return "sudo shutdown -r now"
}

// Logs returns the combined logs of the supervisor and the active
// workload.
func (h *Handle) Logs() [][]pictrl.LogLine {
	logs := [][]pictrl.LogLine{h.Supervisor.OutputLog().Lines()}
	if g := h.Active.Get(); g != nil {
		logs = append(logs, g.OutputLog().Lines())
	}
	return logs
}

// SaveLogs writes a snapshot of the current logs.
func (h *Handle) SaveLogs() error {
	if h.Store == nil {
		return nil
	}
	e := h.Store.Save(h.Logs()...)
	if e != nil {
		h.Supervisor.Outf(ServerNamespace, "Saving logs failed: %v", e)
	}
	return e
}

// Restart kills the active workload, so that the loop starts it again.
// It reports whether a running workload was found.
func (h *Handle) Restart() bool {
	g := h.Active.Get()
	if g == nil || !g.Running() {
		return false
	}
	h.Supervisor.Out(ServerNamespace, "Restarting...")
	h.SaveLogs()
	g.Kill()
	return true
}

// Reboot saves the logs and restarts the host.
func (h *Handle) Reboot() error {
	h.Supervisor.Out(ServerNamespace, "Rebooting...")
	h.SaveLogs()
	cmd := h.RebootCommand
	if cmd == "" {
		cmd = RebootCommand()
	}
	_, e := h.Supervisor.Run(ServerNamespace, cmd)
	return e
}
