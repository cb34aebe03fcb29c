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
	"errors"
	"os/exec"

	"golang.org/x/sys/unix"
)

func (psTree) Kill(pid int) error {
	return ignoreGone(unix.Kill(pid, unix.SIGKILL))
}

func (psTree) KillGroup(pgid int) error {
	if pgid <= 1 {
		return nil
	}
	return ignoreGone(unix.Kill(-pgid, unix.SIGKILL))
}

func (psTree) Alive(pid int) bool {
	e := unix.Kill(pid, 0)
	return e == nil || errors.Is(e, unix.EPERM)
}

func ignoreGone(e error) error {
	if e == nil || errors.Is(e, unix.ESRCH) {
		return nil
	}
	return e
}

// shellCommand wraps command for the platform shell.  The child leads its
// own process group so that KillGroup reaches grandchildren that were
// reparented after their parent exited.
func shellCommand(command string) *exec.Cmd {
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.SysProcAttr = sysProcAttr()
	return cmd
}
