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
	"fmt"
)

var (
	ErrProcessFailed     = errors.New("Process failed")
	ErrTimeout           = errors.New("Timed out")
	ErrNetwork           = errors.New("Network failure")
	ErrUnsupportedConfig = errors.New("Unsupported configuration")
	ErrNotRunning        = errors.New("Group is not running")
	ErrBadHash           = errors.New("Bad object hash")
)

// ProcessError is returned by Run when a command exits with a nonzero
// status.  It matches ErrProcessFailed with errors.Is.
type ProcessError struct {
	Command string
	Code    int
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("Command %q returned non-zero exit status %d",
		e.Command, e.Code)
}

func (e *ProcessError) Is(target error) bool {
	return target == ErrProcessFailed
}
