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
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/pictrl/pictrl"
)

const (
	InternetNamespace = "pictrl.internet"

	DefaultCheckInterval = 300 * time.Second
	DefaultCheckHost     = "google.com"
)

// InternetCheck pings a host periodically and reboots the machine when it
// cannot be reached.  It runs until its group stops.
type InternetCheck struct {
	Group    *pictrl.Group
	Interval time.Duration
	Host     string
	Reboot   func() error

	// Command checks connectivity.  Defaults to a single ping of Host.
	Command string
}

func pingCommand(host string) string {
	if runtime.GOOS == "windows" {
		return fmt.Sprintf("ping -w 5000 %s", host)
	}
	return fmt.Sprintf("ping -c 1 -w 5 %s", host)
}

// Start begins checking in the background.
func (c *InternetCheck) Start() {
	if c.Interval <= 0 {
		c.Interval = DefaultCheckInterval
	}
	if c.Host == "" {
		c.Host = DefaultCheckHost
	}
	if c.Command == "" {
		c.Command = pingCommand(c.Host)
	}
	go c.run()
}

func (c *InternetCheck) run() {
	done := c.Group.Done()
	for c.Group.Running() {
		timer := time.NewTimer(c.Interval)
		select {
		case <-done:
			timer.Stop()
			return
		case <-timer.C:
		}
		if c.check() {
			continue
		}
		c.Group.Out(InternetNamespace, "No internet connection. Restarting...")
		if c.Reboot != nil {
			if e := c.Reboot(); e != nil {
				c.Group.Outf(InternetNamespace, "Reboot failed: %v", e)
			}
		}
	}
}

// check reports whether the host could be reached.  Only a failed ping
// counts; failing to run ping at all is logged and ignored.
func (c *InternetCheck) check() bool {
	_, e := c.Group.Run(InternetNamespace, c.Command,
		pictrl.Streaming(), pictrl.Timeout(time.Minute))
	if e == nil {
		return true
	}
	if errors.Is(e, pictrl.ErrProcessFailed) {
		return false
	}
	c.Group.Outf(InternetNamespace, "Connectivity check failed: %v", e)
	return true
}
