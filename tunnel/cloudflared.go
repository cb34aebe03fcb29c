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

// Package tunnel exposes a local port through a named Cloudflare tunnel,
// driving the cloudflared command line inside a process group.
package tunnel

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"

	"github.com/pictrl/pictrl"
)

// Runner is the part of *pictrl.Group used to drive cloudflared.
type Runner interface {
	Run(name, command string, opts ...pictrl.Option) (int64, error)
	RunAsync(name, command string, opts ...pictrl.Option) (int64, error)
	Stdout(id int64) string
	Out(name, message string)
}

// Exists reports whether cloudflared knows a tunnel called hostname.
func Exists(r Runner, name, hostname string) (bool, error) {
	id, e := r.Run(name, "cloudflared tunnel list --output json --name "+hostname)
	if e != nil {
		return false, e
	}
	out := r.Stdout(id)
	if !gjson.Valid(out) {
		return false, fmt.Errorf("unexpected tunnel list output: %q", out)
	}
	return gjson.Get(out, "#").Int() > 0, nil
}

// Start creates the tunnel if needed, points its DNS record at it, and
// runs it in the background forwarding to localhost:port.  The tunnel
// credentials are written to credsPath.
func Start(r Runner, name, hostname string, port int, credsPath string) error {
	found, e := Exists(r, name, hostname)
	if e != nil {
		return e
	}
	if !found {
		r.Out(name, fmt.Sprintf("Tunnel %q does not exist. Creating...", hostname))
		if _, e = r.Run(name, "cloudflared tunnel create "+hostname); e != nil {
			return e
		}
	}
	if _, e = r.Run(name, fmt.Sprintf("cloudflared tunnel route dns --overwrite-dns %s %s",
		hostname, hostname)); e != nil {
		return e
	}

	creds, e := filepath.Abs(credsPath)
	if e != nil {
		return e
	}
	if e = os.MkdirAll(filepath.Dir(creds), 0755); e != nil {
		return e
	}
	if _, e = os.Stat(creds); e == nil {
		// cloudflared leaves the file read-only.
		os.Chmod(creds, 0600)
		if e = os.Remove(creds); e != nil {
			return e
		}
	}
	if _, e = r.Run(name, fmt.Sprintf("cloudflared tunnel token --cred-file %s %s",
		creds, hostname)); e != nil {
		return e
	}

	_, e = r.RunAsync(name, fmt.Sprintf("cloudflared tunnel run --cred-file %s --url localhost:%d %s",
		creds, port, hostname))
	return e
}
