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

// Package workload knows how to set up and launch each supported kind of
// workload once its source has been cloned.
package workload

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/pictrl/pictrl"
	"github.com/pictrl/pictrl/config"
	"github.com/pictrl/pictrl/tunnel"
)

const (
	// Namespace is the log namespace of the workload.
	Namespace = "app"

	DefaultCredsPath = "./config/tunnel-creds.json"
)

// Workload sets up the cloned source in cfg.SourceDir and starts it in g.
// The main command must be started with pictrl.Block so that the caller
// can wait for it.
type Workload func(cfg *config.Config, g *pictrl.Group) error

// Registry maps a configuration type to its Workload.
type Registry map[string]Workload

// Default returns the registry of built in workloads.
func Default() Registry {
	return Registry{
		"python": Python,
		"shell":  Shell,
	}
}

// Lookup returns the workload for kind, or an error matching
// pictrl.ErrUnsupportedConfig.
func (r Registry) Lookup(kind string) (Workload, error) {
	if w, ok := r[kind]; ok {
		return w, nil
	}
	return nil, fmt.Errorf("%w: type %q", pictrl.ErrUnsupportedConfig, kind)
}

// Environ returns the inherited environment overlaid with each of the
// maps in turn.
func Environ(overlays ...map[string]string) []string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = v
		}
	}
	for _, o := range overlays {
		for k, v := range o {
			env[k] = v
		}
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rv := make([]string, 0, len(keys))
	for _, k := range keys {
		rv = append(rv, k+"="+env[k])
	}
	return rv
}

// SearchPath builds a PATH from the given directories, skipping empty
// ones.
func SearchPath(dirs ...string) string {
	var parts []string
	for _, d := range dirs {
		if d != "" {
			parts = append(parts, d)
		}
	}
	return strings.Join(parts, string(os.PathListSeparator))
}

// FreePort asks the kernel for an unused TCP port.
func FreePort() (int, error) {
	l, e := net.Listen("tcp", ":0")
	if e != nil {
		return 0, e
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func quote(path string) string {
	return strconv.Quote(path)
}

// launch starts the main command with a fresh PORT and, if configured,
// the tunnel in front of it.  The configured environment overrides
// defaults, and is in turn overridden by overrides.
func launch(cfg *config.Config, g *pictrl.Group, defaults, overrides map[string]string) error {
	port, e := FreePort()
	if e != nil {
		return fmt.Errorf("allocating port: %w", e)
	}
	forced := map[string]string{"PORT": strconv.Itoa(port)}
	for k, v := range overrides {
		forced[k] = v
	}

	g.Out(Namespace, "Running main command")
	if _, e = g.RunAsync(Namespace, cfg.Command,
		pictrl.Env(Environ(defaults, cfg.Env, forced)),
		pictrl.Dir(cfg.SourceDir),
		pictrl.Block()); e != nil {
		return e
	}
	if cfg.Tunnel != "" {
		g.Out(Namespace, "Starting tunnel")
		if e = tunnel.Start(g, Namespace+".tunnel", cfg.Tunnel, port, DefaultCredsPath); e != nil {
			return fmt.Errorf("starting tunnel: %w", e)
		}
	}
	return nil
}

// Shell runs the configured command as is.
func Shell(cfg *config.Config, g *pictrl.Group) error {
	return launch(cfg, g, nil, nil)
}

// Python creates a virtual environment in the source directory, installs
// the requirements, and runs the command with the environment activated.
func Python(cfg *config.Config, g *pictrl.Group) error {
	venv := filepath.Join(cfg.SourceDir, ".venv")
	bin := filepath.Join(venv, "bin")
	if runtime.GOOS == "windows" {
		bin = filepath.Join(venv, "Scripts")
	}
	python := quote(filepath.Join(bin, "python"))

	g.Out(Namespace, "Setting up virtual environment")
	steps := []string{
		"python -m venv " + quote(venv),
		python + " -m pip install --upgrade pip",
	}
	for _, req := range []string{"requirements.txt", "req.txt"} {
		path := filepath.Join(cfg.SourceDir, req)
		if _, e := os.Stat(path); e == nil {
			steps = append(steps, python+" -m pip install -r "+quote(path))
		}
	}
	for _, step := range steps {
		if _, e := g.Run(Namespace, step, pictrl.Streaming()); e != nil {
			return e
		}
	}

	return launch(cfg, g,
		map[string]string{"PYTHONUNBUFFERED": "1"},
		map[string]string{"PATH": SearchPath(bin, cfg.Env["PATH"], os.Getenv("PATH"))})
}
