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

// Package config loads the supervisor configuration file.  The file is
// re-read on every iteration of the orchestration loop, so that fixes take
// effect without restarting the supervisor.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath       = "./config/config.json"
	DefaultSourceDir  = "./source"
	DefaultAutoupdate = 120
	DefaultBackoff    = 30
	DefaultLimit      = 100000
	DefaultServerPort = 80
)

// Config describes the workload to deploy.
type Config struct {
	SourceDir     string            `json:"source_dir" yaml:"source_dir"`
	Git           string            `json:"git" yaml:"git"`
	Type          string            `json:"type" yaml:"type"`
	Command       string            `json:"command" yaml:"command"`
	Env           map[string]string `json:"env" yaml:"env"`
	Autoupdate    int               `json:"autoupdate" yaml:"autoupdate"`
	Tunnel        string            `json:"tunnel" yaml:"tunnel"`
	Limit         int               `json:"limit" yaml:"limit"`
	Backoff       int               `json:"backoff" yaml:"backoff"`
	InternetCheck bool              `json:"internet_check" yaml:"internet_check"`
	Server        ServerConfig      `json:"pictrl_server" yaml:"pictrl_server"`
}

// ServerConfig configures the administrative web server.
type ServerConfig struct {
	Key        string `json:"key" yaml:"key"`
	Secret     string `json:"secret" yaml:"secret"`
	Port       int    `json:"port" yaml:"port"`
	Tunnel     string `json:"tunnel" yaml:"tunnel"`
	Autoupdate int    `json:"autoupdate" yaml:"autoupdate"`
}

// PollInterval returns the autoupdate interval of the workload.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Autoupdate) * time.Second
}

// BackoffDelay returns how long to wait before retrying a failed
// iteration.
func (c *Config) BackoffDelay() time.Duration {
	return time.Duration(c.Backoff) * time.Second
}

// Fingerprint returns a stable rendering of the workload configuration,
// suitable for detecting changes that need a restart.  The server and
// internet check settings are only read at startup, so they are left out.
func (c *Config) Fingerprint() string {
	w := *c
	w.Server = ServerConfig{}
	w.InternetCheck = false
	// Map keys are sorted by encoding/json, which makes this stable.
	b, _ := json.Marshal(&w)
	return string(b)
}

func (c *Config) applyDefaults() error {
	if c.SourceDir == "" {
		c.SourceDir = DefaultSourceDir
	}
	abs, e := filepath.Abs(c.SourceDir)
	if e != nil {
		return fmt.Errorf("resolving source_dir: %w", e)
	}
	c.SourceDir = abs
	if c.Env == nil {
		c.Env = map[string]string{}
	}
	if c.Autoupdate <= 0 {
		c.Autoupdate = DefaultAutoupdate
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.Limit == 0 {
		c.Limit = DefaultLimit
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.Autoupdate <= 0 {
		c.Server.Autoupdate = DefaultAutoupdate
	}
	return nil
}

// Parse decodes a configuration.  The format is chosen by the file name
// extension: .yaml and .yml are YAML, anything else is JSON, which may
// contain comments and trailing commas.
func Parse(name string, data []byte) (*Config, error) {
	c := &Config{}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if e := yaml.Unmarshal(data, c); e != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, e)
		}
	default:
		if e := json.Unmarshal(jsonc.ToJSON(data), c); e != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, e)
		}
	}
	if e := c.applyDefaults(); e != nil {
		return nil, e
	}
	return c, nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, e := os.ReadFile(path)
	if e != nil {
		return nil, fmt.Errorf("reading config: %w", e)
	}
	return Parse(path, data)
}
