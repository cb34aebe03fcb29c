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
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/pictrl/pictrl"
	"github.com/pictrl/pictrl/config"
)

const configSettle = 500 * time.Millisecond

// ConfigWatcher restarts the active workload whenever the configuration
// file changes to something different from what the workload was started
// with.  The loop then picks up the new file on its next iteration.
type ConfigWatcher struct {
	Path    string
	Group   *pictrl.Group
	Current func() *config.Config
	Restart func()
	Logger  *zap.Logger
}

// Start begins watching.  It stops when Group stops.
func (w *ConfigWatcher) Start() error {
	if w.Logger == nil {
		w.Logger = zap.NewNop()
	}
	path, e := filepath.Abs(w.Path)
	if e != nil {
		return e
	}
	w.Path = path
	fw, e := fsnotify.NewWatcher()
	if e != nil {
		return fmt.Errorf("watching config: %w", e)
	}
	// Watch the directory, as editors often replace the file.
	if e = fw.Add(filepath.Dir(path)); e != nil {
		fw.Close()
		return fmt.Errorf("watching config: %w", e)
	}
	go w.run(fw)
	return nil
}

func (w *ConfigWatcher) run(fw *fsnotify.Watcher) {
	defer fw.Close()
	done := w.Group.Done()
	settle := time.NewTimer(configSettle)
	settle.Stop()
	defer settle.Stop()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.Path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				settle.Reset(configSettle)
			}
		case e, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.Logger.Warn("config watch error", zap.Error(e))
		case <-settle.C:
			w.check()
		}
	}
}

func (w *ConfigWatcher) check() {
	cfg, e := config.Load(w.Path)
	if e != nil {
		// The loop will report it when it next loads the file.
		w.Logger.Warn("changed config unreadable", zap.String("path", w.Path), zap.Error(e))
		return
	}
	cur := w.Current()
	if cur == nil || cur.Fingerprint() == cfg.Fingerprint() {
		return
	}
	w.Group.Out(Namespace, "Configuration changed, restarting")
	w.Restart()
}
