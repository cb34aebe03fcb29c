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

// Command pictrld deploys a git hosted workload and keeps it running.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pictrl/pictrl"
	"github.com/pictrl/pictrl/config"
	"github.com/pictrl/pictrl/logstore"
	"github.com/pictrl/pictrl/rest"
	"github.com/pictrl/pictrl/supervisor"
	"github.com/pictrl/pictrl/tunnel"
)

const (
	snapshotInterval = 15 * time.Second

	// exitUpdated tells the service manager that pictrld itself was
	// updated and should be started again.
	exitUpdated = 3

	serverCredsPath = "./config/pictrl-tunnel-creds.json"
)

var (
	cfgPath = config.DefaultPath
	logDir  = "./logs"
	root    = "."
	backoff = supervisor.DefaultBackoff
	debug   = false
)

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, e := cfg.Build()
	if e != nil {
		fmt.Fprintf(os.Stderr, "cannot create logger: %v\n", e)
		os.Exit(1)
	}
	return logger
}

func startServer(cfg *config.Config, h *supervisor.Handle, logger *zap.Logger) {
	sup := h.Supervisor
	if cfg.Server.Secret == "" {
		sup.Out(supervisor.ServerNamespace, "No secret key found in config, not starting log server")
		return
	}
	handler, e := rest.NewHandler(h, cfg.Server.Key, logger.Named("rest"))
	if e != nil {
		sup.Outf(supervisor.ServerNamespace, "Not starting log server: %v", e)
		return
	}
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	sup.Outf(supervisor.ServerNamespace, "Serving on %s", addr)
	go func() {
		e := rest.Serve(addr, handler)
		sup.Outf(supervisor.ServerNamespace, "Server stopped: %v", e)
	}()
	if cfg.Server.Tunnel != "" {
		go func() {
			if e := tunnel.Start(sup, supervisor.ServerNamespace+".tunnel",
				cfg.Server.Tunnel, cfg.Server.Port, serverCredsPath); e != nil {
				sup.Outf(supervisor.ServerNamespace, "Tunnel failed: %v", e)
			}
		}()
	}
}

func main() {
	pflag.StringVarP(&cfgPath, "config", "c", cfgPath, "configuration file")
	pflag.StringVarP(&logDir, "logs", "l", logDir, "log snapshot directory")
	pflag.StringVarP(&root, "root", "r", root, "checkout of pictrl itself, for self update")
	pflag.DurationVarP(&backoff, "backoff", "b", backoff, "retry delay when the config cannot be loaded")
	pflag.BoolVarP(&debug, "debug", "d", debug, "verbose diagnostics")
	pflag.Parse()

	logger := newLogger(debug)
	defer logger.Sync()

	echo := pictrl.NewMultiLogger(os.Stdout)
	echo.AddWriter(&lumberjack.Logger{
		Filename:   filepath.Join(logDir, "pictrld.log"),
		MaxSize:    10,
		MaxBackups: 5,
		Compress:   true,
	})

	reaper := pictrl.NewReaper(pictrl.NewTreeKiller())
	sup := pictrl.NewGroup(pictrl.GroupConfig{Reaper: reaper, Echo: echo})
	active := &pictrl.Slot{}
	store := logstore.New(logDir, time.Now())
	if e := store.Rotate(); e != nil {
		logger.Warn("rotating log snapshots", zap.Error(e))
	}
	handle := &supervisor.Handle{Supervisor: sup, Active: active, Store: store}

	sup.Out(supervisor.Namespace, "Starting pictrl")

	// Server settings are only read at startup.
	cfg, e := config.Load(cfgPath)
	if e != nil {
		sup.Outf(supervisor.Namespace, "%v", e)
	}

	interval := time.Duration(config.DefaultAutoupdate) * time.Second
	if cfg != nil {
		interval = time.Duration(cfg.Server.Autoupdate) * time.Second
	}
	self := pictrl.NewWatcher("pictrl", sup, root, interval, func() {
		handle.SaveLogs()
		active.Kill()
	})
	if e := self.Start(); e != nil {
		sup.Outf(supervisor.Namespace, "Self update disabled: %v", e)
	}

	go store.Snapshot(snapshotInterval, sup.Done(), handle.Logs, func(e error) {
		logger.Warn("saving log snapshot", zap.Error(e))
	})

	if cfg != nil {
		startServer(cfg, handle, logger)
		if cfg.InternetCheck {
			(&supervisor.InternetCheck{Group: sup, Reboot: handle.Reboot}).Start()
		}
	}

	loop := &supervisor.Loop{
		Supervisor: sup,
		Active:     active,
		Reaper:     reaper,
		Backoff:    backoff,
		Load: func() (*config.Config, error) {
			return config.Load(cfgPath)
		},
	}
	cw := &supervisor.ConfigWatcher{
		Path:    cfgPath,
		Group:   sup,
		Current: loop.Current,
		Restart: func() { handle.Restart() },
		Logger:  logger.Named("config"),
	}
	if e := cw.Start(); e != nil {
		logger.Warn("config changes will not restart the workload", zap.Error(e))
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	e = loop.Run(ctx)
	sup.Out(supervisor.Namespace, "Shutting down")
	handle.SaveLogs()
	sup.Kill()
	reaper.KillAll()

	switch {
	case self.Diverged():
		logger.Info("exiting for self update")
		logger.Sync()
		os.Exit(exitUpdated)
	case errors.Is(e, pictrl.ErrUnsupportedConfig):
		logger.Sync()
		os.Exit(1)
	}
}
