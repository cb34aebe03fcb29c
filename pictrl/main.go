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

// Command pictrl is a client for the administrative interface of
// pictrld.  It uses subcommands.
//
// The flags are
//
//	-a <address>	- server address, default is http://127.0.0.1:80
//	-k <key>	- admin key, default is $PICTRL_KEY
//	-s <duration>	- how far back logs go, default 24h
//
// Subcommands are
//
//	status              - show both groups and their processes
//	info                - show the host name and addresses
//	logs [<ns> ...]     - print logs, optionally limited to namespaces
//	tail <group>        - follow the log of supervisor or active
//	restart             - restart the workload
//	reboot              - reboot the host
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/spf13/pflag"

	"github.com/pictrl/pictrl/rest"
)

var addr = "http://127.0.0.1:80"
var key = os.Getenv("PICTRL_KEY")
var since = 24 * time.Hour

func usage() {
	log.Fatalf("Usage: %s [-a <address>] [-k <key>] [-s <duration>] <subcommand>",
		os.Args[0])
}

func state(p rest.ProcessInfo) string {
	if !p.Exited {
		return "running"
	}
	return fmt.Sprintf("exit %d", p.ExitCode)
}

func showGroup(g rest.GroupInfo) {
	running := "stopped"
	if g.Running {
		running = "running"
	}
	fmt.Printf("%s: %s\n", g.Name, running)

	procs := g.Processes
	sort.Slice(procs, func(i, j int) bool {
		// running processes in front, then by id
		if procs[i].Exited != procs[j].Exited {
			return !procs[i].Exited
		}
		return procs[i].ID < procs[j].ID
	})
	for _, p := range procs {
		d := time.Since(p.Started)
		// for printing second resolution is sufficient
		d -= d % time.Second
		fmt.Printf("%6d %7d %-10s %10s %-20s %s\n", p.ID, p.Pid,
			state(p), d.String(), p.Namespace, p.Command)
	}
}

func tail(client *rest.Client, group string) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	var last int64
	for {
		li, e := client.WatchLog(ctx, group, last)
		if e != nil {
			if ctx.Err() != nil {
				return
			}
			log.Fatalf("Failed: %v", e)
		}
		for _, r := range li.Records {
			fmt.Println(rest.FormatLine(r))
		}
		last = li.Serial
	}
}

func main() {
	pflag.StringVarP(&addr, "address", "a", addr, "pictrld address")
	pflag.StringVarP(&key, "key", "k", key, "admin key")
	pflag.DurationVarP(&since, "since", "s", since, "how far back logs go")
	pflag.Parse()

	args := pflag.Args()
	if len(args) == 0 {
		usage()
	}

	client := rest.NewClient(nil, addr)
	if e := client.Login(key); e != nil {
		log.Fatalf("Login failed: %v", e)
	}

	switch args[0] {
	case "status":
		if len(args) != 1 {
			usage()
		}
		st, e := client.Status()
		if e != nil {
			log.Fatalf("Failed: %v", e)
		}
		for _, g := range st.Groups {
			showGroup(g)
		}
		if !st.LogsSince.IsZero() {
			fmt.Printf("Logging since %s\n", st.LogsSince.Local().Format(time.RFC1123))
		}

	case "info":
		if len(args) != 1 {
			usage()
		}
		info, e := client.Info()
		if e != nil {
			log.Fatalf("Failed: %v", e)
		}
		fmt.Printf("Host:      %s\n", info["hostname"])
		fmt.Printf("Addresses: %s\n", info["ip_address"])

	case "logs":
		s, e := client.Logs(time.Now().Add(-since), time.Time{}, args[1:])
		if e != nil {
			log.Fatalf("Failed: %v", e)
		}
		fmt.Println(s)

	case "tail":
		if len(args) != 2 {
			usage()
		}
		tail(client, args[1])

	case "restart", "reboot":
		if len(args) != 1 {
			usage()
		}
		var msg string
		var e error
		if args[0] == "restart" {
			msg, e = client.Restart()
		} else {
			msg, e = client.Reboot()
		}
		if e != nil {
			log.Fatalf("Failed: %v", e)
		}
		fmt.Println(msg)

	default:
		usage()
	}
}
