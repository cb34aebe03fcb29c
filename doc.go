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

// Package pictrl supervises the processes of a single deployed workload.
//
// A Group owns a set of child processes started through the platform shell.
// Their standard output and standard error are read concurrently, a line at
// a time, into three bounded logs per group: one per stream, plus a
// combined log that also carries informational lines written with Out.
// Lines are tagged with the id of the process that produced them, so the
// output of one command can be retrieved after the fact.
//
// Run executes a command to completion and fails on a nonzero exit status
// or when a timeout is exceeded.  RunAsync starts a command in the
// background; commands started with the Block option are waited for by
// Wait.  Kill terminates every process in the group together with all of
// their descendants, and is the only way to cancel work in a group.
//
// A Watcher polls a git checkout and, once the remote head moves, invokes a
// restart callback and kills its group.  Together with a Slot holding the
// currently active group, this allows a change to the supervisor's own
// code to tear down the workload it is running as well.
package pictrl
