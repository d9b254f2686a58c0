// Command graft is the reference CLI for the storage engine this module
// implements: it serves a metastore or pagestore node, and drives a
// single local Volume through open/read/write/sync, entirely as a thin
// wrapper over the client and server packages underneath (spec §6's
// "CLI surface (tools, out of core)").
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/graft-sh/graft/cmn/nlog"
	"github.com/graft-sh/graft/gerrs"
)

const usage = `graft: a page-granular storage engine node and client tool

Usage:
  graft serve metastore [flags]
  graft serve pagestore [flags]
  graft volume open  [flags]
  graft volume read  [flags]
  graft volume write [flags]
  graft volume sync  [flags]
  graft token keygen [flags]
  graft token issue  [flags]

Run 'graft <command> <subcommand> -h' for flag details on any of the above.
`

func main() {
	os.Exit(run(os.Args[1:]))
}

// run dispatches to the matching subcommand and returns spec §6's exit
// code: 0 success, 1 user error (bad flags, invalid request), 2 internal
// error (storage, network, corruption).
func run(args []string) int {
	if len(args) == 0 || strings.Contains(args[0], "help") || args[0] == "-h" {
		fmt.Fprint(os.Stderr, usage)
		return 0
	}

	installSignalHandler()

	switch args[0] {
	case "serve":
		return dispatchServe(args[1:])
	case "volume":
		return dispatchVolume(args[1:])
	case "token":
		return dispatchToken(args[1:])
	case "version":
		fmt.Println("graft dev")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "graft: unknown command %q\n\n%s", args[0], usage)
		return 1
	}
}

func installSignalHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		nlog.Infof("graft: received signal, shutting down")
		os.Exit(0)
	}()
}

// exitCode maps an error returned from a subcommand body to spec §6's
// three-way exit status. A nil error is never passed here; callers check
// that separately.
func exitCode(err error) int {
	k := gerrs.KindOf(err)
	switch k {
	case gerrs.KindInvalidRequest, gerrs.KindNotFound, gerrs.KindSnapshotMissing,
		gerrs.KindRejectedCommit, gerrs.KindConcurrentWrite, gerrs.KindPendingRecovery,
		gerrs.KindUnauthorized:
		return 1
	default:
		return 2
	}
}

func fail(format string, args ...any) int {
	fmt.Fprintf(os.Stderr, "graft: "+format+"\n", args...)
	return 1
}

func failErr(context string, err error) int {
	fmt.Fprintf(os.Stderr, "graft: %s: %v\n", context, err)
	return exitCode(err)
}

// backgroundWithCancel is a small convenience so subcommands that spin up
// a goroutine (sync engine, server) share one cancellation idiom.
func backgroundWithCancel() (context.Context, context.CancelFunc) {
	return context.WithCancel(context.Background())
}
