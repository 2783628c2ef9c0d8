package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pushhq/pushd/internal/version"
)

func signalCancelContext() (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(context.Background())
	sigCh := make(chan os.Signal, 1)
	stopCh := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-sigCh:
				cancel(fmt.Errorf("stopped by signal %s", sig.String()))
			case <-stopCh:
				return
			}
		}
	}()
	cleanup := func() {
		signal.Stop(sigCh)
		close(stopCh)
		cancel(nil)
	}
	return ctx, cleanup
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--version", "-v", "version":
		fmt.Printf("pushd %s\n", version.Version)
		os.Exit(0)
	case "daemon":
		daemonMain(os.Args[2:])
	case "start":
		startCmd(os.Args[2:])
	case "stop":
		stopCmd(os.Args[2:])
	case "status":
		statusCmd(os.Args[2:])
	case "auth":
		authCmd(os.Args[2:])
	case "register":
		registerCmd(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  pushd --version")
	fmt.Fprintln(os.Stderr, "  pushd start [--config-dir <dir>] [--state-dir <dir>]")
	fmt.Fprintln(os.Stderr, "  pushd stop [--state-dir <dir>] [--grace-ms <ms>] [--force]")
	fmt.Fprintln(os.Stderr, "  pushd status [--state-dir <dir>] [--json] [--watch] [--interval <sec>]")
	fmt.Fprintln(os.Stderr, "  pushd auth <api-key> [--config-dir <dir>]")
	fmt.Fprintln(os.Stderr, "  pushd register <repo-url> <local-path> [--config-dir <dir>]")
}
