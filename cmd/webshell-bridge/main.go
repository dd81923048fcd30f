// Command webshell-bridge is a native-messaging host: it serves the bridge
// over stdin/stdout using 4-byte little-endian length-prefixed frames.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rexliu/webshell/pkg/host"
	"github.com/rexliu/webshell/pkg/shell"
	"github.com/rexliu/webshell/pkg/transport"
)

func main() {
	profile := flag.String("profile", "./_dev_profile", "Path to profile directory")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *profile); err != nil {
		fmt.Fprintf(os.Stderr, "bridge exiting: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, profile string) error {
	// stdout carries frames; everything else goes to stderr.
	sh, err := shell.Open(ctx, profile, shell.Options{
		Prefix:      "webshell-bridge",
		LogWriter:   os.Stderr,
		TraceWriter: os.Stderr,
	})
	if err != nil {
		return err
	}
	defer sh.Close()

	srv := host.NewServer(sh.Router, sh.Logger)
	sess := srv.Serve(ctx, transport.NewStream(os.Stdin, os.Stdout, os.Stdin))
	select {
	case <-sess.Done():
		sh.Logger.Infof("stdin closed")
	case <-ctx.Done():
	}
	return srv.Stop()
}
