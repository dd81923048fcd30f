package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/rexliu/webshell/pkg/host"
	"github.com/rexliu/webshell/pkg/shell"
	"github.com/rexliu/webshell/pkg/transport"
)

const lockName = "webshelld.lock"

type options struct {
	profile string
	socket  string
	listen  string
	noHTTP  bool
}

func main() {
	var opts options
	flag.StringVar(&opts.profile, "profile", "./_dev_profile", "Path to profile directory")
	flag.StringVar(&opts.socket, "socket", "", "Override bridge socket path (optional)")
	flag.StringVar(&opts.listen, "listen", "", "Override HTTP listen address (optional)")
	flag.BoolVar(&opts.noHTTP, "no-http", false, "Serve the bridge socket only")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "webshelld: fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	if err := os.MkdirAll(opts.profile, 0o700); err != nil {
		return err
	}
	lock := flock.New(filepath.Join(opts.profile, lockName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock profile: %w", err)
	}
	if !locked {
		return errors.New("another webshelld is running for this profile")
	}
	defer lock.Unlock()

	wd, _ := os.Getwd()
	sh, err := shell.Open(ctx, opts.profile, shell.Options{Prefix: "webshelld", WorkDir: wd})
	if err != nil {
		return err
	}
	defer sh.Close()
	logger := sh.Logger

	socketPath := opts.socket
	if socketPath == "" {
		socketPath = sh.SocketPath()
	}
	srv := host.NewServer(sh.Router, logger)
	if err := srv.Start(ctx, socketPath); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}
	defer srv.Stop()

	// Front-ends launched from this process find the host through the environment.
	if err := os.Setenv(transport.EnvSocket, socketPath); err != nil {
		return err
	}
	logger.Infof("daemon ready; socket at %s", socketPath)
	logger.Infof("navigation target %s", sh.NavigationTarget())

	g, gctx := errgroup.WithContext(ctx)
	if !opts.noHTTP {
		addr := opts.listen
		if addr == "" {
			addr = sh.Config.Web.ListenAddr
		}
		handler := host.NewHTTPHandler(sh.Router, sh.ContentDir())
		g.Go(func() error {
			return host.ListenAndServe(gctx, addr, handler, logger)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Infof("shutting down")
		return nil
	})
	return g.Wait()
}
