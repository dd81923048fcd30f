package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rexliu/webshell/pkg/appinfo"
	"github.com/rexliu/webshell/pkg/bridge"
	"github.com/rexliu/webshell/pkg/config"
	"github.com/rexliu/webshell/pkg/imaging"
	"github.com/rexliu/webshell/pkg/storage/sqlite"
	"github.com/rexliu/webshell/pkg/transport"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	commands := map[string]func([]string) error{
		"init":   initCommand,
		"invoke": invokeCommand,
		"info":   infoCommand,
		"clip":   clipCommand,
		"echo":   echoCommand,
		"log":    logCommand,
		"mask":   maskCommand,
		"diag":   diagCommand,
		"logs":   logsCommand,
		"calls":  callsCommand,
	}
	name := os.Args[1]
	if name == "version" {
		wd, _ := os.Getwd()
		info := appinfo.Resolver{WorkDir: wd}.Resolve(context.Background())
		fmt.Printf("%s %s\n", info.Name, info.Version)
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", name)
		usage()
		os.Exit(1)
	}
	if err := cmd(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s error: %v\n", name, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: webshell <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  init      Initialize a local profile (writes config.toml)")
	fmt.Println("  invoke    Call any bridge method: invoke <method> [json params]")
	fmt.Println("  info      Print app.getInfo")
	fmt.Println("  clip get|set [text]   Read or write the host clipboard")
	fmt.Println("  echo      Call ai.echo")
	fmt.Println("  log       Forward a log line through app.log")
	fmt.Println("  mask      Extract an object mask from an image file")
	fmt.Println("  diag      Print profile configuration paths")
	fmt.Println("  logs      Show recent web log entries from the journal")
	fmt.Println("  calls     Show recent dispatched calls from the journal")
	fmt.Println("  version   Print CLI version")
}

func initCommand(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	profilePath := fs.String("profile", "./_dev_profile", "Profile directory")
	name := fs.String("name", "dev", "Profile name")
	force := fs.Bool("force", false, "Overwrite existing config if present")
	_ = fs.Parse(args)
	if err := os.MkdirAll(*profilePath, 0o700); err != nil {
		return err
	}
	configPath := filepath.Join(*profilePath, config.FileName)
	if _, err := os.Stat(configPath); err == nil && !*force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
	}
	cfg := config.DefaultProfile(*name)
	if err := config.Save(configPath, cfg); err != nil {
		return err
	}
	fmt.Printf("initialized profile %s at %s\n", cfg.ProfileName, *profilePath)
	return nil
}

// connFlags are shared by every command that talks to the host.
type connFlags struct {
	profile *string
	socket  *string
	timeout *time.Duration
}

func addConnFlags(fs *flag.FlagSet) connFlags {
	return connFlags{
		profile: fs.String("profile", "./_dev_profile", "Profile directory"),
		socket:  fs.String("socket", "", "Override socket path"),
		timeout: fs.Duration("timeout", 0, "Per-call timeout (default from config)"),
	}
}

// call performs one bridge invocation and decodes the result into out.
func (f connFlags) call(method string, params, out any) error {
	ctx := context.Background()
	client, err := f.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	var raw json.RawMessage
	if err := client.InvokeInto(ctx, method, params, &raw); err != nil {
		return err
	}
	if out == nil {
		return printJSON(raw)
	}
	return json.Unmarshal(raw, out)
}

func (f connFlags) connect(ctx context.Context) (*bridge.Client, error) {
	timeout := *f.timeout
	cfg, cfgErr := config.LoadProfile(*f.profile)
	if timeout <= 0 && cfgErr == nil && cfg.Bridge.DefaultTimeoutMs > 0 {
		timeout = time.Duration(cfg.Bridge.DefaultTimeoutMs) * time.Millisecond
	}
	open := func(ctx context.Context) (bridge.Transport, error) {
		switch {
		case *f.socket != "":
			return transport.Dial(ctx, *f.socket)
		case os.Getenv(transport.EnvSocket) != "":
			return transport.Endpoint(ctx)
		case cfgErr == nil:
			return transport.Dial(ctx, config.ResolvePath(*f.profile, cfg.Bridge.SocketPath))
		case errors.Is(cfgErr, os.ErrNotExist):
			return nil, fmt.Errorf("%w: config not found in %s (run 'webshell init --profile %s')", transport.ErrHostMissing, *f.profile, *f.profile)
		default:
			return nil, fmt.Errorf("load config: %w", cfgErr)
		}
	}
	var opts []bridge.ClientOption
	if timeout > 0 {
		opts = append(opts, bridge.WithDefaultTimeout(timeout))
	}
	return bridge.Connect(ctx, open, opts...)
}

func printJSON(raw json.RawMessage) error {
	if len(raw) == 0 {
		fmt.Println("null")
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func invokeCommand(args []string) error {
	fs := flag.NewFlagSet("invoke", flag.ExitOnError)
	conn := addConnFlags(fs)
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: webshell invoke <method> [json params | -]")
	}
	var params any
	if fs.NArg() > 1 {
		src := []byte(fs.Arg(1))
		if fs.Arg(1) == "-" {
			var err error
			if src, err = io.ReadAll(os.Stdin); err != nil {
				return err
			}
		}
		if !json.Valid(src) {
			return fmt.Errorf("params are not valid JSON")
		}
		params = json.RawMessage(src)
	}
	return conn.call(fs.Arg(0), params, nil)
}

func infoCommand(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	conn := addConnFlags(fs)
	_ = fs.Parse(args)
	var info appinfo.Info
	if err := conn.call(bridge.MethodAppGetInfo, nil, &info); err != nil {
		return err
	}
	fmt.Printf("%s %s (packaged=%t)\n", info.Name, info.Version, info.Packaged)
	return nil
}

func clipCommand(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: webshell clip <get|set> [options]")
	}
	fs := flag.NewFlagSet("clip "+args[0], flag.ExitOnError)
	conn := addConnFlags(fs)
	_ = fs.Parse(args[1:])
	switch args[0] {
	case "get":
		var out struct {
			Text string `json:"text"`
		}
		if err := conn.call(bridge.MethodClipboardGetText, nil, &out); err != nil {
			return err
		}
		fmt.Println(out.Text)
		return nil
	case "set":
		text := strings.Join(fs.Args(), " ")
		return conn.call(bridge.MethodClipboardSetText, map[string]string{"text": text}, nil)
	default:
		return fmt.Errorf("unknown clip subcommand %q", args[0])
	}
}

func echoCommand(args []string) error {
	fs := flag.NewFlagSet("echo", flag.ExitOnError)
	conn := addConnFlags(fs)
	_ = fs.Parse(args)
	var out struct {
		Text string `json:"text"`
	}
	if err := conn.call(bridge.MethodAIEcho, map[string]string{"text": strings.Join(fs.Args(), " ")}, &out); err != nil {
		return err
	}
	fmt.Println(out.Text)
	return nil
}

func logCommand(args []string) error {
	fs := flag.NewFlagSet("log", flag.ExitOnError)
	conn := addConnFlags(fs)
	level := fs.String("level", "info", "Log level (info, warn, error)")
	meta := fs.String("meta", "", "JSON metadata attached to the entry")
	_ = fs.Parse(args)
	params := map[string]any{"level": *level, "message": strings.Join(fs.Args(), " ")}
	if *meta != "" {
		if !json.Valid([]byte(*meta)) {
			return fmt.Errorf("--meta is not valid JSON")
		}
		params["meta"] = json.RawMessage(*meta)
	}
	return conn.call(bridge.MethodAppLog, params, nil)
}

// pointList collects repeated x,y flags.
type pointList []map[string]int

func (p *pointList) String() string { return fmt.Sprint(*p) }

func (p *pointList) Set(s string) error {
	var x, y int
	if _, err := fmt.Sscanf(s, "%d,%d", &x, &y); err != nil {
		return fmt.Errorf("point %q: want x,y", s)
	}
	*p = append(*p, map[string]int{"x": x, "y": y})
	return nil
}

func maskCommand(args []string) error {
	fs := flag.NewFlagSet("mask", flag.ExitOnError)
	conn := addConnFlags(fs)
	in := fs.String("in", "", "Input image (png, jpeg or gif)")
	out := fs.String("out", "mask.png", "Output mask path")
	var include, exclude pointList
	fs.Var(&include, "include", "Foreground point x,y (repeatable)")
	fs.Var(&exclude, "exclude", "Background point x,y (repeatable)")
	_ = fs.Parse(args)
	if *in == "" {
		return fmt.Errorf("--in is required")
	}
	data, err := os.ReadFile(*in)
	if err != nil {
		return err
	}
	params := map[string]any{"imageBase64": base64.StdEncoding.EncodeToString(data)}
	if len(include) > 0 {
		params["includePoints"] = include
	}
	if len(exclude) > 0 {
		params["excludePoints"] = exclude
	}
	var result struct {
		MaskBase64 *string `json:"maskBase64"`
	}
	if err := conn.call(bridge.MethodAIRemoveBackground, params, &result); err != nil {
		return err
	}
	if result.MaskBase64 == nil {
		return fmt.Errorf("host extractor unavailable")
	}
	mask, err := imaging.DecodeBase64(*result.MaskBase64, imaging.Limits{})
	if err != nil {
		return err
	}
	payload := *result.MaskBase64
	if i := strings.IndexByte(payload, ','); i >= 0 {
		payload = payload[i+1:]
	}
	png, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, png, 0o644); err != nil {
		return err
	}
	fmt.Printf("mask written to %s (%dx%d)\n", *out, mask.Bounds().Dx(), mask.Bounds().Dy())
	return nil
}

func diagCommand(args []string) error {
	fs := flag.NewFlagSet("diag", flag.ExitOnError)
	profile := fs.String("profile", "./_dev_profile", "Profile directory")
	_ = fs.Parse(args)
	cfg, err := config.LoadProfile(*profile)
	if err != nil {
		return err
	}
	fmt.Printf("Profile: %s\n", cfg.ProfileName)
	fmt.Printf("Config: %s\n", filepath.Join(*profile, config.FileName))
	fmt.Printf("DB Path: %s\n", config.ResolvePath(*profile, cfg.Storage.DBPath))
	fmt.Printf("Socket: %s\n", config.ResolvePath(*profile, cfg.Bridge.SocketPath))
	fmt.Printf("Web Content: %s\n", config.ResolvePath(*profile, cfg.Web.ContentDir))
	if dev := cfg.DevURL(); dev != "" {
		fmt.Printf("Navigation: %s (dev)\n", dev)
	} else {
		fmt.Printf("Navigation: http://%s/index.html\n", cfg.Web.ListenAddr)
	}
	if cfg.Logging.FilePath != "" {
		fmt.Printf("Log File: %s\n", config.ResolvePath(*profile, cfg.Logging.FilePath))
	}
	fmt.Printf("Clipboard: %s\n", cfg.Clipboard.Backend)
	fmt.Printf("Tracing: enabled=%t\n", cfg.Tracing.Enabled)
	return nil
}

func openJournal(ctx context.Context, profile string) (*sqlite.Store, error) {
	cfg, err := config.LoadProfile(profile)
	if err != nil {
		return nil, err
	}
	store, err := sqlite.OpenWithOptions(config.ResolvePath(profile, cfg.Storage.DBPath), sqlite.Options{
		JournalMode: cfg.Storage.JournalMode,
		Synchronous: cfg.Storage.Synchronous,
	})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func logsCommand(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	profile := fs.String("profile", "./_dev_profile", "Profile directory")
	limit := fs.Int("n", 20, "Number of entries")
	_ = fs.Parse(args)
	ctx := context.Background()
	store, err := openJournal(ctx, *profile)
	if err != nil {
		return err
	}
	defer store.Close()
	entries, err := store.RecentLogs(ctx, *limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		ts := time.UnixMilli(e.CreatedAt).Format(time.RFC3339)
		if e.Meta != "" {
			fmt.Printf("%s %-5s %s meta=%s\n", ts, e.Level, e.Message, e.Meta)
		} else {
			fmt.Printf("%s %-5s %s\n", ts, e.Level, e.Message)
		}
	}
	return nil
}

func callsCommand(args []string) error {
	fs := flag.NewFlagSet("calls", flag.ExitOnError)
	profile := fs.String("profile", "./_dev_profile", "Profile directory")
	limit := fs.Int("n", 20, "Number of entries")
	_ = fs.Parse(args)
	ctx := context.Background()
	store, err := openJournal(ctx, *profile)
	if err != nil {
		return err
	}
	defer store.Close()
	entries, err := store.RecentCalls(ctx, *limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		status := "ok"
		if e.Code != "" {
			status = e.Code
		}
		ts := time.UnixMilli(e.CreatedAt).Format(time.RFC3339)
		fmt.Printf("%s %-22s %-24s %s (%dµs)\n", ts, e.Method, status, e.RequestID, e.DurationUs)
	}
	return nil
}
