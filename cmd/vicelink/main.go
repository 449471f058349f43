// Package main is the entry point for the vicelink tool server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vicelink/vicelink/internal/config"
	"github.com/vicelink/vicelink/internal/monitor"
	"github.com/vicelink/vicelink/internal/script"
	"github.com/vicelink/vicelink/internal/tools"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	configPath string
	host       string
	port       int
	protocol   string
	connect    bool
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	// Everything diagnostic goes to stderr; stdout carries the protocol.
	log.SetOutput(os.Stderr)
	log.SetPrefix("vicelink: ")
	log.SetFlags(0)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if opts.host != "" {
		cfg.Monitor.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Monitor.Port = opts.port
	}
	if opts.protocol != "" {
		cfg.Monitor.Protocol = opts.protocol
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	dialect, ok := monitor.DialectByName(cfg.Monitor.Protocol)
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: unknown protocol %q\n", cfg.Monitor.Protocol)
		return 1
	}

	client := monitor.NewClient(dialect,
		monitor.WithConnectTimeout(cfg.Monitor.ConnectTimeout()),
		monitor.WithRequestTimeout(cfg.Monitor.RequestTimeout()),
	)
	defer client.Disconnect()

	var scripts tools.Scripter
	if cfg.Script.Enabled {
		engine := script.NewEngine(client, cfg.Script.Timeout())
		defer engine.Close()
		scripts = engine
	}

	if opts.connect {
		if err := client.Connect(cfg.Monitor.Host, cfg.Monitor.Port); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	server := tools.NewServer(tools.Options{
		Name:     cfg.Server.Name,
		Version:  version,
		Host:     cfg.Monitor.Host,
		Port:     cfg.Monitor.Port,
		Emulator: client,
		Scripts:  scripts,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func parseFlags() options {
	var opts options
	var showVersion bool
	var showHelp bool

	flag.StringVar(&opts.configPath, "config", "vicelink.toml", "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", "vicelink.toml", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.host, "host", "", "Emulator monitor host (overrides config)")
	flag.IntVar(&opts.port, "port", 0, "Emulator monitor port (overrides config)")
	flag.IntVar(&opts.port, "p", 0, "Emulator monitor port (shorthand)")
	flag.StringVar(&opts.protocol, "protocol", "", "Protocol generation: classic, v1 or v2 (overrides config)")
	flag.BoolVar(&opts.connect, "connect", false, "Connect to the emulator at startup")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "vicelink - C64 emulator debug bridge\n\n")
		fmt.Fprintf(os.Stderr, "Usage: vicelink [options]\n\n")
		fmt.Fprintf(os.Stderr, "Speaks newline-delimited JSON-RPC on stdio and the binary monitor\n")
		fmt.Fprintf(os.Stderr, "protocol to the emulator.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  vicelink                        Serve tools, connect on demand\n")
		fmt.Fprintf(os.Stderr, "  vicelink -connect               Connect to the emulator at startup\n")
		fmt.Fprintf(os.Stderr, "  vicelink -host 10.0.0.5 -port 29700 -protocol classic\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("vicelink %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	return opts
}
