// Onering: collateralized issuance and redemption ledger.
//
// The onering binary drives the ledger from the command line: it runs the
// issuance/redemption walkthrough, inspects stored records, reads the
// transaction journal, manages state snapshots and serves the ledger over
// JSON-RPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fortiblox/X1-Onering/internal/config"
	"github.com/fortiblox/X1-Onering/internal/logging"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Global flags. Set flags override the loaded configuration.
var (
	dataDir     = flag.String("data-dir", "", "Data directory for accounts, journal and snapshots")
	backend     = flag.String("backend", "", "Account store: memory or badger")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
	logFormat   = flag.String("log-format", "", "Log format: text or json")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, app *app, args []string) error

	// remote commands talk to a running server and never open the local store.
	remote bool
}

var commands = []command{
	{name: "demo", usage: "run the issuance and redemption walkthrough", run: runDemo},
	{name: "inspect", usage: "print stored ledger records and token balances", run: runInspect},
	{name: "history", usage: "print journaled transactions, optionally for one address", run: runHistory},
	{name: "prune", usage: "drop old journal records", run: runPrune},
	{name: "snapshot", usage: "export, import, verify or list state snapshots", run: runSnapshot},
	{name: "serve", usage: "serve the ledger over JSON-RPC until interrupted", run: runServe},
	{name: "status", usage: "query a running server, optionally describing addresses", run: runStatus, remote: true},
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: onering [flags] <command> [args]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(out, "  %-10s %s\n", c.name, c.usage)
	}
	fmt.Fprintf(out, "\nFlags:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("onering %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg)

	logger, closeLog, err := logging.New("onering", cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	// Create context with cancellation on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, cfg, logger, flag.Args()); err != nil {
		logger.Error("command failed", "command", flag.Arg(0), "error", err)
		stop()
		closeLog()
		os.Exit(1)
	}
}

func applyFlags(cfg *config.Config) {
	if *dataDir != "" {
		cfg.DataDir = *dataDir
		cfg.AccountsPath = filepath.Join(cfg.DataDir, "accounts")
		cfg.JournalPath = filepath.Join(cfg.DataDir, "journal.db")
		cfg.SnapshotDir = filepath.Join(cfg.DataDir, "snapshots")
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
}

var errUnknownCommand = errors.New("unknown command")

func dispatch(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		if c.remote {
			return c.run(ctx, &app{cfg: cfg, logger: logger.With("command", c.name)}, args[1:])
		}
		a, err := openApp(cfg, logger.With("command", c.name))
		if err != nil {
			return err
		}
		defer a.Close()
		return c.run(ctx, a, args[1:])
	}
	usage()
	return fmt.Errorf("%w: %s", errUnknownCommand, args[0])
}
