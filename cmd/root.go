// Package cmd wires up the CLI flags and dispatches to the chat core.
package cmd

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"chatd/config"
	"chatd/internal/core"
	"chatd/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X chatd/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// invocation is the outcome of parsing a command line.
type invocation struct {
	cfg         *config.Config
	fs          *flag.FlagSet
	showHelp    bool
	showVersion bool
	dryRun      bool
}

// Execute parses args and runs the server or the join client.
func Execute(ctx context.Context, args []string) error {
	inv, err := parse(args)
	if err != nil {
		return err
	}

	if inv.showHelp {
		printUsage(inv.fs)
		return nil
	}
	if inv.showVersion {
		fmt.Printf("chatd %s\n", version)
		return nil
	}

	cfg := inv.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}
	if inv.dryRun {
		printConfig(cfg)
		return nil
	}

	logger := util.NewLogger(cfg.Verbose)
	logger.SetTimestamps(cfg.Timestamps)

	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// parse resolves the effective configuration.  Precedence, highest
// first: flags, CHATD_* environment, the --config file, defaults.
func parse(args []string) (*invocation, error) {
	inv := &invocation{}

	join := false
	if len(args) > 0 {
		switch args[0] {
		case "serve":
			args = args[1:]
		case "join":
			join = true
			args = args[1:]
		}
	}

	// Flags land in a scratch config; only the ones the user set are
	// copied over the file and environment layers.
	flags := config.Default()
	fs := flag.NewFlagSet("chatd", flag.ContinueOnError)
	inv.fs = fs

	// ── server ───────────────────────────────────────────────────
	fs.IntVarP(&flags.Port, "port", "p", flags.Port, "Port to listen on (serve) or dial (join)")
	fs.StringVarP(&flags.BindHost, "bind", "b", flags.BindHost, "Address to bind (default: all interfaces)")
	fs.StringVar(&flags.LogPath, "log", flags.LogPath, "Chat log file (default: temporary)")
	fs.BoolVar(&flags.Truncate, "truncate", flags.Truncate, "Empty an existing chat log instead of replaying it")
	fs.BoolVar(&flags.Sync, "sync", flags.Sync, "fsync the chat log after every message")
	fs.DurationVar(&flags.ReapInterval, "reap-interval", flags.ReapInterval, "How often disconnected sessions are removed")
	fs.DurationVar(&flags.PollInterval, "poll-interval", flags.PollInterval, "Longest delivery delay without an append wake-up")
	fs.DurationVar(&flags.PairTimeout, "pair-timeout", flags.PairTimeout, "Wait for a pair's second connection (0 = forever)")
	fs.DurationVar(&flags.HandshakeTimeout, "handshake-timeout", flags.HandshakeTimeout, "Limit for choosing an ID (0 = none)")
	fs.DurationVar(&flags.GracePeriod, "grace", flags.GracePeriod, "Delay before sessions are closed on shutdown")
	noConsole := fs.Bool("no-console", false, "Do not read server messages from stdin")

	// ── join ─────────────────────────────────────────────────────
	fs.StringVarP(&flags.JoinHost, "host", "H", flags.JoinHost, "Server to join")
	fs.StringVarP(&flags.JoinID, "id", "i", flags.JoinID, "ID to propose (prompted if empty)")
	fs.IntVar(&flags.DialAttempts, "attempts", flags.DialAttempts, "Connection attempts per socket")
	fs.DurationVar(&flags.DialTimeout, "dial-timeout", flags.DialTimeout, "Timeout for each connection attempt")

	// ── general ──────────────────────────────────────────────────
	fs.StringVarP(&flags.ConfigFile, "config", "c", "", "TOML configuration file")
	fs.CountVarP(&flags.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	quiet := fs.BoolP("quiet", "q", false, "Only print errors")
	fs.BoolVar(&flags.Timestamps, "timestamps", false, "Prefix log lines with a timestamp")
	fs.BoolVar(&inv.dryRun, "dry-run", false, "Validate and print the configuration, then exit")
	fs.BoolVar(&inv.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&inv.showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q (use --help for usage)", fs.Arg(0))
	}

	// ── layer ────────────────────────────────────────────────────
	cfg := config.Default()
	if flags.ConfigFile != "" {
		if err := config.LoadFile(cfg, flags.ConfigFile); err != nil {
			return nil, err
		}
		cfg.ConfigFile = flags.ConfigFile
	}
	config.LoadFromEnv(cfg)
	fs.Visit(func(f *flag.Flag) { overlay(cfg, flags, f.Name) })
	if *noConsole {
		cfg.Console = false
	}
	if *quiet {
		cfg.Verbose = int(util.LogQuiet)
	}
	cfg.Join = join

	inv.cfg = cfg
	return inv, nil
}

// overlay copies the field behind flag name from src to dst.
func overlay(dst, src *config.Config, name string) {
	switch name {
	case "port":
		dst.Port = src.Port
	case "bind":
		dst.BindHost = src.BindHost
	case "log":
		dst.LogPath = src.LogPath
	case "truncate":
		dst.Truncate = src.Truncate
	case "sync":
		dst.Sync = src.Sync
	case "reap-interval":
		dst.ReapInterval = src.ReapInterval
	case "poll-interval":
		dst.PollInterval = src.PollInterval
	case "pair-timeout":
		dst.PairTimeout = src.PairTimeout
	case "handshake-timeout":
		dst.HandshakeTimeout = src.HandshakeTimeout
	case "grace":
		dst.GracePeriod = src.GracePeriod
	case "host":
		dst.JoinHost = src.JoinHost
	case "id":
		dst.JoinID = src.JoinID
	case "attempts":
		dst.DialAttempts = src.DialAttempts
	case "dial-timeout":
		dst.DialTimeout = src.DialTimeout
	case "verbose":
		dst.Verbose = src.Verbose
	case "timestamps":
		dst.Timestamps = src.Timestamps
	}
}

// ── output ───────────────────────────────────────────────────────────

func printConfig(cfg *config.Config) {
	if cfg.Join {
		fmt.Printf("mode:       join\nserver:     %s\nid:         %q\nattempts:   %d\n",
			util.FormatAddr(cfg.JoinHost, cfg.Port), cfg.JoinID, cfg.DialAttempts)
		return
	}
	logPath := cfg.LogPath
	if logPath == "" {
		logPath = "(temporary)"
	}
	fmt.Printf("mode:       serve\nlisten:     %s\nlog:        %s (truncate=%v sync=%v)\n"+
		"reap:       %v\npoll:       %v\nconsole:    %v\n",
		cfg.ListenAddress(), logPath, cfg.Truncate, cfg.Sync,
		cfg.ReapInterval, cfg.PollInterval, cfg.Console)
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `chatd – Multi-user TCP chat server v%s

Every participant opens two connections: the first carries its
messages, the second receives the chat.  Messages end with 0x03.

Usage:
  chatd [serve] [options]                     Run the server
  chatd join [options]                        Join a server

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  chatd -p 4040 --log chat.log                Serve, keeping history
  chatd --no-console --handshake-timeout 30s  Run unattended
  chatd join -H chat.example.com -i alice     Join as alice
  CHATD_PORT=5000 chatd -c chatd.toml         Env and file layering
`)
}
