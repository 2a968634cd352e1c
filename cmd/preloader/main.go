// Command preloader forwards a command line to the resident preloader
// daemon over loopback TCP, relays the remote command's standard streams,
// and exits with the remote exit code.
//
// Invoked under its own name it takes an optional port flag:
//
//	preloader [-p <port>] <program> <args...>
//
// Installed under any other name (symlink or rename), the whole invocation
// including the name itself becomes the remote command, so a symlink named
// gcc runs gcc on the daemon.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/urfave/cli/v2"
	"github.com/warmexec/preloader/client"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	canonicalName = "preloader"
	maxPort       = 65535
)

// invokedAsAlias reports whether the binary was started under a different
// name, in which case argv as a whole is the remote command.
func invokedAsAlias(arg0 string) bool {
	return filepath.Base(arg0) != canonicalName
}

func main() {
	if invokedAsAlias(os.Args[0]) {
		os.Exit(run(client.DefaultPort, os.Args, false))
	}

	app := &cli.App{
		Name:            canonicalName,
		Usage:           "run a command on the resident preloader daemon",
		ArgsUsage:       "<program> <args...>",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "daemon control port; the stream ports are the three above it",
				Value:   strconv.Itoa(client.DefaultPort),
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Action: func(ctx *cli.Context) error {
			port, err := parsePort(ctx.String("port"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("%s: %v", canonicalName, err), 1)
			}
			if ctx.Args().Len() == 0 {
				cli.ShowAppHelp(ctx)
				return cli.Exit("", 1)
			}
			return cli.Exit("", run(port, ctx.Args().Slice(), ctx.Bool("verbose")))
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// parsePort validates a base-10 TCP port. No connection is attempted for a
// bad port.
func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil || p < 0 || p > maxPort {
		return 0, fmt.Errorf("invalid port %q: want an integer in 0-%d", s, maxPort)
	}
	return p, nil
}

// run dispatches the command and maps the outcome to a process exit code.
func run(port int, args []string, verbose bool) int {
	logger, err := newLogger(verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: building logger: %v\n", canonicalName, err)
		return 1
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	c := client.New(port, client.WithLogger(sugar))
	code, err := c.Run(args)
	if err != nil {
		if errors.Is(err, client.ErrStatusUnavailable) {
			// Historical wire behavior: exit 42 when the daemon reported
			// nothing. Loud here instead of silent, since it can mask the
			// real outcome.
			sugar.Warnw("daemon reported no exit status", "fallback", code)
			return int(code)
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", canonicalName, err)
		return 1
	}
	return int(code)
}

// newLogger keeps quiet by default; the client's flow tracing is all
// debug-level.
func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	return cfg.Build()
}
