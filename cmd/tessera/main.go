// Package main provides the tessera command line tool: it creates, inspects,
// runs and trains feed-forward networks stored in .tsra files over data
// bunches stored in .tsdb files.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
)

const version = "v0.1.0-dev"

// Exit statuses.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var errUsage = errors.New("usage")

type command struct {
	summary string
	run     func(ctx context.Context, env *env, args []string) error
}

var commands = map[string]command{
	"version": {"Show version", runVersion},
	"info":    {"Describe a model file", runInfo},
	"init":    {"Create a model with random weights from a schema description", runInit},
	"run":     {"Compute the outputs of a model over a data bunch", runForward},
	"train":   {"Train a model on a data bunch", runTrain},
	"convert": {"Convert IDX images and labels into a data bunch", runConvert},
}

// env carries the process streams.
type env struct {
	stdout io.Writer
	stderr io.Writer
}

// logger builds a text logger on stderr.
func (e *env) logger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(e.stderr, &slog.HandlerOptions{Level: level}))
}

// flags returns a flag set for a subcommand that reports errors instead of
// exiting.
func (e *env) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("tessera "+name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	e := &env{stdout: stdout, stderr: stderr}
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}
	name := args[0]
	if name == "help" || name == "-h" || name == "--help" {
		usage(stdout)
		return exitOK
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "tessera: unknown command %q\n\n", name)
		usage(stderr)
		return exitUsage
	}

	err := cmd.run(ctx, e, args[1:])
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "tessera %s: %v\n", name, err)
		return exitUsage
	default:
		fmt.Fprintf(stderr, "tessera %s: %v\n", name, err)
		return exitError
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "tessera %s - tensor graph execution for feed-forward networks\n\n", version)
	fmt.Fprintln(w, "Usage: tessera <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-9s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'tessera <command> -h' for the flags of a command.")
}

// parse parses args and checks that every required flag was set.
func parse(fs *flag.FlagSet, args []string, required ...string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected arguments %s", errUsage, strings.Join(fs.Args(), " "))
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	var missing []string
	for _, name := range required {
		if !set[name] {
			missing = append(missing, "-"+name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", errUsage, strings.Join(missing, ", "))
	}
	return nil
}

func runVersion(_ context.Context, e *env, args []string) error {
	if err := parse(e.flags("version"), args); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "tessera %s\n", version)
	return nil
}
