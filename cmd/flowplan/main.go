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
	"syscall"

	"github.com/rendis/flowplan/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// errReported means the command already wrote its failure to the user.
var errReported = errors.New("reported")

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

func commandTable() map[string]command {
	return map[string]command{
		"build":    {"build a plan from a step document", runBuild},
		"validate": {"check a step document and report every issue", runValidate},
		"compile":  {"compile patterns into canonical plans", runCompile},
		"waves":    {"print the execution waves of a plan", runWaves},
		"export":   {"render a plan as json, dot, mermaid, ascii, png or svg", runExport},
		"diff":     {"compare two plans", runDiff},
		"run":      {"walk a step document with the echo runner", runRun},
		"plans":    {"list stored plans", runPlans},
		"runs":     {"list stored runs or show one run", runRuns},
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	name := args[0]
	switch name {
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	case "version", "--version":
		printVersion(stdout)
		return 0
	}

	cmd, ok := commandTable()[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		usage(stderr)
		return 2
	}

	a := &app{cfg: loadConfig(), stdout: stdout, stderr: stderr}
	if err := cmd.run(ctx, a, args[1:]); err != nil {
		switch {
		case errors.Is(err, flag.ErrHelp):
			return 0
		case errors.Is(err, errReported):
			return 1
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: flowplan <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	table := commandTable()
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-9s %s\n", name, table[name].summary)
	}
	fmt.Fprintf(w, "  %-9s %s\n", "version", "print the build version")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "settings: %s (overridden by FLOWPLAN_* env vars and flags)\n", settingsPath())
}

// app carries per-invocation configuration and output streams.
type app struct {
	cfg    Config
	stdout io.Writer
	stderr io.Writer
}

// flagSet returns a FlagSet with the flags every command shares. Flag
// defaults come from the loaded config, so flags take priority.
func (a *app) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&a.cfg.LogFormat, "log-format", a.cfg.LogFormat, "log format: text or json")
	return fs
}

func (a *app) dbFlag(fs *flag.FlagSet) {
	fs.StringVar(&a.cfg.DBPath, "db", a.cfg.DBPath, "libSQL database path")
}

func (a *app) engineFlag(fs *flag.FlagSet) {
	fs.StringVar(&a.cfg.GuardEngine, "engine", a.cfg.GuardEngine, "guard expression engine: cel or expr")
}

func (a *app) logger() *slog.Logger {
	return logging.New(a.stderr, a.cfg.LogLevel, a.cfg.LogFormat)
}
