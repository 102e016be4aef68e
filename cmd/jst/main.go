package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"jst/compose"
	"jst/config"
	"jst/misc"
	"jst/state"
	"jst/stitch"
)

// initializeAppContext prepares application context before command execution but
// after command line has been parsed
func initializeAppContext(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	var err error

	env := state.EnvFromContext(ctx)

	configFile := cmd.String("config")
	if env.Cfg, err = config.LoadConfiguration(configFile); err != nil {
		return ctx, fmt.Errorf("unable to prepare configuration: %w", err)
	}
	if cmd.Bool("verbose") {
		env.Cfg.Logging.Verbose()
	}
	if cmd.Bool("debug") {
		if env.Rpt, err = env.Cfg.Reporting.Prepare(); err != nil {
			return ctx, fmt.Errorf("unable to prepare debug reporter: %w", err)
		}
		if data, err := config.Dump(env.Cfg); err == nil {
			name := "config.yaml"
			if len(configFile) > 0 {
				name = filepath.Base(configFile)
			}
			env.Rpt.StoreData("config/"+name, data)
		}
	}
	log, err := env.Cfg.Logging.Prepare(env.Rpt)
	if err != nil {
		return ctx, fmt.Errorf("unable to prepare logs: %w", err)
	}
	env.SetLogger(log)
	env.RedirectStdLog()

	env.Log.Debug("Program started",
		zap.Strings("args", os.Args),
		zap.String("ver", misc.GetVersion()),
		zap.String("runtime", runtime.Version()),
		zap.String("hash", misc.GetGitHash()))

	if env.Rpt != nil {
		env.Log.Info("Creating debug report", zap.String("location", env.Rpt.Name()))
	}
	if len(configFile) == 0 {
		env.Log.Debug("Using defaults (no configuration file)")
	}
	return ctx, nil
}

func destroyAppContext(ctx context.Context, cmd *cli.Command) (err error) {
	env := state.EnvFromContext(ctx)

	if env.Log != nil {
		env.Log.Debug("Program ended", zap.Duration("elapsed", env.Uptime()))
	}

	// close logging
	env.RestoreStdLog()

	// log is synced now and result can be used in report if necessary, errors
	// must be reported directly to stderr from now on
	if env.Rpt != nil {
		if er := env.Rpt.Close(); er != nil {
			err = multierr.Append(err, fmt.Errorf("unable to close debug report: %w", er))
		}
	}
	// reporting is closed now - remove empty panic file if any
	if env.Cfg != nil && len(env.Cfg.Logging.FileLogger.Destination) > 0 {
		debug.SetCrashOutput(nil, debug.CrashOptions{})
		fname := filepath.Join(filepath.Dir(env.Cfg.Logging.FileLogger.Destination), misc.GetAppName()+"-panic.log")
		if fi, er := os.Stat(fname); er == nil && fi.Size() == 0 {
			if er := os.Remove(fname); er != nil {
				err = multierr.Append(err, fmt.Errorf("unable to remove empty panic log file '%s': %w", fname, er))
			}
		}
	}
	return
}

// Errors are returned from action as is and logged here, cli.Exit() is not
// used. Exit code is derived from error in main.
var errWasHandled bool

// this is called before appContext is destroyed, so we have a chance to
// properly log any error from action
func exitErrHandler(ctx context.Context, _ *cli.Command, err error) {
	env := state.EnvFromContext(ctx)

	if env.Log != nil {
		env.Log.Error("Program ended with error", zap.Error(err))
		errWasHandled = true
	}
}

func usageErrorHandler(_ context.Context, _ *cli.Command, err error, _ bool) error {
	// do nothing special, error is reported on exit directly to stderr.
	return err
}

func run(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("dump-config") {
		return outputConfiguration(ctx)
	}
	return compose.Run(ctx, cmd)
}

func outputConfiguration(ctx context.Context) error {
	env := state.EnvFromContext(ctx)

	data, err := config.Dump(env.Cfg)
	if err != nil {
		return fmt.Errorf("unable to get configuration: %w", err)
	}
	env.Log.Debug("Outputing configuration", zap.String("state", "actual"))

	if _, err = os.Stdout.Write(data); err != nil {
		return fmt.Errorf("unable to write configuration: %w", err)
	}
	return nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if kind := stitch.KindOf(err); kind != 0 {
		return kind.ExitCode()
	}
	return 1
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:            misc.GetAppName(),
		Usage:           "assembles single document from tree of JSON/BSON fragment files",
		Version:         misc.GetVersion() + " (" + runtime.Version() + ") : " + misc.GetGitHash(),
		HideHelpCommand: true,
		Before:          initializeAppContext,
		After:           destroyAppContext,
		OnUsageError:    usageErrorHandler,
		ExitErrHandler:  exitErrHandler,
		Action:          run,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "root resource `PATH` without extension (dir/name or archive.zip/dir/name)"},
			&cli.BoolFlag{Name: "base64", Aliases: []string{"b"}, Usage: "encode field names as base64 (URL-safe, no padding) to form file names, root name from --file is used as is"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "print step by step diagnostics to STDERR"},
			&cli.BoolFlag{Name: "pretty", Aliases: []string{"p"}, Usage: "indent output document"},
			&cli.BoolFlag{Name: "links", Aliases: []string{"l"}, Usage: "follow symbolic links to .json/.bson fragments"},
			&cli.BoolFlag{Name: "recursive", Aliases: []string{"r"}, Usage: "inherit inline values for keys without fragments"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "write result to `FILE` instead of STDOUT"},
			&cli.StringFlag{Name: "to", Aliases: []string{"t"},
				Usage: "output `TYPE` (supported types: " + strings.Join(config.OutputFmtNames(), ", ") + ")"},
			&cli.IntFlag{Name: "jobs", Aliases: []string{"j"}, Usage: "resolve up to `N` sibling subtrees concurrently"},
			&cli.BoolFlag{Name: "watch", Aliases: []string{"w"}, Usage: "rebuild output whenever fragments change (requires --output)"},
			&cli.BoolFlag{Name: "no-validate", Usage: "do not validate values against .schema files"},
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, DefaultText: "", Usage: "load configuration from `FILE` (YAML)"},
			&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "changes program behavior to help troubleshooting, produces report archive"},
			&cli.BoolFlag{Name: "dump-config", Usage: "print actual configuration (YAML) and exit"},
		},
		Description: `PATH is the fragment tree location followed by root name without extension:
    "[path_to_directory/]name" - reads name.json, name.bson, name.schema and name/...
    "[path_to_archive]archive.zip[/path_in_archive]/name" - same, inside zip archive

Exit codes: 0 - success, 1 - options or I/O, 2 - conflicting sources,
3 - decoding, 4 - schema validation, 5 - links.`,
	}
}

func main() {

	// interrupt stops watching and lets deferred cleanup run
	ctx, stop := signal.NotifyContext(state.ContextWithEnv(context.Background()), os.Interrupt, syscall.SIGTERM)

	app := newApp()

	var err error
	// NOTE: os.Exit is called at the end of main to set exit code, make sure
	// there are no other deffered functions after that
	defer func() {
		stop()
		if err != nil {
			// It may happen that log is either not set yet (argument parsing) or already closed,
			// report errors to stderr directly
			if !errWasHandled {
				fmt.Fprintf(os.Stderr, "Program ended with error: %v\n", err)
			}
			os.Exit(exitCode(err))
		}
	}()
	err = app.Run(ctx, os.Args)
}
