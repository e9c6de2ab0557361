package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/runlock/internal/exitcode"
	"github.com/psantana5/runlock/internal/lockfile"
	"github.com/psantana5/runlock/internal/logging"
	"github.com/psantana5/runlock/internal/relay"
	"github.com/psantana5/runlock/internal/wrapper"
)

// Version of runlock
const Version = "0.3.0"

const envPrefix = "RUNLOCK"

// NewRootCmd builds the runlock command. Flags, RUNLOCK_* environment
// variables and an optional YAML config file are layered through viper, in
// that order of precedence.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "runlock [flags] <command> [args...]",
		Short: "Run a command at most once per interval",
		Long: `runlock ` + Version + `

Runs a command only if it is due, and never twice concurrently.

A run is due when --timestamp is not older than the lock file's modification
time (the end of the last successful run). The lock file is created on first
use with its times set to --timestamp, and truncated after the command exits 0.
While the command runs, runlock holds an exclusive lock on the file, forwards
signals to the command's process group and sends --signal on timeout.

Exit status:
  0        command succeeded
  1-127    command's exit status
  128+N    command was terminated by signal N
  111      runlock failed (lock held, file or process error)
  121      run not due

Example:
  runlock -t $(date -d '1 hour ago' +%s) -f /var/lock/backup.lock -- backup.sh
  runlock -t $(date -d '1 day ago' +%s) -T 3600 -s KILL -- reindex --full`,
		Version:       Version,
		Args:          cobra.MinimumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, v, args)
		},
	}

	flags := root.Flags()
	// everything after the command belongs to the command
	flags.SetInterspersed(false)

	flags.Int64P("timestamp", "t", 0, "run only if the lock file is not newer than this unix time (1-4294967295)")
	flags.StringP("file", "f", lockfile.DefaultPath, "lock file path")
	flags.Int64P("timeout", "T", 0, "seconds before sending --signal (0: time since --timestamp, <0: never)")
	flags.StringP("signal", "s", "15", "signal sent on timeout, by number or name")
	flags.BoolP("dryrun", "n", false, "decide only: do not lock, run or reset")
	flags.BoolP("print", "P", false, "print the seconds between timestamp and lock file mtime")
	flags.CountP("verbose", "v", "increase verbosity (repeatable)")
	flags.String("metrics-file", "", "write run metrics to this Prometheus textfile")
	flags.String("log-format", "text", "log format: text or json")
	flags.String("config", "", "YAML config file")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return Run(os.Args[1:], os.Stdout, os.Stderr)
}

// Run executes runlock with args. stdout receives only the --print delta.
func Run(args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return exitcode.OK
	}

	var coded *exitcode.Error
	if errors.As(err, &coded) {
		if coded.Err != nil {
			fmt.Fprintf(stderr, "runlock: %v\n", coded.Err)
		}
		return coded.Code
	}

	fmt.Fprintf(stderr, "runlock: %v\n", err)
	fmt.Fprint(stderr, root.UsageString())
	return exitcode.Usage
}

func runCommand(cmd *cobra.Command, v *viper.Viper, args []string) error {
	req, verbosity, format, err := loadRequest(v, args)
	if err != nil {
		return err
	}

	jsonFormat, err := logging.ParseFormat(format)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(logging.FromVerbosity(verbosity), jsonFormat)
	logger.SetOutput(cmd.ErrOrStderr())

	code := wrapper.NewRunner(logger, cmd.OutOrStdout()).Run(context.Background(), req)
	if code != exitcode.OK {
		return &exitcode.Error{Code: code}
	}
	return nil
}

// loadRequest resolves the layered configuration into a run request.
func loadRequest(v *viper.Viper, args []string) (wrapper.Request, int, string, error) {
	var req wrapper.Request

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return req, 0, "", fmt.Errorf("read config %s: %w", path, err)
		}
	}

	ts, err := intSetting(v, "timestamp")
	if err != nil {
		return req, 0, "", err
	}
	if v.IsSet("timestamp") && (ts < 1 || ts > math.MaxUint32) {
		return req, 0, "", fmt.Errorf("invalid timestamp %q: must be 1-%d", v.GetString("timestamp"), uint32(math.MaxUint32))
	}

	timeout, err := intSetting(v, "timeout")
	if err != nil {
		return req, 0, "", err
	}
	if timeout < math.MinInt32 || timeout > math.MaxInt32 {
		return req, 0, "", fmt.Errorf("invalid timeout %d", timeout)
	}

	verbose, err := intSetting(v, "verbose")
	if err != nil {
		return req, 0, "", err
	}
	dryRun, err := boolSetting(v, "dryrun")
	if err != nil {
		return req, 0, "", err
	}
	printDelta, err := boolSetting(v, "print")
	if err != nil {
		return req, 0, "", err
	}

	sig, err := relay.ParseSignal(v.GetString("signal"))
	if err != nil {
		return req, 0, "", err
	}

	file := v.GetString("file")
	if file == "" {
		file = lockfile.DefaultPath
	}

	req = wrapper.Request{
		LockPath:      file,
		Threshold:     uint32(ts),
		Timeout:       int32(timeout),
		TimeoutSignal: sig,
		DryRun:        dryRun,
		Print:         printDelta,
		Command:       args[0],
		Args:          args[1:],
		MetricsFile:   v.GetString("metrics-file"),
	}
	return req, int(verbose), v.GetString("log-format"), nil
}

// intSetting and boolSetting reject values viper would quietly turn into
// zero, such as RUNLOCK_TIMEOUT=abc.
func intSetting(v *viper.Viper, key string) (int64, error) {
	n, err := cast.ToInt64E(v.Get(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, v.GetString(key))
	}
	return n, nil
}

func boolSetting(v *viper.Viper, key string) (bool, error) {
	b, err := cast.ToBoolE(v.Get(key))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q", key, v.GetString(key))
	}
	return b, nil
}
