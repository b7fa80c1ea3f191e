package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"pidigits/internal/arena"
	"pidigits/internal/dag"
	"pidigits/internal/engine"
	"pidigits/internal/recovery/state"
)

const (
	ExitSuccess           = 0
	ExitInvalidArgument   = 1
	ExitCheckpointCorrupt = 2
	ExitOverflow          = 3
	ExitInternalError     = 4
	ExitVerifyMismatch    = 5
	ExitCancelled         = 6
)

// Invocation is the fully resolved description of a run: config file and
// flags merged over the defaults, paths cleaned.
type Invocation struct {
	Config engine.Config

	ConfigPath    string
	OutPath       string // empty means stdout
	ReferencePath string
	TracePath     string
	Verify        bool
	Progress      bool
	LogLevel      slog.Level
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// configFieldOfFlag maps flags to the config fields they set.
var configFieldOfFlag = map[string]string{
	"digits":              "digits",
	"checkpoint":          "checkpoint_path",
	"workers":             "workers",
	"verify":              "verify_checkpoint",
	"resume-or-fail":      "resume_or_fail",
	"keep-checkpoint":     "keep_checkpoint",
	"checkpoint-interval": "checkpoint_interval",
	"checkpoint-every":    "checkpoint_every_merges",
	"term-guard":          "term_guard",
	"digit-guard":         "digit_guard",
	"granularity":         "granularity",
}

// ParseInvocation parses CLI flags into an Invocation.
//
// Precedence: flags over the -config file over engine.Defaults. Environment
// variables are never consulted.
func ParseInvocation(args []string) (Invocation, error) {
	fs := flag.NewFlagSet("pidigits", flag.ContinueOnError)
	fs.SetOutput(io.Discard) // parsing errors are returned, not printed

	var (
		over      engine.Config
		cfgPath   string
		interval  time.Duration
		logLevel  string
		inv       Invocation
		keep      bool
		resumeErr bool
	)
	fs.Int64Var(&over.Digits, "digits", 0, "Number of fractional digits. Required (here or in -config).")
	fs.StringVar(&over.CheckpointPath, "checkpoint", "", "Checkpoint file (optional).")
	fs.IntVar(&over.Workers, "workers", 0, "Worker pool size (default: GOMAXPROCS).")
	fs.BoolVar(&inv.Verify, "verify", false, "Verify the output against a reference prefix and recheck a resumed checkpoint.")
	fs.StringVar(&inv.ReferencePath, "reference", "", "Reference digit prefix file for -verify (default: built-in 100 digits).")
	fs.BoolVar(&resumeErr, "resume-or-fail", false, "Fail instead of restarting when the checkpoint is unusable.")
	fs.BoolVar(&keep, "keep-checkpoint", false, "Keep the checkpoint after output was produced.")
	fs.StringVar(&cfgPath, "config", "", "JSON config file (optional).")
	fs.DurationVar(&interval, "checkpoint-interval", 0, "Wall-clock checkpoint cadence (default 30s).")
	fs.Int64Var(&over.CheckpointEveryMerges, "checkpoint-every", 0, "Also checkpoint every N merges.")
	fs.IntVar(&over.TermGuard, "term-guard", 0, "Extra series terms (default 5; 0 allowed).")
	fs.IntVar(&over.DigitGuard, "digit-guard", 0, "Extra internal decimal digits (default 10; 0 allowed).")
	fs.Int64Var(&over.Granularity, "granularity", 0, "Leaf size in terms (default 16).")
	fs.StringVar(&inv.OutPath, "out", "", "Output file (default stdout).")
	fs.BoolVar(&inv.Progress, "progress", false, "Print progress on stderr.")
	fs.StringVar(&inv.TracePath, "trace", "", "Write the canonical execution trace here (optional).")
	fs.StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")

	if err := fs.Parse(args); err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}
	if fs.NArg() != 0 {
		return Invocation{}, invalidInvocationf("unexpected positional arguments: %q", strings.Join(fs.Args(), " "))
	}

	level, err := parseLevel(logLevel)
	if err != nil {
		return Invocation{}, err
	}
	inv.LogLevel = level

	if interval < 0 {
		return Invocation{}, invalidInvocationf("-checkpoint-interval must not be negative")
	}
	over.CheckpointInterval = engine.Duration(interval)
	over.ResumeOrFail = resumeErr
	over.KeepCheckpoint = keep
	over.VerifyCheckpoint = inv.Verify

	// Flags given on the command line override even with a zero value.
	var explicit []string
	fs.Visit(func(f *flag.Flag) {
		if name, ok := configFieldOfFlag[f.Name]; ok {
			explicit = append(explicit, name)
		}
	})

	cfg := engine.Defaults()
	if strings.TrimSpace(cfgPath) != "" {
		inv.ConfigPath = filepath.Clean(cfgPath)
		fileCfg, fields, err := engine.LoadConfigFile(inv.ConfigPath)
		if err != nil {
			return Invocation{}, invalidInvocationf("-config: %v", err)
		}
		cfg = engine.Merge(cfg, fileCfg, fields...)
	}
	cfg = engine.Merge(cfg, over, explicit...)

	if cfg.CheckpointPath != "" {
		cfg.CheckpointPath = filepath.Clean(cfg.CheckpointPath)
	}
	for _, p := range []*string{&inv.OutPath, &inv.ReferencePath, &inv.TracePath} {
		if strings.TrimSpace(*p) != "" {
			*p = filepath.Clean(*p)
		}
	}
	if inv.ReferencePath != "" && !inv.Verify {
		return Invocation{}, invalidInvocationf("-reference requires -verify")
	}

	if err := cfg.Validate(); err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}
	inv.Config = cfg
	return inv, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, invalidInvocationf("invalid -log-level %q (expected debug|info|warn|error)", s)
	}
}

// ErrVerifyMismatch reports output that disagrees with the reference prefix.
var ErrVerifyMismatch = errors.New("output does not match reference prefix")

// ExitCode maps an error from ParseInvocation or Execute to a process exit
// code. Unknown errors are internal errors.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidArgument
	}
	switch {
	case errors.Is(err, engine.ErrInvalidArgument):
		return ExitInvalidArgument
	case errors.Is(err, arena.ErrOverflow):
		return ExitOverflow
	case errors.Is(err, state.ErrCorrupt), errors.Is(err, state.ErrIneligible):
		return ExitCheckpointCorrupt
	case errors.Is(err, ErrVerifyMismatch):
		return ExitVerifyMismatch
	case errors.Is(err, dag.ErrCancelled):
		return ExitCancelled
	default:
		return ExitInternalError
	}
}
