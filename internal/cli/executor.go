package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"pidigits/internal/digits"
	"pidigits/internal/engine"
	"pidigits/internal/progress"
	"pidigits/internal/trace"
)

// builtinReference is the first 100 fractional digits of pi, used by -verify
// when no -reference file is given.
const builtinReference = "3.1415926535897932384626433832795028841971693993751058209749445923078164062862089986280348253421170679"

type CLIResult struct {
	ExitCode int
	Result   *engine.Result
	Verified bool
}

// Execute runs a parsed invocation. Digits go to inv.OutPath or stdout;
// logs and progress go to stderr.
//
// Responsibilities:
//   - Build the logger, progress printer and trace recorder.
//   - Write the output atomically when it goes to a file.
//   - Compare the output against the reference prefix under -verify.
//   - Write the trace file even when the computation fails.
//   - Translate outcomes to exit codes.
func Execute(ctx context.Context, inv Invocation, stdout, stderr io.Writer) (res CLIResult, execErr error) {
	res.ExitCode = ExitInternalError
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: inv.LogLevel}))

	var reference string
	if inv.Verify {
		ref, err := loadReference(inv.ReferencePath)
		if err != nil {
			res.ExitCode = ExitInvalidArgument
			return res, err
		}
		reference = ref
	}

	opts := engine.Options{Logger: log}
	var rec *trace.Recorder
	if inv.TracePath != "" {
		rec = trace.NewRecorder()
		opts.Trace = rec
		defer func() {
			if err := writeTrace(inv.TracePath, rec, res.Result); err != nil {
				log.Warn("cli", "stage", "trace", "err", err)
			}
		}()
	}
	if inv.Progress {
		p := progress.NewPrinter(stderr)
		opts.Progress = p
		defer p.Close()
	}

	eng, err := engine.New(inv.Config, opts)
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}
	result, err := eng.Compute(ctx)
	res.Result = result
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}

	var collected strings.Builder
	emit := func(w io.Writer) error {
		if inv.Verify {
			w = io.MultiWriter(w, &collected)
		}
		bw := bufio.NewWriter(w)
		if _, err := result.Digits.WriteTo(bw); err != nil {
			return err
		}
		if _, err := bw.WriteString("\n"); err != nil {
			return err
		}
		return bw.Flush()
	}
	if inv.OutPath == "" {
		err = emit(stdout)
	} else {
		err = writeFileAtomic(inv.OutPath, 0o644, emit)
	}
	if err != nil {
		res.ExitCode = ExitInternalError
		return res, fmt.Errorf("write output: %w", err)
	}

	if inv.Verify {
		got := strings.TrimSpace(collected.String())
		if !digits.VerifyPrefix(got, reference) {
			res.ExitCode = ExitVerifyMismatch
			return res, ErrVerifyMismatch
		}
		res.Verified = true
		log.Info("cli", "stage", "verify", "reference_len", len(reference))
	}

	res.ExitCode = ExitSuccess
	return res, nil
}

func loadReference(path string) (string, error) {
	if path == "" {
		return builtinReference, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read reference: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return "", fmt.Errorf("reference %s is empty", path)
	}
	return string(b), nil
}

// writeTrace writes the canonical trace. Failed runs still carry the hash of
// the graph they planned; only a run the engine refused to start has none.
func writeTrace(path string, rec *trace.Recorder, result *engine.Result) error {
	if result == nil || result.GraphHash == "" {
		return errors.New("no graph to trace")
	}
	b, err := rec.Trace(string(result.GraphHash)).CanonicalJSON()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create trace dir: %w", err)
	}
	return writeFileAtomic(path, 0o644, func(w io.Writer) error {
		_, err := w.Write(b)
		return err
	})
}

// writeFileAtomic streams into a temp file next to path and renames it into
// place only when fill succeeded.
func writeFileAtomic(path string, perm os.FileMode, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := fill(tmp); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync() // best-effort durability
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
