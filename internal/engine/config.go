package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"pidigits/internal/arena"
	"pidigits/internal/dag"
	"pidigits/internal/digits"
	"pidigits/internal/recovery/state"
	"pidigits/internal/series"
)

const (
	// DefaultDigitGuard is the extra decimal precision carried internally.
	DefaultDigitGuard = 10
	// DefaultMaxDigits bounds a single request.
	DefaultMaxDigits = 100_000_000
)

// Duration is a time.Duration that reads and writes Go duration strings
// ("30s", "2m") in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is everything a computation needs besides its collaborators.
//
// Zero fields mean "not set" and are filled from Defaults by Merge, unless
// the file or the command line named them explicitly.
type Config struct {
	Digits int64 `json:"digits,omitempty"`
	// Workers <= 0 means runtime.GOMAXPROCS(0).
	Workers        int   `json:"workers,omitempty"`
	InFlightFactor int   `json:"in_flight_factor,omitempty"`
	Granularity    int64 `json:"granularity,omitempty"`
	TermGuard      int   `json:"term_guard,omitempty"`
	DigitGuard     int   `json:"digit_guard,omitempty"`
	MaxDigits      int64 `json:"max_digits,omitempty"`
	GroupSize      int   `json:"group_size,omitempty"`

	KaratsubaThreshold int `json:"karatsuba_threshold,omitempty"`
	NewtonThreshold    int `json:"newton_threshold,omitempty"`
	MaxLimbs           int `json:"max_limbs,omitempty"`

	// CheckpointPath empty disables checkpointing.
	CheckpointPath        string   `json:"checkpoint_path,omitempty"`
	CheckpointInterval    Duration `json:"checkpoint_interval,omitempty"`
	CheckpointEveryMerges int64    `json:"checkpoint_every_merges,omitempty"`
	ResumeOrFail          bool     `json:"resume_or_fail,omitempty"`
	KeepCheckpoint        bool     `json:"keep_checkpoint,omitempty"`
	VerifyCheckpoint      bool     `json:"verify_checkpoint,omitempty"`
}

// Defaults returns every tunable at its default. Digits is left unset.
func Defaults() Config {
	a := arena.DefaultArena()
	return Config{
		InFlightFactor:     dag.DefaultInFlightFactor,
		Granularity:        dag.DefaultGranularity,
		TermGuard:          series.DefaultTermGuard,
		DigitGuard:         DefaultDigitGuard,
		MaxDigits:          DefaultMaxDigits,
		GroupSize:          digits.DefaultGroupSize,
		KaratsubaThreshold: a.KaratsubaThreshold,
		NewtonThreshold:    a.NewtonThreshold,
		MaxLimbs:           a.MaxLimbs,
		CheckpointInterval: Duration(state.DefaultSaveInterval),
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.MaxDigits < 1 {
		errs = append(errs, fmt.Errorf("max_digits must be >= 1, got %d", c.MaxDigits))
	}
	switch {
	case c.Digits < 1:
		errs = append(errs, fmt.Errorf("digits must be >= 1, got %d", c.Digits))
	case c.MaxDigits >= 1 && c.Digits > c.MaxDigits:
		errs = append(errs, fmt.Errorf("digits %d exceeds max_digits %d", c.Digits, c.MaxDigits))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be >= 0, got %d", c.Workers))
	}
	if c.InFlightFactor < 0 {
		errs = append(errs, fmt.Errorf("in_flight_factor must be >= 0, got %d", c.InFlightFactor))
	}
	if c.Granularity < 1 {
		errs = append(errs, fmt.Errorf("granularity must be >= 1, got %d", c.Granularity))
	}
	if c.TermGuard < 0 {
		errs = append(errs, fmt.Errorf("term_guard must be >= 0, got %d", c.TermGuard))
	}
	if c.DigitGuard < 0 {
		errs = append(errs, fmt.Errorf("digit_guard must be >= 0, got %d", c.DigitGuard))
	}
	if c.GroupSize < 0 {
		errs = append(errs, fmt.Errorf("group_size must be >= 0, got %d", c.GroupSize))
	}
	if c.KaratsubaThreshold < 0 || c.NewtonThreshold < 0 || c.MaxLimbs < 0 {
		errs = append(errs, errors.New("arena thresholds must be >= 0"))
	}
	if c.CheckpointInterval < 0 {
		errs = append(errs, fmt.Errorf("checkpoint_interval must be >= 0, got %s", time.Duration(c.CheckpointInterval)))
	}
	if c.CheckpointEveryMerges < 0 {
		errs = append(errs, fmt.Errorf("checkpoint_every_merges must be >= 0, got %d", c.CheckpointEveryMerges))
	}
	if c.ResumeOrFail && strings.TrimSpace(c.CheckpointPath) == "" {
		errs = append(errs, errors.New("resume_or_fail requires checkpoint_path"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Arena returns the arithmetic configuration.
func (c Config) Arena() arena.Arena {
	return arena.Arena{
		KaratsubaThreshold: c.KaratsubaThreshold,
		NewtonThreshold:    c.NewtonThreshold,
		MaxLimbs:           c.MaxLimbs,
	}
}

// LoadConfigJSON reads a config file. Unknown fields and trailing data are
// rejected.
func LoadConfigJSON(path string) (Config, error) {
	cfg, _, err := LoadConfigFile(path)
	return cfg, err
}

// LoadConfigFile is LoadConfigJSON that also returns the JSON names of the
// fields the file sets, zero values included, for Merge.
func LoadConfigFile(path string) (Config, []string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, nil, fmt.Errorf("read config: %w", err)
	}
	return parseConfig(b)
}

func ParseConfigJSON(b []byte) (Config, error) {
	cfg, _, err := parseConfig(b)
	return cfg, err
}

func parseConfig(b []byte) (Config, []string, error) {
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, nil, fmt.Errorf("parse config json: %w", err)
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return Config{}, nil, errors.New("parse config json: trailing data")
		}
		return Config{}, nil, fmt.Errorf("parse config json: %w", err)
	}

	var present map[string]json.RawMessage
	if err := json.Unmarshal(b, &present); err != nil {
		return Config{}, nil, fmt.Errorf("parse config json: %w", err)
	}
	fields := make([]string, 0, len(present))
	for name := range present {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return cfg, fields, nil
}

// Merge overlays over onto base. A zero field of over means "not set" and
// keeps the base value, unless its JSON name is listed in explicit; that is
// how a deliberate 0 (a zero term guard, say) gets through. Booleans that
// are not explicit can only be switched on.
func Merge(base, over Config, explicit ...string) Config {
	named := make(map[string]bool, len(explicit))
	for _, name := range explicit {
		named[name] = true
	}
	set := func(name string, nonZero bool) bool { return nonZero || named[name] }

	out := base
	if set("digits", over.Digits != 0) {
		out.Digits = over.Digits
	}
	if set("workers", over.Workers != 0) {
		out.Workers = over.Workers
	}
	if set("in_flight_factor", over.InFlightFactor != 0) {
		out.InFlightFactor = over.InFlightFactor
	}
	if set("granularity", over.Granularity != 0) {
		out.Granularity = over.Granularity
	}
	if set("term_guard", over.TermGuard != 0) {
		out.TermGuard = over.TermGuard
	}
	if set("digit_guard", over.DigitGuard != 0) {
		out.DigitGuard = over.DigitGuard
	}
	if set("max_digits", over.MaxDigits != 0) {
		out.MaxDigits = over.MaxDigits
	}
	if set("group_size", over.GroupSize != 0) {
		out.GroupSize = over.GroupSize
	}
	if set("karatsuba_threshold", over.KaratsubaThreshold != 0) {
		out.KaratsubaThreshold = over.KaratsubaThreshold
	}
	if set("newton_threshold", over.NewtonThreshold != 0) {
		out.NewtonThreshold = over.NewtonThreshold
	}
	if set("max_limbs", over.MaxLimbs != 0) {
		out.MaxLimbs = over.MaxLimbs
	}
	if path := strings.TrimSpace(over.CheckpointPath); set("checkpoint_path", path != "") {
		out.CheckpointPath = path
	}
	if set("checkpoint_interval", over.CheckpointInterval != 0) {
		out.CheckpointInterval = over.CheckpointInterval
	}
	if set("checkpoint_every_merges", over.CheckpointEveryMerges != 0) {
		out.CheckpointEveryMerges = over.CheckpointEveryMerges
	}
	mergeBool := func(dst *bool, name string, v bool) {
		if named[name] {
			*dst = v
			return
		}
		*dst = *dst || v
	}
	mergeBool(&out.ResumeOrFail, "resume_or_fail", over.ResumeOrFail)
	mergeBool(&out.KeepCheckpoint, "keep_checkpoint", over.KeepCheckpoint)
	mergeBool(&out.VerifyCheckpoint, "verify_checkpoint", over.VerifyCheckpoint)
	return out
}
