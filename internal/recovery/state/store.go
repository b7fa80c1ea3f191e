package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store persists a single checkpoint file and its failure record
// (<path>.failure.json).
//
// All writes are atomic and durable (file sync + atomic rename + dir sync),
// so a crash mid-write leaves the previous checkpoint intact.
type Store struct {
	path string
}

func NewStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("checkpoint path is required")
	}
	return &Store{path: filepath.Clean(path)}, nil
}

// Path returns the checkpoint file path.
func (s *Store) Path() string { return s.path }

func (s *Store) failurePath() string { return s.path + ".failure.json" }

// Save validates cp and atomically replaces the checkpoint file.
func (s *Store) Save(cp Checkpoint) error {
	if s == nil {
		return errors.New("nil Store")
	}
	if cp.SchemaVersion != SchemaVersion {
		return fmt.Errorf("invalid checkpoint: schema_version %d", cp.SchemaVersion)
	}
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}
	data, err := jsonMarshalStable(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := writeFileAtomicDurable(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Load reads and validates the checkpoint.
//
// Errors:
//   - missing file: ErrNotFound
//   - unknown schema_version: *UnsupportedSchemaError
//   - undecodable or structurally invalid: *CorruptCheckpointError
func (s *Store) Load() (Checkpoint, error) {
	if s == nil {
		return Checkpoint{}, errors.New("nil Store")
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, fmt.Errorf("%w: %s", ErrNotFound, s.path)
		}
		return Checkpoint{}, err
	}

	var header struct {
		SchemaVersion *int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return Checkpoint{}, &CorruptCheckpointError{Path: s.path, Cause: err}
	}
	if header.SchemaVersion == nil {
		return Checkpoint{}, &CorruptCheckpointError{Path: s.path, Cause: errors.New("schema_version is required")}
	}
	if *header.SchemaVersion != SchemaVersion {
		return Checkpoint{}, &UnsupportedSchemaError{Path: s.path, Version: *header.SchemaVersion}
	}

	var cp Checkpoint
	if err := decodeJSONStrict(bytes.NewReader(data), &cp); err != nil {
		return Checkpoint{}, &CorruptCheckpointError{Path: s.path, Cause: err}
	}
	if err := cp.Validate(); err != nil {
		return Checkpoint{}, &CorruptCheckpointError{Path: s.path, Cause: err}
	}
	return cp, nil
}

// Remove deletes the checkpoint and its failure record. Missing files are
// not an error.
func (s *Store) Remove() error {
	var errs []error
	for _, p := range []string{s.path, s.failurePath()} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) SaveFailure(failure Failure) error {
	if err := failure.Validate(); err != nil {
		return fmt.Errorf("invalid failure: %w", err)
	}
	data, err := jsonMarshalStable(failure)
	if err != nil {
		return fmt.Errorf("marshal failure: %w", err)
	}
	if err := writeFileAtomicDurable(s.failurePath(), data, 0o644); err != nil {
		return fmt.Errorf("write failure: %w", err)
	}
	return nil
}

func (s *Store) LoadFailure() (Failure, error) {
	var failure Failure
	f, err := os.Open(s.failurePath())
	if err != nil {
		return Failure{}, err
	}
	defer f.Close()
	if err := decodeJSONStrict(f, &failure); err != nil {
		return Failure{}, err
	}
	if err := failure.Validate(); err != nil {
		return Failure{}, fmt.Errorf("invalid failure on disk: %w", err)
	}
	return failure, nil
}

func jsonMarshalStable(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func decodeJSONStrict(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure no trailing junk.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
