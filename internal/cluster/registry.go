package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultPath is the well-known location of the cluster info document,
// shared by all phases of one job.
const DefaultPath = "/tmp/cluster_info.json"

// ErrMissing indicates no cluster info document exists at the given path.
// Callers should tell the operator to re-run discovery (dlaunch wait).
var ErrMissing = errors.New("cluster info not found")

// CorruptError indicates the document exists but cannot be parsed or fails
// structural validation. A reader never sees a half-written file (writes go
// through a rename), so a corrupt document means something else touched it.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("cluster info at %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// StaleError indicates the document is readable but does not match what the
// caller expects (typically a world-size mismatch after nodes were swapped).
type StaleError struct {
	Path      string
	Expected  int
	WorldSize int
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("cluster info at %s is stale: has world_size %d, expected %d (re-run discovery with: dlaunch wait)",
		e.Path, e.WorldSize, e.Expected)
}

// Path returns the cluster info path: the CLUSTER_INFO_FILE environment
// variable if set, DefaultPath otherwise.
func Path() string {
	if p := os.Getenv("CLUSTER_INFO_FILE"); p != "" {
		return p
	}
	return DefaultPath
}

// Save writes the document atomically: it marshals to a temp file in the
// target directory and renames it into place, so a concurrent reader
// observes either the old document or the new one, never a partial write.
func Save(path string, info *Info) error {
	if err := info.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid cluster info: %w", err)
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cluster info: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create cluster info directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".cluster_info-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cluster info: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename cluster info into place: %w", err)
	}
	return nil
}

// Load reads and validates the document at path. It returns ErrMissing if
// the file does not exist and a *CorruptError if it cannot be parsed or
// fails validation; any returned Info is fully valid.
func Load(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s (run: dlaunch wait)", ErrMissing, path)
		}
		return nil, fmt.Errorf("read cluster info: %w", err)
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	if err := info.Validate(); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	return &info, nil
}

// CheckStale returns a *StaleError if the document's world size does not
// match the externally expected one. Zero means no expectation.
func CheckStale(path string, info *Info, expectedWorldSize int) error {
	if expectedWorldSize > 0 && info.WorldSize != expectedWorldSize {
		return &StaleError{Path: path, Expected: expectedWorldSize, WorldSize: info.WorldSize}
	}
	return nil
}
