// Package fileutil provides small JSON file I/O helpers shared by the
// configuration and state stores.
package fileutil

import (
	"encoding/json"
	"fmt"
	"os"
)

// ReadJSON reads a JSON file and unmarshals it into v, which must be a
// pointer. The raw os error is returned on read failure so callers can
// check os.IsNotExist.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse JSON in %s: %w", path, err)
	}
	return nil
}

// WriteJSON writes v to path as indented JSON. No atomicity guarantees;
// use WriteJSONAtomic for state that must never be observed half-written.
func WriteJSON(path string, v any, perm os.FileMode) error {
	data, err := marshalIndented(v)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// WriteJSONAtomic writes v to path atomically: the JSON is written to a
// temporary sibling file, synced, then renamed over the target. Readers
// see either the old content or the new content, never a partial write.
func WriteJSONAtomic(path string, v any, perm os.FileMode) error {
	data, err := marshalIndented(v)
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	// Sync so the rename cannot land before the data does.
	if f, err := os.Open(tmpPath); err == nil {
		_ = f.Sync()
		f.Close()
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

func marshalIndented(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}
