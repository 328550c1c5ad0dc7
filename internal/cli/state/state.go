package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// TokenState is what the CLI remembers between sessions.
type TokenState struct {
	AccessToken string `json:"access_token,omitempty"`
	// LastSubmission is the id returned by the most recent submit.
	LastSubmission string `json:"last_submission,omitempty"`
}

// Load returns the zero state when path does not exist or is empty.
func Load(path string) (TokenState, error) {
	var st TokenState
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return st, nil
	case err != nil:
		return st, fmt.Errorf("read cli state failed: %w", err)
	case len(data) == 0:
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse cli state %s failed: %w", path, err)
	}
	return st, nil
}

// Save replaces the file via rename so a crash never leaves half a token.
func Save(path string, st TokenState) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create cli state dir failed: %w", err)
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode cli state failed: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("create cli state temp file failed: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write cli state failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cli state failed: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace cli state failed: %w", err)
	}
	return nil
}

func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cli state failed: %w", err)
	}
	return nil
}
