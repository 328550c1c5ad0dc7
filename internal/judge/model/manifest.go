package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// ManifestFileName is the manifest entry inside a data pack.
const ManifestFileName = "manifest.json"

// Manifest defines the test case bundle layout.
type Manifest struct {
	ProblemID string         `json:"problemId"`
	Version   int32          `json:"version"`
	Tests     []ManifestTest `json:"tests"`
}

// ManifestTest describes one test case; paths are relative to the pack root.
type ManifestTest struct {
	InputPath     string `json:"input"`
	OutputPath    string `json:"output"`
	Hidden        bool   `json:"hidden"`
	TimeLimitMs   int64  `json:"timeLimitMs"`
	MemoryLimitKB int64  `json:"memoryLimitKb"`
}

// LoadManifest parses manifest.json.
func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest failed: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest failed: %w", err)
	}
	return m, nil
}
