package cache

import (
	"context"
	"os"
	"path/filepath"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

// MetaSource resolves problem metadata.
type MetaSource interface {
	GetMeta(ctx context.Context, problemID string) (model.ProblemMeta, error)
}

// TestCaseLoader reads a problem's test cases from its cached data pack.
type TestCaseLoader struct {
	problems MetaSource
	packs    *DataPackCache
}

// NewTestCaseLoader creates a loader.
func NewTestCaseLoader(problems MetaSource, packs *DataPackCache) *TestCaseLoader {
	return &TestCaseLoader{problems: problems, packs: packs}
}

// LoadTestCases returns the problem's test cases in manifest order.
func (l *TestCaseLoader) LoadTestCases(ctx context.Context, problemID string) (model.TestSet, error) {
	meta, err := l.problems.GetMeta(ctx, problemID)
	if err != nil {
		return model.TestSet{}, err
	}
	root, err := l.packs.Get(ctx, meta)
	if err != nil {
		return model.TestSet{}, err
	}
	manifest, err := model.LoadManifest(filepath.Join(root, model.ManifestFileName))
	if err != nil {
		return model.TestSet{}, appErr.Wrap(err, appErr.CacheError)
	}
	if manifest.ProblemID != "" && manifest.ProblemID != meta.ProblemID {
		return model.TestSet{}, appErr.Newf(appErr.CacheError,
			"manifest belongs to problem %s, expected %s", manifest.ProblemID, meta.ProblemID)
	}

	set := model.TestSet{
		ProblemID:     meta.ProblemID,
		Version:       meta.Version,
		TimeLimitMs:   meta.TimeLimitMs,
		MemoryLimitKB: meta.MemoryLimitKB,
		Tests:         make([]model.TestCase, 0, len(manifest.Tests)),
	}
	for i, mt := range manifest.Tests {
		input, err := readPackFile(root, mt.InputPath)
		if err != nil {
			return model.TestSet{}, err
		}
		expected, err := readPackFile(root, mt.OutputPath)
		if err != nil {
			return model.TestSet{}, err
		}
		set.Tests = append(set.Tests, model.TestCase{
			Index:         i,
			Input:         input,
			Expected:      expected,
			Hidden:        mt.Hidden,
			TimeLimitMs:   mt.TimeLimitMs,
			MemoryLimitKB: mt.MemoryLimitKB,
		})
	}
	return set, nil
}

func readPackFile(root, name string) (string, error) {
	path, err := resolveInDir(root, name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.CacheError, "read test file %s failed", name)
	}
	return string(data), nil
}
