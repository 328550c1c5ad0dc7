package runner

import (
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"codejudge/internal/judge/sandbox/profile"
	appErr "codejudge/pkg/errors"

	"github.com/google/shlex"
)

func buildCommand(tpl string, lang profile.LanguageSpec, dir string, memoryKB int64) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	expanded := tpl
	expanded = strings.ReplaceAll(expanded, "{src}", filepath.Join(dir, lang.SourceFile))
	if lang.BinaryFile != "" {
		expanded = strings.ReplaceAll(expanded, "{bin}", filepath.Join(dir, lang.BinaryFile))
	}
	if strings.Contains(expanded, "{memMB}") {
		memMB := (memoryKB + 1023) / 1024
		if memMB <= 0 {
			memMB = 256
		}
		expanded = strings.ReplaceAll(expanded, "{memMB}", strconv.FormatInt(memMB, 10))
	}
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return fields, nil
}

func scaleLimit(value int64, multiplier float64) int64 {
	if value <= 0 {
		return 0
	}
	if multiplier <= 0 {
		return value
	}
	return int64(math.Ceil(float64(value) * multiplier))
}
