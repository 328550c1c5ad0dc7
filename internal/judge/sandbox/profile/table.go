package profile

import (
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

// Table resolves languages to their specs.
type Table struct {
	languages map[model.Language]LanguageSpec
}

// NewTable builds a table from the builtin rows with overrides applied field by field.
// Override rows for unknown languages are rejected.
func NewTable(overrides []LanguageSpec) (*Table, error) {
	langs := make(map[model.Language]LanguageSpec)
	for _, lang := range Builtin() {
		langs[lang.ID] = lang
	}
	for _, override := range overrides {
		id, ok := model.ParseLanguage(string(override.ID))
		if !ok {
			return nil, appErr.Newf(appErr.LanguageNotSupported, "language not supported: %s", override.ID)
		}
		langs[id] = merge(langs[id], override)
	}
	for id, lang := range langs {
		if lang.SourceFile == "" || lang.RunCmdTpl == "" {
			return nil, appErr.Newf(appErr.InvalidParams, "language %s needs sourceFile and runCmd", id)
		}
		if lang.CompileEnabled && lang.CompileCmdTpl == "" {
			return nil, appErr.Newf(appErr.InvalidParams, "language %s needs compileCmd", id)
		}
	}
	return &Table{languages: langs}, nil
}

// Get returns the spec of a language.
func (t *Table) Get(id model.Language) (LanguageSpec, error) {
	lang, ok := t.languages[id]
	if !ok {
		return LanguageSpec{}, appErr.Newf(appErr.LanguageNotSupported, "language not supported: %s", id)
	}
	return lang, nil
}

func merge(base, override LanguageSpec) LanguageSpec {
	if override.SourceFile != "" {
		base.SourceFile = override.SourceFile
	}
	if override.BinaryFile != "" {
		base.BinaryFile = override.BinaryFile
	}
	if override.CompileCmdTpl != "" {
		base.CompileCmdTpl = override.CompileCmdTpl
		base.CompileEnabled = true
	}
	if override.RunCmdTpl != "" {
		base.RunCmdTpl = override.RunCmdTpl
	}
	if len(override.Env) > 0 {
		base.Env = override.Env
	}
	if override.TimeMultiplier > 0 {
		base.TimeMultiplier = override.TimeMultiplier
	}
	if override.MemoryMultiplier > 0 {
		base.MemoryMultiplier = override.MemoryMultiplier
	}
	if override.TimeLimitMs > 0 {
		base.TimeLimitMs = override.TimeLimitMs
	}
	if override.MemoryLimitKB > 0 {
		base.MemoryLimitKB = override.MemoryLimitKB
	}
	return base
}
