// Package profile holds the per-language compile and run table.
package profile

import "codejudge/internal/judge/model"

// LanguageSpec is one row of the language table.
//
// Command templates accept {src}, {bin} and {memMB} placeholders and are split
// with shell quoting rules. TimeLimitMs and MemoryLimitKB override the global
// defaults for problems that set no limit of their own.
type LanguageSpec struct {
	ID               model.Language `yaml:"id"`
	SourceFile       string         `yaml:"sourceFile"`
	BinaryFile       string         `yaml:"binaryFile"`
	CompileEnabled   bool           `yaml:"compileEnabled"`
	CompileCmdTpl    string         `yaml:"compileCmd"`
	RunCmdTpl        string         `yaml:"runCmd"`
	Env              []string       `yaml:"env"`
	TimeMultiplier   float64        `yaml:"timeMultiplier"`
	MemoryMultiplier float64        `yaml:"memoryMultiplier"`
	TimeLimitMs      int64          `yaml:"timeLimitMs"`
	MemoryLimitKB    int64          `yaml:"memoryLimitKb"`
}

const defaultPathEnv = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// Builtin returns the default table for every supported language.
func Builtin() []LanguageSpec {
	return []LanguageSpec{
		{
			ID:             model.LanguageC,
			SourceFile:     "main.c",
			BinaryFile:     "main",
			CompileEnabled: true,
			CompileCmdTpl:  "gcc -O2 -std=c11 -o {bin} {src} -lm",
			RunCmdTpl:      "{bin}",
			Env:            []string{defaultPathEnv},
		},
		{
			ID:             model.LanguageCPP,
			SourceFile:     "main.cpp",
			BinaryFile:     "main",
			CompileEnabled: true,
			CompileCmdTpl:  "g++ -O2 -std=c++17 -o {bin} {src}",
			RunCmdTpl:      "{bin}",
			Env:            []string{defaultPathEnv},
		},
		{
			ID:               model.LanguageJava,
			SourceFile:       "Main.java",
			BinaryFile:       "Main.class",
			CompileEnabled:   true,
			CompileCmdTpl:    "javac -encoding UTF-8 -d . {src}",
			RunCmdTpl:        "java -Xmx{memMB}m -Xss64m -XX:+UseSerialGC -cp . Main",
			Env:              []string{defaultPathEnv},
			TimeMultiplier:   2,
			MemoryMultiplier: 2,
		},
		{
			ID:             model.LanguageJavaScript,
			SourceFile:     "main.js",
			RunCmdTpl:      "node {src}",
			Env:            []string{defaultPathEnv},
			TimeMultiplier: 1.5,
		},
		{
			ID:             model.LanguagePython,
			SourceFile:     "main.py",
			RunCmdTpl:      "python3 -S {src}",
			Env:            []string{defaultPathEnv, "PYTHONIOENCODING=utf-8"},
			TimeMultiplier: 2,
		},
	}
}
