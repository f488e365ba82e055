package pipeline

import (
	"math"
	"path/filepath"
	"strings"

	appErr "gavel/pkg/errors"

	"github.com/google/shlex"
)

// LanguageProfile describes how to build and run one language. Command
// templates use {src} and {bin} placeholders expanded against the work
// directory.
type LanguageProfile struct {
	ID            string
	SourceFile    string
	BinaryFile    string
	CompileCmdTpl string
	RunCmdTpl     string
	Env           []string

	CompileEnabled   bool
	TimeMultiplier   float64
	MemoryMultiplier float64
}

// builtinProfiles covers the supported languages. Interpreted languages get
// relaxed multipliers so problem limits calibrated for C++ stay fair.
var builtinProfiles = map[string]LanguageProfile{
	"cpp": {
		ID:             "cpp",
		SourceFile:     "main.cpp",
		BinaryFile:     "main",
		CompileCmdTpl:  "g++ -O2 -std=c++17 -o {bin} {src}",
		RunCmdTpl:      "{bin}",
		CompileEnabled: true,
	},
	"c": {
		ID:             "c",
		SourceFile:     "main.c",
		BinaryFile:     "main",
		CompileCmdTpl:  "gcc -O2 -std=c11 -o {bin} {src}",
		RunCmdTpl:      "{bin}",
		CompileEnabled: true,
	},
	"go": {
		ID:             "go",
		SourceFile:     "main.go",
		BinaryFile:     "main",
		CompileCmdTpl:  "go build -o {bin} {src}",
		RunCmdTpl:      "{bin}",
		Env:            []string{"GOCACHE=/tmp/gocache", "CGO_ENABLED=0"},
		CompileEnabled: true,
		TimeMultiplier: 1.5,
	},
	"java": {
		ID:               "java",
		SourceFile:       "Main.java",
		BinaryFile:       "Main",
		CompileCmdTpl:    "javac {src}",
		RunCmdTpl:        "java -cp . Main",
		CompileEnabled:   true,
		TimeMultiplier:   2,
		MemoryMultiplier: 2,
	},
	"python": {
		ID:               "python",
		SourceFile:       "main.py",
		RunCmdTpl:        "python3 {src}",
		TimeMultiplier:   3,
		MemoryMultiplier: 2,
	},
}

// ProfileOverride adjusts one language profile from worker config. Zero
// fields keep the builtin value; an unknown language id defines a new
// profile from scratch.
type ProfileOverride struct {
	SourceFile       string
	BinaryFile       string
	CompileCmd       string
	RunCmd           string
	Env              []string
	TimeMultiplier   float64
	MemoryMultiplier float64
}

// buildProfiles copies the builtin table and applies overrides onto it.
func buildProfiles(overrides map[string]ProfileOverride) map[string]LanguageProfile {
	profiles := make(map[string]LanguageProfile, len(builtinProfiles))
	for id, profile := range builtinProfiles {
		profiles[id] = profile
	}
	for id, o := range overrides {
		id = strings.ToLower(id)
		profile, ok := profiles[id]
		if !ok {
			profile = LanguageProfile{ID: id}
		}
		if o.SourceFile != "" {
			profile.SourceFile = o.SourceFile
		}
		if o.BinaryFile != "" {
			profile.BinaryFile = o.BinaryFile
		}
		if o.CompileCmd != "" {
			profile.CompileCmdTpl = o.CompileCmd
			profile.CompileEnabled = true
		}
		if o.RunCmd != "" {
			profile.RunCmdTpl = o.RunCmd
		}
		if len(o.Env) > 0 {
			profile.Env = o.Env
		}
		if o.TimeMultiplier > 0 {
			profile.TimeMultiplier = o.TimeMultiplier
		}
		if o.MemoryMultiplier > 0 {
			profile.MemoryMultiplier = o.MemoryMultiplier
		}
		profiles[id] = profile
	}
	return profiles
}

// profileFor resolves a language id against a profile table.
func profileFor(profiles map[string]LanguageProfile, language string) (LanguageProfile, error) {
	profile, ok := profiles[strings.ToLower(language)]
	if !ok {
		return LanguageProfile{}, appErr.Newf(appErr.LanguageNotSupported, "language %q", language)
	}
	return profile, nil
}

// buildCommand expands a template into argv.
func buildCommand(tpl string, workDir string, profile LanguageProfile) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	expanded := tpl
	expanded = strings.ReplaceAll(expanded, "{src}", filepath.Join(workDir, profile.SourceFile))
	expanded = strings.ReplaceAll(expanded, "{bin}", filepath.Join(workDir, profile.BinaryFile))
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return fields, nil
}

// scaleLimit applies a language multiplier to a limit.
func scaleLimit(value int64, multiplier float64) int64 {
	if value <= 0 {
		return 0
	}
	if multiplier <= 0 {
		return value
	}
	return int64(math.Ceil(float64(value) * multiplier))
}
