package pipeline

import (
	"strings"
	"testing"
)

func TestOutputsMatch(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		got  string
		want string
		ok   bool
	}{
		{"identical", "1 2 3\n", "1 2 3\n", true},
		{"trailing spaces ignored", "1 2 3   \n", "1 2 3\n", true},
		{"trailing tabs ignored", "ok\t\t\n", "ok\n", true},
		{"crlf normalized", "a\r\nb\r\n", "a\nb\n", true},
		{"missing final newline", "a\nb", "a\nb\n", true},
		{"extra blank lines at end", "a\nb\n\n\n", "a\nb", true},
		{"leading spaces matter", "  a\n", "a\n", false},
		{"interior blank line matters", "a\n\nb\n", "a\nb\n", false},
		{"different content", "1 2 4\n", "1 2 3\n", false},
		{"line count differs", "a\nb\nc\n", "a\nb\n", false},
		{"both empty", "", "", true},
		{"whitespace-only versus empty", "   \n\n", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := outputsMatch([]byte(tc.got), []byte(tc.want))
			if err != nil {
				t.Fatalf("outputsMatch(%q, %q): %v", tc.got, tc.want, err)
			}
			if got != tc.ok {
				t.Fatalf("outputsMatch(%q, %q) = %v, want %v", tc.got, tc.want, got, tc.ok)
			}
		})
	}
}

func TestOutputsMatchOverlongLine(t *testing.T) {
	t.Parallel()
	long := []byte(strings.Repeat("x", 2<<20) + "\n")

	if _, err := outputsMatch(long, []byte("x\n")); err == nil {
		t.Fatal("overlong program output must error, not silently truncate")
	}
	if _, err := outputsMatch([]byte("x\n"), long); err == nil {
		t.Fatal("overlong answer must error, not silently truncate")
	}
}

func TestBuildCommand(t *testing.T) {
	t.Parallel()
	profile := builtinProfiles["cpp"]
	args, err := buildCommand(profile.CompileCmdTpl, "/work", profile)
	if err != nil {
		t.Fatalf("buildCommand: %v", err)
	}
	want := []string{"g++", "-O2", "-std=c++17", "-o", "/work/main", "/work/main.cpp"}
	if len(args) != len(want) {
		t.Fatalf("argv = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("argv[%d] = %q, want %q", i, args[i], want[i])
		}
	}

	if _, err := buildCommand("   ", "/work", profile); err == nil {
		t.Fatalf("blank template must fail")
	}
}

func TestScaleLimit(t *testing.T) {
	t.Parallel()
	cases := []struct {
		value      int64
		multiplier float64
		want       int64
	}{
		{1000, 0, 1000},
		{1000, 1.5, 1500},
		{1000, 3, 3000},
		{999, 1.5, 1499},
		{0, 2, 0},
	}
	for _, tc := range cases {
		if got := scaleLimit(tc.value, tc.multiplier); got != tc.want {
			t.Fatalf("scaleLimit(%d, %v) = %d, want %d", tc.value, tc.multiplier, got, tc.want)
		}
	}
}

func TestProfileFor(t *testing.T) {
	t.Parallel()
	profiles := buildProfiles(nil)
	for _, lang := range []string{"cpp", "c", "go", "java", "python", "CPP"} {
		if _, err := profileFor(profiles, lang); err != nil {
			t.Fatalf("profileFor(%q): %v", lang, err)
		}
	}
	if _, err := profileFor(profiles, "brainfuck"); err == nil {
		t.Fatalf("unknown language must fail")
	}
}

func TestBuildProfilesOverrides(t *testing.T) {
	t.Parallel()
	profiles := buildProfiles(map[string]ProfileOverride{
		"cpp": {
			CompileCmd:     "g++ -O3 -std=c++20 -o {bin} {src}",
			TimeMultiplier: 1.2,
		},
		"rust": {
			SourceFile: "main.rs",
			BinaryFile: "main",
			CompileCmd: "rustc -O -o {bin} {src}",
			RunCmd:     "{bin}",
		},
	})

	cpp, err := profileFor(profiles, "cpp")
	if err != nil {
		t.Fatalf("profileFor(cpp): %v", err)
	}
	if cpp.CompileCmdTpl != "g++ -O3 -std=c++20 -o {bin} {src}" {
		t.Fatalf("compile template not overridden: %q", cpp.CompileCmdTpl)
	}
	if cpp.TimeMultiplier != 1.2 {
		t.Fatalf("time multiplier = %v, want 1.2", cpp.TimeMultiplier)
	}
	if cpp.SourceFile != "main.cpp" {
		t.Fatalf("untouched field changed: %q", cpp.SourceFile)
	}

	rust, err := profileFor(profiles, "rust")
	if err != nil {
		t.Fatalf("profileFor(rust): %v", err)
	}
	if !rust.CompileEnabled || rust.RunCmdTpl != "{bin}" {
		t.Fatalf("new language profile incomplete: %+v", rust)
	}

	if _, err := profileFor(buildProfiles(nil), "rust"); err == nil {
		t.Fatal("builtin table must not know rust")
	}
}
