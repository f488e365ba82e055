package sandbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseMetaFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "meta")
	content := "time:0.123\ntime-wall:0.456\nmax-rss:2048\nexitcode:0\nstatus:TO\nmessage:Time limit exceeded (wall clock)\n\nmalformed line without colon omitted below\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	meta, err := parseMetaFile(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if meta["time"] != "0.123" || meta["max-rss"] != "2048" {
		t.Fatalf("unexpected meta: %v", meta)
	}
	if meta["message"] != "Time limit exceeded (wall clock)" {
		t.Fatalf("message = %q", meta["message"])
	}
}

func TestMetaToResult(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		meta map[string]string
		want Result
	}{
		{
			name: "clean exit",
			meta: map[string]string{"time": "0.5", "time-wall": "0.6", "max-rss": "1024", "exitcode": "0"},
			want: Result{TimeMS: 500, WallMS: 600, MemoryKB: 1024},
		},
		{
			name: "nonzero exit",
			meta: map[string]string{"status": "RE", "exitcode": "2", "time": "0.1"},
			want: Result{TimeMS: 100, ExitCode: 2},
		},
		{
			name: "cpu timeout",
			meta: map[string]string{"status": "TO", "message": "Time limit exceeded"},
			want: Result{TimedOut: true, ExitCode: -1},
		},
		{
			name: "wall timeout",
			meta: map[string]string{"status": "TO", "message": "Time limit exceeded (wall clock)"},
			want: Result{TimedOut: true, WallTimedOut: true, ExitCode: -1},
		},
		{
			name: "oom signal",
			meta: map[string]string{"status": "SG", "exitsig": "9"},
			want: Result{OOMKilled: true, ExitCode: -1},
		},
		{
			name: "other signal",
			meta: map[string]string{"status": "SG", "exitsig": "11"},
			want: Result{ExitCode: -1},
		},
		{
			name: "internal error",
			meta: map[string]string{"status": "XX"},
			want: Result{ExitCode: -1},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := metaToResult(tc.meta)
			if got.TimeMS != tc.want.TimeMS || got.WallMS != tc.want.WallMS ||
				got.MemoryKB != tc.want.MemoryKB || got.ExitCode != tc.want.ExitCode ||
				got.TimedOut != tc.want.TimedOut || got.WallTimedOut != tc.want.WallTimedOut ||
				got.OOMKilled != tc.want.OOMKilled {
				t.Fatalf("metaToResult = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestBuildIsolateArgs(t *testing.T) {
	t.Parallel()
	r := &IsolateRunner{path: "isolate"}
	args := r.buildArgs(7, "/tmp/meta", Command{
		Args:       []string{"/box/main"},
		StdinPath:  "/work/input.txt",
		CPUTimeMS:  1500,
		WallTimeMS: 3000,
		MemoryKB:   65536,
		Env:        []string{"LANG=C"},
	})

	wantFlags := map[string]bool{
		"--box-id=7":        false,
		"--stdin=input.txt": false,
		"--time=1.500":      false,
		"--wall-time=3.000": false,
		"--mem=65536":       false,
		"--env=LANG=C":      false,
	}
	for _, arg := range args {
		if _, ok := wantFlags[arg]; ok {
			wantFlags[arg] = true
		}
	}
	for flag, seen := range wantFlags {
		if !seen {
			t.Fatalf("flag %s missing from %v", flag, args)
		}
	}
	if args[len(args)-1] != "/box/main" {
		t.Fatalf("program argv must come last: %v", args)
	}
}

func TestReadCapped(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "out")
	if err := os.WriteFile(path, []byte("0123456789"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, truncated := readCapped(path, 4)
	if string(data) != "0123" || !truncated {
		t.Fatalf("got %q truncated=%v", data, truncated)
	}
	data, truncated = readCapped(path, 100)
	if string(data) != "0123456789" || truncated {
		t.Fatalf("got %q truncated=%v", data, truncated)
	}
}

func TestBuildIsolateArgsBoxRelative(t *testing.T) {
	t.Parallel()
	r := &IsolateRunner{path: "isolate"}
	workDir := "/tmp/gavel/task-1"

	compile := r.buildArgs(0, "/tmp/meta", Command{
		Args: []string{"g++", "-O2", "-o", workDir + "/main", workDir + "/main.cpp"},
		Dir:  workDir,
	})
	sep := -1
	for i, arg := range compile {
		if arg == "--" {
			sep = i
			break
		}
	}
	if sep < 0 {
		t.Fatalf("no -- separator in %v", compile)
	}
	got := compile[sep+1:]
	want := []string{"g++", "-O2", "-o", "main", "main.cpp"}
	if len(got) != len(want) {
		t.Fatalf("argv = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("argv[%d] = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}

	run := r.buildArgs(0, "/tmp/meta", Command{
		Args: []string{workDir + "/main"},
		Dir:  workDir,
	})
	if run[len(run)-1] != "./main" {
		t.Fatalf("program path must be box-relative with an explicit ./: %v", run)
	}

	checker := r.buildArgs(0, "/tmp/meta", Command{
		Args: []string{workDir + "/checker", workDir + "/input.txt", workDir + "/answer.txt", workDir + "/output.txt"},
		Dir:  workDir,
	})
	tail := checker[len(checker)-4:]
	for i, want := range []string{"./checker", "input.txt", "answer.txt", "output.txt"} {
		if tail[i] != want {
			t.Fatalf("checker argv[%d] = %q, want %q", i, tail[i], want)
		}
	}
}

func TestBoxRelative(t *testing.T) {
	t.Parallel()
	cases := []struct {
		arg  string
		want string
	}{
		{"/work/main.cpp", "main.cpp"},
		{"/work", "."},
		{"/usr/bin/g++", "/usr/bin/g++"},
		{"/workspace/main", "/workspace/main"},
		{"-O2", "-O2"},
	}
	for _, tc := range cases {
		if got := boxRelative(tc.arg, "/work"); got != tc.want {
			t.Fatalf("boxRelative(%q) = %q, want %q", tc.arg, got, tc.want)
		}
	}
	if got := boxRelative("/work/main", ""); got != "/work/main" {
		t.Fatalf("empty work dir must not rewrite, got %q", got)
	}
}

func TestCollectBox(t *testing.T) {
	t.Parallel()
	boxDir := t.TempDir()
	workDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(boxDir, "main"), []byte("ELF"), 0755); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	if err := os.WriteFile(filepath.Join(boxDir, boxStdoutName), []byte("out"), 0644); err != nil {
		t.Fatalf("write stdout capture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(boxDir, boxStderrName), []byte("err"), 0644); err != nil {
		t.Fatalf("write stderr capture: %v", err)
	}

	if err := collectBox(boxDir, workDir); err != nil {
		t.Fatalf("collectBox: %v", err)
	}

	info, err := os.Stat(filepath.Join(workDir, "main"))
	if err != nil {
		t.Fatalf("binary not collected: %v", err)
	}
	if info.Mode().Perm()&0100 == 0 {
		t.Fatalf("binary lost its exec bit: %v", info.Mode())
	}
	for _, name := range []string{boxStdoutName, boxStderrName} {
		if _, err := os.Stat(filepath.Join(workDir, name)); err == nil {
			t.Fatalf("capture file %s must not be collected", name)
		}
	}

	if err := collectBox(boxDir, ""); err != nil {
		t.Fatalf("empty work dir must be a no-op, got %v", err)
	}
}
